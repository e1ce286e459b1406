package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/jobtrack/app/backup"
	"github.com/umputun/jobtrack/app/store"
	"github.com/umputun/jobtrack/app/web"
)

var opts struct {
	Listen     string  `short:"l" long:"listen" env:"JOBTRACK_LISTEN" default:":3001" description:"listen address"`
	StaticDir  string  `long:"static" env:"JOBTRACK_STATIC" default:"public" description:"static files directory, empty to disable"`
	WriteLimit float64 `long:"limit" env:"JOBTRACK_LIMIT" default:"10" description:"write requests per second per client, 0 to disable"`
	Dbg        bool    `long:"dbg" env:"JOBTRACK_DEBUG" description:"debug mode"`

	Store struct {
		Type     string        `long:"type" env:"TYPE" default:"json" choice:"json" choice:"sqlite" description:"store type"`
		File     string        `long:"file" env:"FILE" description:"store file, jobs.json or jobs.db by store type if not set"`
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many times to try saving"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"100ms" description:"initial retry delay"`
	} `group:"store" namespace:"store" env-namespace:"JOBTRACK_STORE"`

	Backup struct {
		Enabled  bool   `long:"enabled" env:"ENABLED" description:"enable scheduled backups"`
		Schedule string `long:"schedule" env:"SCHEDULE" default:"@daily" description:"backup cron schedule"`
		Location string `long:"location" env:"LOCATION" default:"backups" description:"backup directory"`
		Keep     int    `long:"keep" env:"KEEP" default:"7" description:"backups to keep, 0 keeps all"`
	} `group:"backup" namespace:"backup" env-namespace:"JOBTRACK_BACKUP"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"jobtrack.log" description:"file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old files to keep"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep old files, 0 keeps all"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"JOBTRACK_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("jobtrack %s\n", revision)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("failed to load .env: %v\n", err)
	}

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	out := setupLogs()
	if opts.Dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
	} else {
		log.Setup(log.Out(out), log.Err(out), log.Msec)
	}

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Printf("[INFO] jobtrack stopped")
}

func run(ctx context.Context) error {
	st, err := makeStore()
	if err != nil {
		return fmt.Errorf("failed to make store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	if opts.Backup.Enabled {
		if _, err := backup.ParseSchedule(opts.Backup.Schedule); err != nil {
			return err
		}
	}

	if err := st.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize store %s: %w", st, err)
	}

	srv, err := web.New(web.Config{
		Store:      st,
		Repeater:   makeRepeater(),
		StaticDir:  opts.StaticDir,
		Version:    revision,
		WriteLimit: opts.WriteLimit,
	})
	if err != nil {
		return err
	}

	if opts.Backup.Enabled {
		bkp := &backup.Service{Store: st, Location: opts.Backup.Location, Keep: opts.Backup.Keep}
		go func() {
			if err := bkp.Run(ctx, opts.Backup.Schedule); err != nil {
				log.Printf("[ERROR] backup scheduler failed: %v", err)
			}
		}()
	}

	return srv.Run(ctx, opts.Listen)
}

func makeStore() (store.Store, error) {
	switch opts.Store.Type {
	case "json", "":
		return store.NewJSONFile(storeFile("jobs.json")), nil
	case "sqlite":
		return store.NewSQLite(storeFile("jobs.db"))
	default:
		return nil, fmt.Errorf("unsupported store type %q", opts.Store.Type)
	}
}

// storeFile returns store file from options, def if not set
func storeFile(def string) string {
	if opts.Store.File == "" {
		return def
	}
	return opts.Store.File
}

// makeRepeater returns nil for a single attempt, backoff repeater otherwise
func makeRepeater() web.Repeater {
	if opts.Store.Attempts <= 1 {
		return nil
	}
	return repeater.New(&strategy.Backoff{Repeats: opts.Store.Attempts, Duration: opts.Store.Duration, Factor: 2, Jitter: true})
}

// setupLogs returns the writer for logs, rotated file if enabled, stdout otherwise
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
