package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123*int(time.Millisecond), time.UTC)
	assert.Equal(t, "job_1714557600123", NewID(ts))
	assert.Equal(t, NewID(ts), NewID(ts.Add(500*time.Microsecond)), "same millisecond, same id")
}

func TestJob_UnmarshalJSON(t *testing.T) {
	t.Run("known and extra fields", func(t *testing.T) {
		var job Job
		err := json.Unmarshal([]byte(`{"id":"job_1","title":"Eng","country":"US","appliedDate":"2024-05-01",
			"lastUpdate":"2024-05-01T10:00:00.000Z","salary":{"min":1,"max":2},"remote":true}`), &job)
		require.NoError(t, err)
		assert.Equal(t, "job_1", job.ID)
		assert.Equal(t, "US", job.Country)
		assert.Equal(t, "2024-05-01", job.AppliedDate)
		assert.Equal(t, "2024-05-01T10:00:00.000Z", job.LastUpdate)
		require.Len(t, job.Extra, 3)
		assert.JSONEq(t, `"Eng"`, string(job.Extra["title"]))
		assert.JSONEq(t, `{"min":1,"max":2}`, string(job.Extra["salary"]))
		assert.JSONEq(t, `true`, string(job.Extra["remote"]))
	})

	t.Run("null known field kept", func(t *testing.T) {
		var job Job
		require.NoError(t, json.Unmarshal([]byte(`{"id":"job_1","country":null}`), &job))
		assert.Empty(t, job.Country)
		assert.JSONEq(t, `null`, string(job.Extra["country"]))
		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"job_1","country":null}`, string(data))
	})

	t.Run("non-string known fields kept verbatim", func(t *testing.T) {
		orig := `{"id":7,"country":42,"appliedDate":{"y":2024},"lastUpdate":false,"title":"Eng"}`
		var job Job
		require.NoError(t, json.Unmarshal([]byte(orig), &job))
		assert.Empty(t, job.ID)
		assert.Empty(t, job.Country)
		assert.JSONEq(t, `42`, string(job.Extra["country"]))
		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Equal(t, orig, string(data))
	})

	t.Run("empty string kept", func(t *testing.T) {
		var job Job
		require.NoError(t, json.Unmarshal([]byte(`{"id":"job_1","country":""}`), &job))
		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"job_1","country":""}`, string(data))
	})

	t.Run("null job", func(t *testing.T) {
		job := Job{ID: "job_1"}
		require.NoError(t, json.Unmarshal([]byte(`null`), &job))
		assert.Equal(t, "job_1", job.ID)
	})

	t.Run("not an object", func(t *testing.T) {
		var job Job
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &job))
		assert.Error(t, json.Unmarshal([]byte(`"str"`), &job))
	})
}

func TestJob_MarshalJSON(t *testing.T) {
	t.Run("struct fields", func(t *testing.T) {
		job := Job{ID: "job_1", LastUpdate: "2024-05-01T10:00:00.000Z",
			Extra: map[string]json.RawMessage{"title": json.RawMessage(`"Eng"`), "tags": json.RawMessage(`["a","b"]`)}}
		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"job_1","lastUpdate":"2024-05-01T10:00:00.000Z","tags":["a","b"],"title":"Eng"}`, string(data))
	})

	t.Run("field order kept", func(t *testing.T) {
		orig := `{"title":"Eng","id":"job_1","zeta":1,"country":"US","alpha":{"b":1,"a":2},"lastUpdate":"x"}`
		var job Job
		require.NoError(t, json.Unmarshal([]byte(orig), &job))
		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Equal(t, orig, string(data))
	})

	t.Run("typed value wins", func(t *testing.T) {
		var job Job
		require.NoError(t, json.Unmarshal([]byte(`{"id":"job_1","lastUpdate":123}`), &job))
		job.Touch("2024-05-01T10:00:00.000Z")
		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"job_1","lastUpdate":"2024-05-01T10:00:00.000Z"}`, string(data))
	})

	t.Run("empty", func(t *testing.T) {
		data, err := json.Marshal(Job{})
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))
	})
}

func mustJob(t *testing.T, s string) Job {
	t.Helper()
	var job Job
	require.NoError(t, json.Unmarshal([]byte(s), &job))
	return job
}

func TestJob_Merge(t *testing.T) {
	orig := `{"id":"job_1","title":"Eng","status":"applied","contact":{"name":"Bob","email":"bob@example.com"},
		"appliedDate":"2024-05-01","lastUpdate":"2024-05-01T10:00:00.000Z","country":"US"}`

	tbl := []struct {
		name  string
		patch string
		check func(t *testing.T, j Job)
	}{
		{name: "status only", patch: `{"status":"interview"}`, check: func(t *testing.T, j Job) {
			assert.JSONEq(t, `"interview"`, string(j.Extra["status"]))
			assert.JSONEq(t, `"Eng"`, string(j.Extra["title"]))
			assert.Equal(t, "US", j.Country)
			assert.Equal(t, "2024-05-01", j.AppliedDate)
		}},
		{name: "nested object replaced, not merged", patch: `{"contact":{"name":"Alice"}}`, check: func(t *testing.T, j Job) {
			assert.JSONEq(t, `{"name":"Alice"}`, string(j.Extra["contact"]))
		}},
		{name: "id and lastUpdate ignored", patch: `{"id":"other","lastUpdate":"x"}`, check: func(t *testing.T, j Job) {
			assert.Equal(t, "job_1", j.ID)
			assert.Equal(t, "2024-05-01T10:00:00.000Z", j.LastUpdate)
		}},
		{name: "known fields updated", patch: `{"country":"DE","appliedDate":"2024-06-01"}`, check: func(t *testing.T, j Job) {
			assert.Equal(t, "DE", j.Country)
			assert.Equal(t, "2024-06-01", j.AppliedDate)
		}},
		{name: "country set to null", patch: `{"country":null}`, check: func(t *testing.T, j Job) {
			assert.Empty(t, j.Country)
			assert.Equal(t, UnknownCountry, j.CountryKey())
		}},
		{name: "non-string known field accepted", patch: `{"appliedDate":20240601}`, check: func(t *testing.T, j Job) {
			assert.Empty(t, j.AppliedDate)
			assert.JSONEq(t, `20240601`, string(j.Extra["appliedDate"]))
		}},
		{name: "order of stored fields kept, new ones appended", patch: `{"zeta":1,"title":"Dev","alpha":2}`,
			check: func(t *testing.T, j Job) {
				data, err := json.Marshal(j)
				require.NoError(t, err)
				assert.Equal(t, `{"id":"job_1","title":"Dev","status":"applied",`+
					`"contact":{"name":"Bob","email":"bob@example.com"},"appliedDate":"2024-05-01",`+
					`"lastUpdate":"2024-05-01T10:00:00.000Z","country":"US","zeta":1,"alpha":2}`, string(data))
			}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			job := mustJob(t, orig)
			job.Merge(mustJob(t, tt.patch))
			tt.check(t, job)
		})
	}
}

func TestJob_MergeIntoNew(t *testing.T) {
	job := NewJob("job_1")
	job.Merge(mustJob(t, `{"title":"Eng","appliedDate":false}`))
	job.DefaultAppliedDate("2024-05-01")
	job.Touch("2024-05-01T10:00:00.000Z")
	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"job_1","title":"Eng","appliedDate":"2024-05-01","lastUpdate":"2024-05-01T10:00:00.000Z"}`,
		string(data))
}

func TestJob_DefaultAppliedDate(t *testing.T) {
	tbl := []struct {
		body, want string
	}{
		{`{}`, `"2024-05-01"`},
		{`{"appliedDate":""}`, `"2024-05-01"`},
		{`{"appliedDate":null}`, `"2024-05-01"`},
		{`{"appliedDate":0}`, `"2024-05-01"`},
		{`{"appliedDate":false}`, `"2024-05-01"`},
		{`{"appliedDate":"2024-01-15"}`, `"2024-01-15"`},
		{`{"appliedDate":20240115}`, `20240115`},
		{`{"appliedDate":[]}`, `[]`},
	}
	for _, tt := range tbl {
		t.Run(tt.body, func(t *testing.T) {
			job := mustJob(t, tt.body)
			job.DefaultAppliedDate("2024-05-01")
			data, err := json.Marshal(job)
			require.NoError(t, err)
			assert.JSONEq(t, `{"appliedDate":`+tt.want+`}`, string(data))
		})
	}
}

func TestFind(t *testing.T) {
	jobs := []Job{{ID: "a"}, {ID: "b"}, {ID: "b"}, mustJob(t, `{"id":7}`)}
	assert.Equal(t, 0, Find(jobs, "a"))
	assert.Equal(t, 1, Find(jobs, "b"), "first match wins")
	assert.Equal(t, -1, Find(jobs, "c"))
	assert.Equal(t, -1, Find(jobs, "7"), "numeric id never matches")
	assert.Equal(t, -1, Find(nil, "a"))
}

func TestCountByCountry(t *testing.T) {
	tbl := []struct {
		name string
		jobs []Job
		want map[string]int
	}{
		{"empty", nil, map[string]int{}},
		{"with unknown", []Job{{Country: "US"}, {Country: "US"}, {}}, map[string]int{"US": 2, "Unknown": 1}},
		{"case sensitive", []Job{{Country: "us"}, {Country: "US"}}, map[string]int{"us": 1, "US": 1}},
		{"falsy values unknown", []Job{mustJob(t, `{"country":null}`), mustJob(t, `{"country":""}`),
			mustJob(t, `{"country":0}`), mustJob(t, `{"country":false}`)}, map[string]int{"Unknown": 4}},
		{"non-string values as text", []Job{mustJob(t, `{"country":42}`), mustJob(t, `{"country":42.0}`),
			mustJob(t, `{"country":true}`), mustJob(t, `{"country":["US","DE"]}`), mustJob(t, `{"country":{"code":"US"}}`),
			mustJob(t, `{"country":1.5}`)},
			map[string]int{"42": 2, "true": 1, "US,DE": 1, "[object Object]": 1, "1.5": 1}},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountByCountry(tt.jobs))
		})
	}
}
