package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// date and time layouts used for appliedDate and lastUpdate, both always in UTC
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// UnknownCountry is the stats bucket for jobs without country
const UnknownCountry = "Unknown"

// names of the fields the service itself reads or sets
const (
	fieldID          = "id"
	fieldAppliedDate = "appliedDate"
	fieldLastUpdate  = "lastUpdate"
	fieldCountry     = "country"
)

var knownFields = []string{fieldID, fieldAppliedDate, fieldLastUpdate, fieldCountry}

// Job is a single job application record. Known fields holding non-empty strings are typed,
// everything else the caller sends is kept verbatim in Extra, including known fields with
// values of other types. A non-empty typed field wins over Extra on serialization.
type Job struct {
	ID          string
	AppliedDate string
	LastUpdate  string
	Country     string
	Extra       map[string]json.RawMessage

	keys []string // field order as received
}

// NewJob makes an empty job with the given id as its first field
func NewJob(id string) Job {
	return Job{ID: id, keys: []string{fieldID}}
}

// NewID makes job id from the current time. Two ids made within the same millisecond collide.
func NewID(now time.Time) string {
	return fmt.Sprintf("job_%d", now.UnixMilli())
}

// MarshalJSON encodes job as a flat object. Fields go in the order they were received,
// fields set directly on the struct follow, known ones first, then extra ones sorted by name.
func (j Job) MarshalJSON() ([]byte, error) {
	order := make([]string, 0, len(j.keys)+len(j.Extra)+len(knownFields))
	order = append(order, j.keys...)
	for _, k := range knownFields {
		if !slices.Contains(order, k) {
			order = append(order, k)
		}
	}
	rest := make([]string, 0, len(j.Extra))
	for k := range j.Extra {
		if !slices.Contains(order, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	buf := bytes.Buffer{}
	buf.WriteByte('{')
	written := 0
	for _, k := range order {
		val, ok, err := j.value(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %s: %w", k, err)
		}
		if written > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		written++
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// value returns encoded value of the field, false if the job has no such field
func (j Job) value(key string) (json.RawMessage, bool, error) {
	if dst := j.typed(key); dst != nil && *dst != "" {
		raw, err := json.Marshal(*dst)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		return raw, true, nil
	}
	raw, ok := j.Extra[key]
	return raw, ok, nil
}

// UnmarshalJSON decodes a flat object, pulling known string fields out and keeping the rest
// in Extra. Field order is kept, a repeated key keeps its first position and the last value.
func (j *Job) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("job must be a JSON object, got %v", tok)
	}

	res := Job{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("failed to decode %q: %w", key, err)
		}
		res.set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*j = res
	return nil
}

// Merge applies patch over the job, top-level keys only, in patch order. Nested objects replace
// the stored value as a whole. The id and lastUpdate keys are ignored, both owned by the service.
func (j *Job) Merge(patch Job) {
	for _, k := range patch.keys {
		if k == fieldID || k == fieldLastUpdate {
			continue
		}
		if val, ok, err := patch.value(k); err == nil && ok {
			j.set(k, val)
		}
	}
}

// DefaultAppliedDate sets appliedDate to date unless the job has a truthy one
func (j *Job) DefaultAppliedDate(date string) {
	if _, truthy := j.text(fieldAppliedDate); truthy {
		return
	}
	j.AppliedDate = date
	delete(j.Extra, fieldAppliedDate)
}

// Touch sets lastUpdate
func (j *Job) Touch(ts string) {
	j.LastUpdate = ts
	delete(j.Extra, fieldLastUpdate)
}

// CountryKey returns the stats bucket of the job. Non-string values are converted to text,
// missing, null, empty, zero and false values go to UnknownCountry.
func (j Job) CountryKey() string {
	if s, truthy := j.text(fieldCountry); truthy {
		return s
	}
	return UnknownCountry
}

func (j *Job) set(key string, val json.RawMessage) {
	if !slices.Contains(j.keys, key) {
		j.keys = append(j.keys, key)
	}
	if dst := j.typed(key); dst != nil {
		var s string
		if err := json.Unmarshal(val, &s); err == nil && s != "" {
			*dst = s
			delete(j.Extra, key)
			return
		}
		*dst = "" // null, empty string or not a string, kept verbatim below
	}
	if j.Extra == nil {
		j.Extra = make(map[string]json.RawMessage)
	}
	j.Extra[key] = val
}

func (j *Job) typed(key string) *string {
	switch key {
	case fieldID:
		return &j.ID
	case fieldAppliedDate:
		return &j.AppliedDate
	case fieldLastUpdate:
		return &j.LastUpdate
	case fieldCountry:
		return &j.Country
	}
	return nil
}

// text returns field value converted to text and its truthiness, the way a loosely typed
// client sees it: 42 is "42", [1,2] is "1,2", objects are "[object Object]".
func (j Job) text(key string) (string, bool) {
	if dst := j.typed(key); dst != nil && *dst != "" {
		return *dst, true
	}
	raw, ok := j.Extra[key]
	if !ok {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return jsText(v), truthy(v)
}

func truthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case bool:
		return vv
	case float64:
		return vv != 0
	case string:
		return vv != ""
	}
	return true // arrays and objects
}

func jsText(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(vv)
	case float64:
		if math.Abs(vv) >= 1e21 {
			return strconv.FormatFloat(vv, 'g', -1, 64)
		}
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case string:
		return vv
	case []any:
		parts := make([]string, len(vv))
		for i, e := range vv {
			parts[i] = jsText(e)
		}
		return strings.Join(parts, ",")
	}
	return "[object Object]"
}

// Find returns index of the first job with given id, -1 if not found
func Find(jobs []Job, id string) int {
	for i, j := range jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// CountByCountry groups jobs by country key, jobs without country go to UnknownCountry.
// Country values are compared as is, no case folding.
func CountByCountry(jobs []Job) map[string]int {
	res := make(map[string]int)
	for _, j := range jobs {
		res[j.CountryKey()]++
	}
	return res
}
