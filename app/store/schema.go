package store

import "github.com/invopop/jsonschema"

// jobSchema lists fields known to the service, used for schema generation only
type jobSchema struct {
	ID          string `json:"id" jsonschema:"title=id,description=generated on create and never changed,pattern=^job_[0-9]+$"`
	AppliedDate string `json:"appliedDate,omitempty" jsonschema:"description=date of application (UTC),format=date"`
	LastUpdate  string `json:"lastUpdate,omitempty" jsonschema:"description=time of the last create or update (UTC),format=date-time"`
	Country     any    `json:"country,omitempty" jsonschema:"description=country of the position, any value, counted as Unknown if empty"`
}

// Schema returns JSON schema of the job record. Any other property is allowed and kept as is.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{AllowAdditionalProperties: true, DoNotReference: true}
	s := r.Reflect(&jobSchema{})
	s.Title = "job"
	s.Description = "job application record"
	return s
}
