package records

import (
	"github.com/sitecrew/construction-api/pipeline"
	"github.com/sitecrew/construction-api/validation"
)

// Option shapes the fields a persist function writes
type Option func(*writePlan)

// writePlan decides which payload fields reach the store and which the server sets itself
type writePlan struct {
	only          map[string]bool
	defaults      map[string]interface{}
	owner         string
	attachURL     string
	attachURLs    string
	pathFields    map[string]string
	conflictField string
}

func newPlan(opts []Option) *writePlan {
	p := &writePlan{pathFields: map[string]string{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Only limits the payload fields written to the given names
func Only(fields ...string) Option {
	return func(p *writePlan) {
		p.only = make(map[string]bool, len(fields))
		for _, f := range fields {
			p.only[f] = true
		}
	}
}

// Defaults fills fields that are absent or null on create
func Defaults(values map[string]interface{}) Option {
	return func(p *writePlan) { p.defaults = values }
}

// Owner sets field to the caller's id on create. Clients can never set it.
func Owner(field string) Option {
	return func(p *writePlan) { p.owner = field }
}

// AttachmentURL stores the first uploaded file's URL in field.
// Without an upload the field is left unchanged.
func AttachmentURL(field string) Option {
	return func(p *writePlan) { p.attachURL = field }
}

// AttachmentURLs stores every uploaded file's URL in a list field
func AttachmentURLs(field string) Option {
	return func(p *writePlan) { p.attachURLs = field }
}

// PathField copies a path parameter into field
func PathField(param, field string) Option {
	return func(p *writePlan) { p.pathFields[field] = param }
}

// ConflictOn names the field reported when a write hits a unique constraint
func ConflictOn(field string) Option {
	return func(p *writePlan) { p.conflictField = field }
}

// fields builds the store input for one request.
// A null value counts as absent, as it does during validation, so it never reaches the store.
func (p *writePlan) fields(in pipeline.Input, creating bool) map[string]interface{} {
	out := make(map[string]interface{}, len(in.Payload))
	for k, v := range in.Payload {
		if v == nil {
			continue
		}
		if p.only != nil && !p.only[k] {
			continue
		}
		if p.serverOwned(k) {
			continue
		}
		out[k] = v
	}

	if creating {
		for k, v := range p.defaults {
			if !validation.Present(out, k) {
				out[k] = v
			}
		}
		if p.owner != "" {
			out[p.owner] = in.Identity.ID
		}
	}

	for field, param := range p.pathFields {
		out[field] = in.Param(param)
	}

	if len(in.Attachments) > 0 {
		if p.attachURL != "" {
			out[p.attachURL] = in.Attachments[0].URL
		}
		if p.attachURLs != "" {
			urls := make([]string, len(in.Attachments))
			for i, a := range in.Attachments {
				urls[i] = a.URL
			}
			out[p.attachURLs] = urls
		}
	} else if creating && p.attachURLs != "" {
		out[p.attachURLs] = []string{}
	}
	return out
}

func (p *writePlan) serverOwned(field string) bool {
	if field == p.owner || field == p.attachURL || field == p.attachURLs {
		return field != ""
	}
	_, fromPath := p.pathFields[field]
	return fromPath
}
