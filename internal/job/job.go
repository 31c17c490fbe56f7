// Package job reads the confirmed site parameters for one provisioning
// request. Jobs are produced by an upstream intake and never mutated here;
// derived data lives in workspace artifacts instead.
package job

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

var idPattern = regexp.MustCompile(`^\d{10}-\d{4}$`)

// ValidID reports whether id has the YYMMDDHHMM-NNNN shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Job is one request to provision a website.
type Job struct {
	ID        string         `json:"job_id"`
	Confirmed *ConfirmedData `json:"confirmed_data" validate:"required"`
	// Defaulted is set when the job file was absent and a stub was used.
	Defaulted bool `json:"-"`
}

// ConfirmedData holds the site parameters confirmed by the customer. Fields
// beyond the three required ones are kept verbatim in Extra.
type ConfirmedData struct {
	WebsiteName string         `json:"website_name" validate:"notblank"`
	Domain      string         `json:"domain" validate:"notblank"`
	UserEmail   string         `json:"user_email" validate:"notblank"`
	Extra       map[string]any `json:"-"`
}

var confirmedKeys = map[string]struct{}{
	"website_name": {},
	"domain":       {},
	"user_email":   {},
}

// UnmarshalJSON splits known fields from extended ones.
func (c *ConfirmedData) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type known ConfirmedData
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*c = ConfirmedData(k)
	for key, value := range raw {
		if _, ok := confirmedKeys[key]; ok {
			continue
		}
		if c.Extra == nil {
			c.Extra = map[string]any{}
		}
		c.Extra[key] = value
	}
	return nil
}

// MarshalJSON merges Extra back into the document.
func (c ConfirmedData) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields())
}

// Fields returns every confirmed field as one flat map.
func (c ConfirmedData) Fields() map[string]any {
	out := make(map[string]any, len(c.Extra)+3)
	for key, value := range c.Extra {
		out[key] = value
	}
	out["website_name"] = c.WebsiteName
	out["domain"] = c.Domain
	out["user_email"] = c.UserEmail
	return out
}

// ExtraKeys returns the extended field names, sorted.
func (c ConfirmedData) ExtraKeys() []string {
	keys := make([]string, 0, len(c.Extra))
	for key := range c.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Domain is a nil-safe accessor used by log lines.
func (j *Job) Domain() string {
	if j == nil || j.Confirmed == nil {
		return ""
	}
	return j.Confirmed.Domain
}

// DefaultJob returns the synthetic record used when no job file exists, so
// the pipeline can be exercised without a real intake.
func DefaultJob(id string) *Job {
	return &Job{
		ID: id,
		Confirmed: &ConfirmedData{
			WebsiteName: "Contenta Demo Site",
			Domain:      "demo.contenta.test",
			UserEmail:   "demo@contenta.test",
		},
		Defaulted: true,
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("%s (%s)", j.ID, j.Domain())
}
