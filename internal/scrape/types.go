// File: internal/scrape/types.go

// Package scrape pulls templates, cases, and case communications out of
// the source console by intercepting the backend responses its UI
// triggers, rather than parsing the rendered DOM.
package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Template is one communication template: a name plus per-notice
// subject and body content for each notice kind it defines.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	IssuanceSubject   string `json:"issuanceSubject"`
	IssuanceContent   string `json:"issuanceContent"`
	ReissuanceSubject string `json:"reissuanceSubject"`
	ReissuanceContent string `json:"reissuanceContent"`
	ReleaseSubject    string `json:"releaseSubject"`
	ReleaseContent    string `json:"releaseContent"`
}

// Case is one legal case record from the console's case list.
type Case struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
}

// Communication is one case-scoped hold notice with its per-stage
// subject and content.
type Communication struct {
	ID     string `json:"id"`
	CaseID string `json:"caseId"`

	Subject           string `json:"subject"`
	IssuanceSubject   string `json:"issuanceSubject"`
	IssuanceContent   string `json:"issuanceContent"`
	ReissuanceSubject string `json:"reissuanceSubject"`
	ReissuanceContent string `json:"reissuanceContent"`
	ReleaseSubject    string `json:"releaseSubject"`
	ReleaseContent    string `json:"releaseContent"`
}

// MalformedRecordError reports a record that failed validation at the
// scrape boundary. Malformed records are rejected here instead of being
// forwarded into export files and replay mutations.
type MalformedRecordError struct {
	Kind   string // "template", "case", or "communication"
	Index  int    // position within the payload, -1 for single records
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed %s record: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("malformed %s record at index %d: %s", e.Kind, e.Index, e.Reason)
}

// Validate checks the fields replay cannot do without.
func (t *Template) Validate() error {
	if t.ID == "" {
		return &MalformedRecordError{Kind: "template", Index: -1, Reason: "missing id"}
	}
	if t.Name == "" {
		return &MalformedRecordError{Kind: "template", Index: -1, Reason: "missing name"}
	}
	return nil
}

func (c *Case) Validate() error {
	if c.ID == "" {
		return &MalformedRecordError{Kind: "case", Index: -1, Reason: "missing id"}
	}
	if c.DisplayName == "" {
		return &MalformedRecordError{Kind: "case", Index: -1, Reason: "missing displayName"}
	}
	return nil
}

func (c *Communication) Validate() error {
	if c.ID == "" {
		return &MalformedRecordError{Kind: "communication", Index: -1, Reason: "missing id"}
	}
	return nil
}

// collectionEnvelope is the shape of the console's list responses: the
// interesting records sit under a conventional "value" key.
type collectionEnvelope struct {
	Value json.RawMessage `json:"value"`
}

// decodeCollection unwraps a list response's value array into raw
// per-record messages.
func decodeCollection(body []byte) ([]json.RawMessage, error) {
	var envelope collectionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %w", err)
	}
	if envelope.Value == nil {
		return nil, fmt.Errorf("response body has no value field")
	}
	var records []json.RawMessage
	if err := json.Unmarshal(envelope.Value, &records); err != nil {
		return nil, fmt.Errorf("value field is not an array: %w", err)
	}
	return records, nil
}

// DecodeCases parses a case-list response body.
func DecodeCases(body []byte) ([]Case, error) {
	records, err := decodeCollection(body)
	if err != nil {
		return nil, err
	}
	cases := make([]Case, 0, len(records))
	for i, raw := range records {
		var c Case
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, &MalformedRecordError{Kind: "case", Index: i, Reason: err.Error()}
		}
		if err := c.Validate(); err != nil {
			stampIndex(err, i)
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// DecodeCommunications parses a case-scoped communication-list response
// body, stamping each record with its owning case id.
func DecodeCommunications(body []byte, caseID string) ([]Communication, error) {
	records, err := decodeCollection(body)
	if err != nil {
		return nil, err
	}
	comms := make([]Communication, 0, len(records))
	for i, raw := range records {
		var c Communication
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, &MalformedRecordError{Kind: "communication", Index: i, Reason: err.Error()}
		}
		c.CaseID = caseID
		if err := c.Validate(); err != nil {
			stampIndex(err, i)
			return nil, err
		}
		comms = append(comms, c)
	}
	return comms, nil
}

// DecodeTemplateList parses the template list response, from which only
// id and name are needed to drive the per-row detail loop.
func DecodeTemplateList(body []byte) ([]Template, error) {
	records, err := decodeCollection(body)
	if err != nil {
		return nil, err
	}
	templates := make([]Template, 0, len(records))
	for i, raw := range records {
		var t Template
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, &MalformedRecordError{Kind: "template", Index: i, Reason: err.Error()}
		}
		if err := t.Validate(); err != nil {
			stampIndex(err, i)
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// DecodeTemplateDetail parses a single-template detail response, whose
// body is the record itself rather than a value envelope. The editor
// payload omits the name for some templates, so only the id is
// required here; the caller backfills the name from the list row.
func DecodeTemplateDetail(body []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, &MalformedRecordError{Kind: "template", Index: -1, Reason: err.Error()}
	}
	if t.ID == "" {
		return nil, &MalformedRecordError{Kind: "template", Index: -1, Reason: "missing id"}
	}
	return &t, nil
}

// stampIndex records the payload position on a validation error.
func stampIndex(err error, i int) {
	var m *MalformedRecordError
	if errors.As(err, &m) {
		m.Index = i
	}
}
