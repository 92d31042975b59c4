// Package models defines the job-posting ingestion record and its state machine rules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Status is the pipeline stage of an ingestion record.
// Values are stored verbatim in the database and read by clients.
type Status string

const (
	StatusPending     Status = "pending"
	StatusScraped     Status = "scraped"
	StatusParsing     Status = "parsing"
	StatusParsed      Status = "parsed"
	StatusFailed      Status = "failed"
	StatusParseFailed Status = "parse-failed"
)

var (
	// ErrInvalidTransition indicates a status change not allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvariant indicates a mutation that would break a field invariant
	// (content only on scraped, extracted data only on parsed, error message iff failed).
	ErrInvariant = errors.New("record invariant violated")
)

// transitions lists the legal edges. Scraping is implicit and never persisted.
var transitions = map[Status][]Status{
	StatusPending: {StatusScraped, StatusFailed},
	StatusScraped: {StatusParsing, StatusParseFailed},
	StatusParsing: {StatusParsed, StatusParseFailed},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScraped, StatusParsing, StatusParsed, StatusFailed, StatusParseFailed:
		return true
	}
	return false
}

// IsFailure reports whether s is a failure terminal.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusParseFailed
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusParsed || s.IsFailure()
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Precedes reports whether a record in from can later reach to through
// one or more transitions. Statuses only move forward, so a record never
// precedes itself.
func Precedes(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to || Precedes(next, to) {
			return true
		}
	}
	return false
}

// IngestionRecord is the shared document for one ingestion attempt.
// Both pipeline stages coordinate exclusively through its Status field.
type IngestionRecord struct {
	ID            string    `json:"id"`
	SourceURL     string    `json:"sourceUrl"`
	Status        Status    `json:"status"`
	Content       *string   `json:"content,omitempty"`
	PageMeta      *PageMeta `json:"pageMeta,omitempty"`
	ExtractedData *JobData  `json:"extractedData,omitempty"`
	ErrorMessage  *string   `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewRecord returns a pending record for sourceURL.
func NewRecord(id, sourceURL string, now time.Time) IngestionRecord {
	return IngestionRecord{
		ID:        id,
		SourceURL: sourceURL,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Mutation is a status change plus the stage-specific fields it carries.
// Nil fields are left untouched.
type Mutation struct {
	Status        Status
	Content       *string
	PageMeta      *PageMeta
	ExtractedData *JobData
	ErrorMessage  *string
}

// Scraped builds the mutation that stores cleaned page content.
func Scraped(content string, meta *PageMeta) Mutation {
	return Mutation{Status: StatusScraped, Content: &content, PageMeta: meta}
}

// Parsing builds the mutation that claims a scraped record for extraction.
func Parsing() Mutation {
	return Mutation{Status: StatusParsing}
}

// Parsed builds the mutation that stores the extraction result.
func Parsed(data JobData) Mutation {
	return Mutation{Status: StatusParsed, ExtractedData: &data}
}

// Failed builds a failure mutation for the given failure status.
func Failed(status Status, msg string) Mutation {
	return Mutation{Status: status, ErrorMessage: &msg}
}

// Validate checks that m is a legal mutation for a record currently in from.
func (m Mutation) Validate(from Status) error {
	if !CanTransition(from, m.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, m.Status)
	}
	if m.Content != nil && m.Status != StatusScraped {
		return fmt.Errorf("%w: content set on %s", ErrInvariant, m.Status)
	}
	if m.Status == StatusScraped && (m.Content == nil || *m.Content == "") {
		return fmt.Errorf("%w: scraped without content", ErrInvariant)
	}
	if m.PageMeta != nil && m.Status != StatusScraped {
		return fmt.Errorf("%w: page metadata set on %s", ErrInvariant, m.Status)
	}
	if m.ExtractedData != nil && m.Status != StatusParsed {
		return fmt.Errorf("%w: extracted data set on %s", ErrInvariant, m.Status)
	}
	if m.Status == StatusParsed && m.ExtractedData == nil {
		return fmt.Errorf("%w: parsed without extracted data", ErrInvariant)
	}
	hasError := m.ErrorMessage != nil && *m.ErrorMessage != ""
	if m.Status.IsFailure() != hasError {
		return fmt.Errorf("%w: error message on %s", ErrInvariant, m.Status)
	}
	return nil
}

// Apply returns a copy of r with m applied, or an error if m is not legal from r's status.
func (r IngestionRecord) Apply(m Mutation, now time.Time) (IngestionRecord, error) {
	if err := m.Validate(r.Status); err != nil {
		return r, err
	}
	if m.Content != nil && r.Content != nil {
		return r, fmt.Errorf("%w: content already set", ErrInvariant)
	}
	if m.ExtractedData != nil && r.ExtractedData != nil {
		return r, fmt.Errorf("%w: extracted data already set", ErrInvariant)
	}

	next := r
	next.Status = m.Status
	next.UpdatedAt = now
	if m.Content != nil {
		next.Content = m.Content
	}
	if m.PageMeta != nil {
		next.PageMeta = m.PageMeta
	}
	if m.ExtractedData != nil {
		next.ExtractedData = m.ExtractedData
	}
	if m.ErrorMessage != nil {
		next.ErrorMessage = m.ErrorMessage
	}
	return next, nil
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (r IngestionRecord) Clone() IngestionRecord {
	out := r
	if r.Content != nil {
		c := *r.Content
		out.Content = &c
	}
	if r.PageMeta != nil {
		pm := *r.PageMeta
		out.PageMeta = &pm
	}
	if r.ExtractedData != nil {
		d := r.ExtractedData.Clone()
		out.ExtractedData = &d
	}
	if r.ErrorMessage != nil {
		e := *r.ErrorMessage
		out.ErrorMessage = &e
	}
	return out
}
