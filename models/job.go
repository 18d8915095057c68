package models

import (
	"time"
)

// JobStatus represents the current state of a conversion job in the system
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// ConversionJob represents one display-document to PDF conversion.
// StartedAt and CompletedAt are pointers so unset timestamps are omitted
// from JSON instead of serializing as the zero time.
type ConversionJob struct {
	ID              string     `json:"id"`
	SourceReference string     `json:"source_reference"`
	OutputName      string     `json:"output_name"`
	Status          JobStatus  `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	PDFSize         int        `json:"pdf_size,omitempty"`
}
