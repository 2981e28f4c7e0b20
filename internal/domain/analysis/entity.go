package analysis

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ID tipe untuk Analysis (UUID string)
type ID string

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Input value object, immutable after creation
type Input struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Description string `json:"description"`
}

// Aggregate Root: Record
//
// Result and Error are mutually exclusive and only set once the record
// reaches a terminal status.
type Record struct {
	RequestID ID        `json:"requestId"`
	Status    Status    `json:"status"`
	Input     Input     `json:"input"`
	Result    *string   `json:"result"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord builds a pending record.
func NewRecord(id ID, in Input, now time.Time) *Record {
	return &Record{
		RequestID: id,
		Status:    StatusPending,
		Input:     in,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Claim moves a pending record to processing.
func (r *Record) Claim(now time.Time) error {
	if r.Status != StatusPending {
		return transitionError(r.Status, StatusProcessing)
	}
	r.Status = StatusProcessing
	r.UpdatedAt = now
	return nil
}

// Complete stores the generated result and clears any error.
func (r *Record) Complete(result string, now time.Time) error {
	if r.Status.Terminal() {
		return transitionError(r.Status, StatusCompleted)
	}
	r.Status = StatusCompleted
	r.Result = &result
	r.Error = nil
	r.UpdatedAt = now
	return nil
}

// Fail stores the failure message and clears any result.
func (r *Record) Fail(message string, now time.Time) error {
	if r.Status.Terminal() {
		return transitionError(r.Status, StatusFailed)
	}
	r.Status = StatusFailed
	r.Error = &message
	r.Result = nil
	r.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		v := *r.Result
		c.Result = &v
	}
	if r.Error != nil {
		v := *r.Error
		c.Error = &v
	}
	return &c
}

func transitionError(from, to Status) error {
	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}
