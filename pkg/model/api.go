package model

import (
	"strconv"
	"strings"
	"time"
)

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	State  string // Optional run state filter
	Policy string // Optional scheduling policy filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Normalize upper-cases the state filter so "failed" matches FAILED.
func (o *ListOptions) Normalize() {
	o.State = strings.ToUpper(strings.TrimSpace(o.State))
	o.Policy = strings.ToLower(strings.TrimSpace(o.Policy))
}

// Validate reports filters that can never match a run.
func (o ListOptions) Validate() []FieldError {
	var errs []FieldError
	if o.State != "" && !RunState(o.State).Valid() {
		errs = append(errs, FieldError{Field: "state", Message: "unknown run state " + strconv.Quote(o.State)})
	}
	if o.Offset < 0 {
		errs = append(errs, FieldError{Field: "offset", Message: "offset must not be negative"})
	}
	return errs
}

// NewPagination builds pagination metadata for a page of results.
func NewPagination(total int, opts ListOptions) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	}
}
