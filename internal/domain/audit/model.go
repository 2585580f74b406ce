package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded mutating API call.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	UserID       *string   `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *string   `json:"resource_id,omitempty"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	IPAddress    *string   `json:"ip_address,omitempty"`
	UserAgent    *string   `json:"user_agent,omitempty"`
	StatusCode   int       `json:"status_code"`
	RequestID    *string   `json:"request_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Succeeded reports whether the audited request returned a 2xx or 3xx status.
func (e *Entry) Succeeded() bool {
	return e.StatusCode > 0 && e.StatusCode < 400
}

// Filter narrows an audit search. Zero values match everything.
type Filter struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	// FailedOnly keeps entries whose status code is 400 or above.
	FailedOnly bool
}

// Summary aggregates the entries matching a Filter.
type Summary struct {
	TotalEntries   int            `json:"total_entries"`
	Failed         int            `json:"failed"`
	ByAction       map[string]int `json:"by_action"`
	ByResourceType map[string]int `json:"by_resource_type"`
	ByUser         map[string]int `json:"by_user"`
	First          *time.Time     `json:"first,omitempty"`
	Last           *time.Time     `json:"last,omitempty"`
}

func newSummary() *Summary {
	return &Summary{
		ByAction:       map[string]int{},
		ByResourceType: map[string]int{},
		ByUser:         map[string]int{},
	}
}

// add folds one entry into the summary.
func (s *Summary) add(e *Entry) {
	s.TotalEntries++
	if !e.Succeeded() {
		s.Failed++
	}
	s.ByAction[e.Action]++
	s.ByResourceType[e.ResourceType]++
	user := "anonymous"
	if e.UserID != nil && *e.UserID != "" {
		user = *e.UserID
	}
	s.ByUser[user]++
	if s.First == nil || e.CreatedAt.Before(*s.First) {
		t := e.CreatedAt
		s.First = &t
	}
	if s.Last == nil || e.CreatedAt.After(*s.Last) {
		t := e.CreatedAt
		s.Last = &t
	}
}
