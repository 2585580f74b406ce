package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/middleware"
)

const (
	DefaultRecent = 10
	MaxRecent     = 100
)

// Service stores and queries the audit log. It satisfies
// middleware.AuditRecorder.
type Service struct {
	entries Repository
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(entries Repository, logger zerolog.Logger) *Service {
	return &Service{entries: entries, logger: logger, now: time.Now}
}

var _ middleware.AuditRecorder = (*Service)(nil)

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecordAccess persists one audited request.
func (s *Service) RecordAccess(ctx context.Context, in middleware.AuditEntry) error {
	e := &Entry{
		UserID:       optional(in.UserID),
		Action:       in.Action,
		ResourceType: in.ResourceType,
		ResourceID:   optional(in.ResourceID),
		Method:       in.Method,
		Path:         in.Path,
		IPAddress:    optional(in.IPAddress),
		UserAgent:    optional(in.UserAgent),
		StatusCode:   in.StatusCode,
		RequestID:    optional(in.RequestID),
		CreatedAt:    in.Timestamp,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.Action == "" || e.ResourceType == "" {
		return apperr.Validation("audit entry needs an action and a resource type")
	}
	return s.entries.Create(ctx, e)
}

func validateFilter(f Filter) error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return apperr.Validation("to must not be before from")
	}
	return nil
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	if err := validateFilter(f); err != nil {
		return nil, 0, err
	}
	return s.entries.Search(ctx, f, limit, offset)
}

// Recent returns the n newest entries for the dashboard activity feed.
func (s *Service) Recent(ctx context.Context, n int) ([]*Entry, error) {
	if n <= 0 {
		n = DefaultRecent
	}
	if n > MaxRecent {
		n = MaxRecent
	}
	items, _, err := s.entries.Search(ctx, Filter{}, n, 0)
	return items, err
}

func (s *Service) Summarize(ctx context.Context, f Filter) (*Summary, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	sum := newSummary()
	err := s.entries.Each(ctx, f, func(e *Entry) error {
		sum.add(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

var csvHeader = []string{"ID", "Timestamp", "User", "Action", "Resource Type", "Resource ID",
	"Method", "Path", "Status", "IP Address", "User Agent", "Request ID"}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ExportCSV writes every matching entry, newest first.
func (s *Service) ExportCSV(ctx context.Context, f Filter, w io.Writer) error {
	if err := validateFilter(f); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	err := s.entries.Each(ctx, f, func(e *Entry) error {
		return cw.Write([]string{
			e.ID.String(),
			e.CreatedAt.UTC().Format(time.RFC3339),
			deref(e.UserID),
			e.Action,
			e.ResourceType,
			deref(e.ResourceID),
			e.Method,
			e.Path,
			strconv.Itoa(e.StatusCode),
			deref(e.IPAddress),
			deref(e.UserAgent),
			deref(e.RequestID),
		})
	})
	if err != nil {
		return fmt.Errorf("audit export csv: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
