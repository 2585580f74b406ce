package result

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/assignment"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/blobstore"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
)

// AssignmentWorkflow is the part of the assignment service that result
// review drives.
type AssignmentWorkflow interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	SubmitForReview(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	Complete(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	Reopen(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
}

type ParameterCatalog interface {
	ListParameters(ctx context.Context, testID uuid.UUID) ([]*catalog.Parameter, error)
}

type Service struct {
	results     Repository
	assignments AssignmentWorkflow
	params      ParameterCatalog
	files       blobstore.Store
	tx          db.TxRunner
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService wires result entry and review. files may be nil, in which
// case instrument file uploads are refused.
func NewService(results Repository, assignments AssignmentWorkflow, params ParameterCatalog, files blobstore.Store,
	tx db.TxRunner, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{
		results: results, assignments: assignments, params: params, files: files,
		tx: tx, metrics: m, logger: logger, now: time.Now,
	}
}

// ParameterValue is one raw value entered for a parameter.
type ParameterValue struct {
	ParameterID uuid.UUID `json:"parameter_id"`
	Value       string    `json:"value"`
	Notes       *string   `json:"notes,omitempty"`
}

type EntryInput struct {
	Values   []ParameterValue `json:"values"`
	Comments *string          `json:"comments,omitempty"`
	Action   string           `json:"action"`
}

// EntryOutcome is the saved result plus the test parameters that still
// have no value.
type EntryOutcome struct {
	Result            *TestResult `json:"result"`
	MissingParameters []string    `json:"missing_parameters"`
}

// EnterResults records parameter values for an assignment, creating its
// result on first entry. ActionSubmit sends the result to review and the
// assignment to waiting_review; ActionDraft keeps it as a draft. Partial
// submissions are accepted and reported through MissingParameters.
func (s *Service) EnterResults(ctx context.Context, assignmentID uuid.UUID, in EntryInput) (*EntryOutcome, error) {
	if in.Action == "" {
		in.Action = ActionDraft
	}
	if in.Action != ActionDraft && in.Action != ActionSubmit {
		return nil, apperr.Validation("action must be %q or %q", ActionDraft, ActionSubmit)
	}

	out := &EntryOutcome{MissingParameters: []string{}}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.assignments.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status == assignment.StatusCompleted {
			return fmt.Errorf("%w: assignment is completed", apperr.ErrInvalidTransition)
		}
		params, err := s.params.ListParameters(ctx, a.TestID)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*catalog.Parameter, len(params))
		for _, p := range params {
			byID[p.ID] = p
		}

		res, err := s.getOrCreate(ctx, a.ID)
		if err != nil {
			return err
		}
		if !res.Editable() {
			return fmt.Errorf("%w: result is %s", apperr.ErrInvalidTransition, res.Status)
		}

		for _, v := range in.Values {
			p, ok := byID[v.ParameterID]
			if !ok {
				return apperr.Validation("parameter %s does not belong to test %s", v.ParameterID, a.TestCode)
			}
			pr := &ParameterResult{ResultID: res.ID, ParameterID: p.ID, Notes: v.Notes}
			if err := RecordParameter(pr, p, v.Value); err != nil {
				return err
			}
			if err := s.results.SaveParameter(ctx, pr); err != nil {
				return err
			}
		}
		if in.Comments != nil {
			res.Comments = in.Comments
		}

		saved, err := s.results.ListParameters(ctx, res.ID)
		if err != nil {
			return err
		}
		filled := make(map[uuid.UUID]bool, len(saved))
		for _, pr := range saved {
			if pr.NumericValue.Valid || pr.TextValue != nil {
				filled[pr.ParameterID] = true
			}
		}
		for _, p := range params {
			if !filled[p.ID] {
				out.MissingParameters = append(out.MissingParameters, p.Name)
			}
		}

		if in.Action == ActionSubmit {
			res.Status = StatusPendingReview
			if _, err := s.assignments.SubmitForReview(ctx, a.ID); err != nil {
				return err
			}
		} else {
			res.Status = StatusDraft
		}
		if err := s.results.Update(ctx, res); err != nil {
			return err
		}
		res.Parameters = saved
		out.Result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("result_id", out.Result.ID.String()).
		Str("assignment_id", assignmentID.String()).
		Str("status", out.Result.Status).
		Int("missing_parameters", len(out.MissingParameters)).
		Msg("results entered")
	return out, nil
}

func (s *Service) getOrCreate(ctx context.Context, assignmentID uuid.UUID) (*TestResult, error) {
	res, err := s.results.GetByAssignment(ctx, assignmentID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	res = &TestResult{
		AssignmentID: assignmentID,
		Status:       StatusDraft,
		EnteredBy:    personnel.ActorID(ctx),
		EnteredAt:    s.now(),
	}
	if err := s.results.Create(ctx, res); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: result already exists for assignment", apperr.ErrConflict)
		}
		return nil, err
	}
	return res, nil
}

// Approve signs off a pending result and completes its assignment.
// Approving an already approved result returns it unchanged.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, comments *string) (*TestResult, error) {
	var (
		res     *TestResult
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.results.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if res.Status == StatusApproved {
			return nil
		}
		if err := s.review(ctx, res, StatusApproved, comments); err != nil {
			return err
		}
		changed = true
		_, err = s.assignments.Complete(ctx, res.AssignmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.ResultReviewed(StatusApproved)
		s.logger.Info().Str("result_id", id.String()).Msg("result approved")
	}
	return s.withParameters(ctx, res)
}

// Reject returns a pending result for correction and reopens its
// assignment.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, comments *string) (*TestResult, error) {
	var res *TestResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.results.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.review(ctx, res, StatusRejected, comments); err != nil {
			return err
		}
		_, err = s.assignments.Reopen(ctx, res.AssignmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ResultReviewed(StatusRejected)
	s.logger.Info().Str("result_id", id.String()).Msg("result rejected")
	return s.withParameters(ctx, res)
}

func (s *Service) review(ctx context.Context, res *TestResult, decision string, comments *string) error {
	if res.Status != StatusPendingReview {
		return fmt.Errorf("%w: cannot move result from %s to %s", apperr.ErrInvalidTransition, res.Status, decision)
	}
	now := s.now()
	res.Status = decision
	res.ReviewedBy = personnel.ActorID(ctx)
	res.ReviewedAt = &now
	res.ReviewerComments = comments
	return s.results.Update(ctx, res)
}

func (s *Service) withParameters(ctx context.Context, res *TestResult) (*TestResult, error) {
	params, err := s.results.ListParameters(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	res.Parameters = params
	return res, nil
}

func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*TestResult, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withParameters(ctx, res)
}

func (s *Service) GetByAssignment(ctx context.Context, assignmentID uuid.UUID) (*TestResult, error) {
	res, err := s.results.GetByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return s.withParameters(ctx, res)
}

func (s *Service) SearchResults(ctx context.Context, params map[string]string, limit, offset int) ([]*TestResult, int, error) {
	if v, ok := params["status"]; ok && !validStatuses[v] {
		return nil, 0, apperr.Validation("invalid status: %q", v)
	}
	return s.results.Search(ctx, params, limit, offset)
}

func (s *Service) PendingReview(ctx context.Context, limit, offset int) ([]*TestResult, int, error) {
	return s.results.Search(ctx, map[string]string{"status": StatusPendingReview}, limit, offset)
}

func (s *Service) Approved(ctx context.Context, limit, offset int) ([]*TestResult, int, error) {
	return s.results.Search(ctx, map[string]string{"status": StatusApproved}, limit, offset)
}

// AttachInstrumentFile stores raw instrument output for an editable
// result.
func (s *Service) AttachInstrumentFile(ctx context.Context, id uuid.UUID, filename, contentType string, r io.Reader) (*TestResult, error) {
	if s.files == nil {
		return nil, apperr.Validation("instrument file storage is not configured")
	}
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return nil, apperr.Validation("file name is required")
	}
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.Editable() {
		return nil, fmt.Errorf("%w: result is %s", apperr.ErrInvalidTransition, res.Status)
	}

	key := fmt.Sprintf("instrument-files/%s/%s/%s", s.now().UTC().Format("2006/01/02"), res.ID, name)
	if _, err := s.files.Put(ctx, key, r, contentType); err != nil {
		if errors.Is(err, blobstore.ErrBlobExists) {
			return nil, fmt.Errorf("%w: %s was already uploaded today", apperr.ErrConflict, name)
		}
		if errors.Is(err, blobstore.ErrInvalidKey) {
			return nil, apperr.Validation("invalid file name %q", name)
		}
		return nil, err
	}
	res.InstrumentFile = &key
	if err := s.results.Update(ctx, res); err != nil {
		return nil, err
	}
	s.logger.Info().Str("result_id", id.String()).Str("key", key).Msg("instrument file attached")
	return res, nil
}

// InstrumentFile opens the result's attached instrument file. The caller
// closes the reader.
func (s *Service) InstrumentFile(ctx context.Context, id uuid.UUID) (blobstore.Object, io.ReadCloser, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		return blobstore.Object{}, nil, err
	}
	if res.InstrumentFile == nil || s.files == nil {
		return blobstore.Object{}, nil, apperr.NotFound("instrument file")
	}
	obj, rc, err := s.files.Get(ctx, *res.InstrumentFile)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return blobstore.Object{}, nil, apperr.NotFound("instrument file")
	}
	return obj, rc, err
}
