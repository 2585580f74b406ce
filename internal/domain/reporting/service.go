package reporting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/assignment"
	"github.com/lims/lims/internal/domain/audit"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/inventory"
	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/domain/sample"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/blobstore"
	"github.com/lims/lims/internal/platform/metrics"
)

type TestLookup interface {
	GetTest(ctx context.Context, id uuid.UUID) (*catalog.Test, error)
}

type InventoryLookup interface {
	GetReagent(ctx context.Context, id uuid.UUID) (*inventory.Reagent, error)
	GetCostCenter(ctx context.Context, id uuid.UUID) (*inventory.CostCenter, error)
	ExpiryWarningDays() int
}

type PersonLookup interface {
	GetPerson(ctx context.Context, id uuid.UUID) (*personnel.Person, error)
}

// ActivityFeed supplies the dashboard's recent audit entries.
type ActivityFeed interface {
	Recent(ctx context.Context, n int) ([]*audit.Entry, error)
}

type Deps struct {
	Tests     TestLookup
	Inventory InventoryLookup
	People    PersonLookup
	Activity  ActivityFeed
}

var sampleStatuses = []string{
	sample.StatusRegistered, sample.StatusInProgress, sample.StatusCompleted,
	sample.StatusRejected, sample.StatusArchived,
}

// Service computes every report on demand. It never writes to the
// database; the only side effect is archiving CSV exports.
type Service struct {
	repo    Repository
	deps    Deps
	files   blobstore.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, deps Deps, files blobstore.Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{repo: repo, deps: deps, files: files, metrics: m, logger: logger, now: time.Now}
}

func validateRange(r Range) error {
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return apperr.Validation("end date must not be before start date")
	}
	return nil
}

func (s *Service) MonthlyCosts(ctx context.Context, year, month int, costCenterID *uuid.UUID) (*MonthlyCosts, error) {
	start, end, err := MonthRange(year, month)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	totals, err := s.repo.TransactionTotals(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("monthly costs: %w", err)
	}
	rep := &MonthlyCosts{
		Period:        Period(year, month),
		TotalCosts:    totals.Total,
		StockInCosts:  totals.StockIn,
		StockOutCosts: totals.StockOut,
	}
	if costCenterID != nil {
		if _, err := s.deps.Inventory.GetCostCenter(ctx, *costCenterID); err != nil {
			return nil, err
		}
		allocated, err := s.repo.AllocatedCost(ctx, *costCenterID, start, end)
		if err != nil {
			return nil, fmt.Errorf("monthly costs: %w", err)
		}
		rep.CostCenterID = costCenterID
		rep.CostCenterAllocated = &allocated
	}
	return rep, nil
}

func (s *Service) TestCost(ctx context.Context, testID uuid.UUID, r Range) (*TestCostReport, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}
	t, err := s.deps.Tests.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	count, total, err := s.repo.CompletedCosts(ctx, testID, r)
	if err != nil {
		return nil, fmt.Errorf("test cost: %w", err)
	}
	return BuildTestCostReport(t, r, count, total), nil
}

func (s *Service) TechnicianWorkload(ctx context.Context, personID uuid.UUID, includeCompleted bool) (*TechnicianWorkload, error) {
	p, err := s.deps.People.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	counts, err := s.repo.TechnicianCounts(ctx, personID, includeCompleted, now, EndOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("technician workload: %w", err)
	}
	return &TechnicianWorkload{TechnicianID: p.ID, Technician: p.FullName(), WorkloadCounts: counts}, nil
}

// Workload reports open samples and tests due in r, which defaults to the
// next seven days.
func (s *Service) Workload(ctx context.Context, r Range) (*WorkloadReport, error) {
	now := s.now().UTC()
	start, end := now, now.AddDate(0, 0, DefaultWorkloadDays)
	if r.From != nil {
		start = *r.From
	}
	if r.To != nil {
		end = *r.To
	}
	if end.Before(start) {
		return nil, apperr.Validation("end date must not be before start date")
	}
	sampleCounts, err := s.repo.SampleStatusCounts(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	testCounts, err := s.repo.AssignmentStatusCounts(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	overdueSamples, overdueTests, err := s.repo.OverdueCounts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	rep := &WorkloadReport{
		PeriodStart:    start,
		PeriodEnd:      end,
		OverdueSamples: overdueSamples,
		OverdueTests:   overdueTests,
	}
	rep.SamplesByStatus, rep.TotalSamples = CountByStatus(sampleStatuses, sampleCounts)
	rep.TestsByStatus, rep.TotalTests = CountByStatus(assignment.Statuses, testCounts)
	return rep, nil
}

// Consumption reports a reagent's run rate over r, which defaults to the
// last thirty days.
func (s *Service) Consumption(ctx context.Context, reagentID uuid.UUID, r Range) (*ConsumptionReport, error) {
	end := s.now().UTC()
	if r.To != nil {
		end = *r.To
	}
	start := end.AddDate(0, 0, -DefaultConsumptionDays)
	if r.From != nil {
		start = *r.From
	}
	if end.Before(start) {
		return nil, apperr.Validation("end date must not be before start date")
	}
	reagent, err := s.deps.Inventory.GetReagent(ctx, reagentID)
	if err != nil {
		return nil, err
	}
	consumed, cost, err := s.repo.ReagentConsumption(ctx, reagentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("reagent consumption: %w", err)
	}
	return BuildConsumption(reagent, start, end, consumed, cost), nil
}

func (s *Service) ReagentUsage(ctx context.Context, reagentID uuid.UUID, r Range) (*ReagentUsageReport, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}
	reagent, err := s.deps.Inventory.GetReagent(ctx, reagentID)
	if err != nil {
		return nil, err
	}
	usage, err := s.repo.ReagentUsageByTest(ctx, reagentID, r)
	if err != nil {
		return nil, fmt.Errorf("reagent usage: %w", err)
	}
	return BuildReagentUsage(reagent, r, usage), nil
}

func (s *Service) CostPerSample(ctx context.Context, r Range) (*CostPerSampleReport, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}
	costs, err := s.repo.SampleCosts(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("cost per sample: %w", err)
	}
	return BuildCostPerSample(r, costs), nil
}

// BudgetStatus compares a cost center's allocations with its budgets. A
// zero year or month means the current one.
func (s *Service) BudgetStatus(ctx context.Context, costCenterID uuid.UUID, year, month int) (*BudgetStatus, error) {
	now := s.now().UTC()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	mStart, mEnd, err := MonthRange(year, month)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	cc, err := s.deps.Inventory.GetCostCenter(ctx, costCenterID)
	if err != nil {
		return nil, err
	}
	monthly, err := s.repo.AllocatedCost(ctx, costCenterID, mStart, mEnd)
	if err != nil {
		return nil, fmt.Errorf("budget status: %w", err)
	}
	yStart, yEnd := YearRange(year)
	yearly, err := s.repo.AllocatedCost(ctx, costCenterID, yStart, yEnd)
	if err != nil {
		return nil, fmt.Errorf("budget status: %w", err)
	}
	return &BudgetStatus{
		CostCenterID: cc.ID,
		CostCenter:   cc.Name,
		Year:         year,
		Month:        month,
		Monthly:      BuildBudgetLine(cc.MonthlyBudget, monthly),
		Yearly:       BuildBudgetLine(cc.YearlyBudget, yearly),
	}, nil
}

// Dashboard gathers the headline counts, the last seven days of sample
// intake and recent activity. Callers with a personnel record also get
// their own workload.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now().UTC()
	today := StartOfDay(now)
	counts, err := s.repo.DashboardCounts(ctx, now, today.AddDate(0, 0, DashboardCalibrationDays))
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	perDay, err := s.repo.SamplesPerDay(ctx, today.AddDate(0, 0, -6), today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	categories, err := s.repo.TestCategories(ctx, dashboardCategoryLimit)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	d := &Dashboard{
		DashboardCounts: counts,
		WeeklySamples:   WeeklySeries(today, perDay),
		TestCategories:  categories,
		RecentActivity:  []*audit.Entry{},
		GeneratedAt:     now,
	}
	if d.TestCategories == nil {
		d.TestCategories = []CategoryCount{}
	}
	if s.deps.Activity != nil {
		recent, err := s.deps.Activity.Recent(ctx, dashboardActivityLimit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dashboard activity feed unavailable")
		} else if recent != nil {
			d.RecentActivity = recent
		}
	}
	if id := personnel.ActorID(ctx); id != nil {
		w, err := s.TechnicianWorkload(ctx, *id, false)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		d.MyWorkload = w
	}
	return d, nil
}

func (s *Service) Measures() []Measure {
	return PredefinedMeasures
}

func (s *Service) EvaluateMeasure(ctx context.Context, id string, params map[string]string) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, apperr.NotFound("measure")
	}
	if err := m.CheckParams(params); err != nil {
		return nil, err
	}
	args, used := m.Args(params)
	results, err := s.repo.Evaluate(ctx, m.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate measure %s: %w", id, err)
	}
	rep := &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		Results:     results,
	}
	if len(used) > 0 {
		rep.Parameters = used
	}
	return rep, nil
}

// Rows returns the rows of an export report for JSON rendering.
func (s *Service) Rows(ctx context.Context, kind string, f ExportFilter) (interface{}, int, error) {
	if err := validateRange(f.Range); err != nil {
		return nil, 0, err
	}
	switch kind {
	case ExportSamples:
		rows, err := s.repo.SampleRows(ctx, f)
		return nonNil(rows), len(rows), err
	case ExportTests:
		rows, err := s.repo.AssignmentRows(ctx, f)
		return nonNil(rows), len(rows), err
	case ExportInventory:
		rows, err := s.repo.InventoryRows(ctx)
		return nonNil(rows), len(rows), err
	case ExportInstruments:
		rows, err := s.repo.InstrumentRows(ctx)
		return nonNil(rows), len(rows), err
	}
	return nil, 0, apperr.Validation("unknown report %q", kind)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// Export writes a report as CSV.
func (s *Service) Export(ctx context.Context, kind string, f ExportFilter, w io.Writer) error {
	if !validExport(kind) {
		return apperr.Validation("unknown report %q", kind)
	}
	if err := validateRange(f.Range); err != nil {
		return err
	}
	switch kind {
	case ExportSamples:
		rows, err := s.repo.SampleRows(ctx, f)
		if err != nil {
			return fmt.Errorf("export samples: %w", err)
		}
		return WriteSamplesCSV(w, rows)
	case ExportTests:
		rows, err := s.repo.AssignmentRows(ctx, f)
		if err != nil {
			return fmt.Errorf("export tests: %w", err)
		}
		return WriteTestsCSV(w, rows)
	case ExportInventory:
		rows, err := s.repo.InventoryRows(ctx)
		if err != nil {
			return fmt.Errorf("export inventory: %w", err)
		}
		return WriteInventoryCSV(w, rows, s.now(), s.deps.Inventory.ExpiryWarningDays())
	default:
		rows, err := s.repo.InstrumentRows(ctx)
		if err != nil {
			return fmt.Errorf("export instruments: %w", err)
		}
		return WriteInstrumentsCSV(w, rows)
	}
}

// ExportCSV renders a report and, when archive is set, stores the same
// bytes in the blob store.
func (s *Service) ExportCSV(ctx context.Context, kind string, f ExportFilter, archive bool) ([]byte, *blobstore.Object, error) {
	var buf bytes.Buffer
	if err := s.Export(ctx, kind, f, &buf); err != nil {
		return nil, nil, err
	}
	if !archive {
		return buf.Bytes(), nil, nil
	}
	if s.files == nil {
		return nil, nil, apperr.Validation("report archiving is not configured")
	}
	key := ArchiveKey(kind, s.now())
	obj, err := s.files.Put(ctx, key, bytes.NewReader(buf.Bytes()), "text/csv")
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobExists) {
			return nil, nil, fmt.Errorf("%w: archive %s already exists", apperr.ErrConflict, key)
		}
		return nil, nil, fmt.Errorf("archive %s: %w", kind, err)
	}
	s.metrics.ExportArchived(kind)
	s.logger.Info().Str("report", kind).Str("key", obj.Key).Int64("size", obj.Size).
		Str("driver", s.files.Driver()).Msg("report archived")
	return buf.Bytes(), &obj, nil
}

// ListArchives lists archived exports, optionally for one report kind.
func (s *Service) ListArchives(ctx context.Context, kind string) ([]blobstore.Object, error) {
	if s.files == nil {
		return []blobstore.Object{}, nil
	}
	prefix := archivePrefix
	if kind != "" {
		if !validExport(kind) {
			return nil, apperr.Validation("unknown report %q", kind)
		}
		prefix += kind + "/"
	}
	objs, err := s.files.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return nonNil(objs), nil
}

// OpenArchive opens one archived export. Keys outside the report archive
// are rejected.
func (s *Service) OpenArchive(ctx context.Context, key string) (blobstore.Object, io.ReadCloser, error) {
	if !strings.HasPrefix(key, archivePrefix) || strings.Contains(key, "..") {
		return blobstore.Object{}, nil, apperr.Validation("invalid archive key")
	}
	if s.files == nil {
		return blobstore.Object{}, nil, apperr.NotFound("archive")
	}
	obj, rc, err := s.files.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return blobstore.Object{}, nil, apperr.NotFound("archive")
		}
		return blobstore.Object{}, nil, fmt.Errorf("open archive: %w", err)
	}
	return obj, rc, nil
}
