package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/assignment"
	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
)

// AssignmentLedger is the part of the assignment service that reagent
// usage reads and updates.
type AssignmentLedger interface {
	LockAssignment(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	SetActualCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error
}

type Config struct {
	NegativeStockPolicy string
	ExpiryWarningDays   int
}

type Service struct {
	reagents    ReagentRepository
	stock       StockItemRepository
	txs         TransactionRepository
	centers     CostCenterRepository
	usages      UsageRepository
	assignments AssignmentLedger
	tx          db.TxRunner
	cfg         Config
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

type Repos struct {
	Reagents     ReagentRepository
	StockItems   StockItemRepository
	Transactions TransactionRepository
	CostCenters  CostCenterRepository
	Usages       UsageRepository
}

func NewService(repos Repos, assignments AssignmentLedger, tx db.TxRunner, cfg Config,
	m *metrics.Metrics, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	if cfg.NegativeStockPolicy == "" {
		cfg.NegativeStockPolicy = PolicyAllow
	}
	if cfg.ExpiryWarningDays <= 0 {
		cfg.ExpiryWarningDays = DefaultExpiryWarningDays
	}
	return &Service{
		reagents: repos.Reagents, stock: repos.StockItems, txs: repos.Transactions,
		centers: repos.CostCenters, usages: repos.Usages, assignments: assignments,
		tx: tx, cfg: cfg, metrics: m, logger: logger, now: time.Now,
	}
}

// ---- Reagent ----

func validateItem(name, code, unit string, minimum decimal.Decimal, unitCost decimal.NullDecimal) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("name is required")
	}
	if strings.TrimSpace(code) == "" {
		return apperr.Validation("catalog number or item code is required")
	}
	if strings.TrimSpace(unit) == "" {
		return apperr.Validation("unit is required")
	}
	if minimum.IsNegative() {
		return apperr.Validation("minimum_quantity must not be negative")
	}
	if unitCost.Valid && unitCost.Decimal.IsNegative() {
		return apperr.Validation("unit_cost must not be negative")
	}
	if err := CheckQuantity("minimum_quantity", minimum); err != nil {
		return err
	}
	return CheckUnitCost(unitCost)
}

func (s *Service) CreateReagent(ctx context.Context, r *Reagent) error {
	if err := validateItem(r.Name, r.CatalogNumber, r.Unit, r.MinimumQuantity, r.UnitCost); err != nil {
		return err
	}
	if r.Quantity.IsNegative() {
		return apperr.Validation("quantity must not be negative")
	}
	if err := CheckQuantity("quantity", r.Quantity); err != nil {
		return err
	}
	if err := s.reagents.Create(ctx, r); err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("catalog number %s already exists", r.CatalogNumber)
		}
		return err
	}
	return nil
}

func (s *Service) GetReagent(ctx context.Context, id uuid.UUID) (*Reagent, error) {
	return s.reagents.GetByID(ctx, id)
}

// UpdateReagent edits a reagent's descriptive fields. A quantity that
// differs from the stored one is rejected; stock moves through
// transactions and usages only.
func (s *Service) UpdateReagent(ctx context.Context, r *Reagent, quantity *decimal.Decimal) error {
	if err := validateItem(r.Name, r.CatalogNumber, r.Unit, r.MinimumQuantity, r.UnitCost); err != nil {
		return err
	}
	cur, err := s.reagents.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	if quantity != nil && !quantity.Equal(cur.Quantity) {
		return apperr.Validation("quantity changes must be recorded as inventory transactions")
	}
	r.Quantity = cur.Quantity
	return s.reagents.Update(ctx, r)
}

func (s *Service) DeleteReagent(ctx context.Context, id uuid.UUID) error {
	return s.reagents.Delete(ctx, id)
}

func (s *Service) SearchReagents(ctx context.Context, params map[string]string, limit, offset int) ([]*Reagent, int, error) {
	return s.reagents.Search(ctx, params, limit, offset)
}

// ---- Stock Item ----

func (s *Service) CreateStockItem(ctx context.Context, item *StockItem) error {
	if err := validateItem(item.Name, item.ItemCode, item.Unit, item.MinimumQuantity, item.UnitCost); err != nil {
		return err
	}
	if item.Quantity.IsNegative() {
		return apperr.Validation("quantity must not be negative")
	}
	if err := CheckQuantity("quantity", item.Quantity); err != nil {
		return err
	}
	if err := s.stock.Create(ctx, item); err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("item code %s already exists", item.ItemCode)
		}
		return err
	}
	return nil
}

func (s *Service) GetStockItem(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	return s.stock.GetByID(ctx, id)
}

func (s *Service) UpdateStockItem(ctx context.Context, item *StockItem, quantity *decimal.Decimal) error {
	if err := validateItem(item.Name, item.ItemCode, item.Unit, item.MinimumQuantity, item.UnitCost); err != nil {
		return err
	}
	cur, err := s.stock.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	if quantity != nil && !quantity.Equal(cur.Quantity) {
		return apperr.Validation("quantity changes must be recorded as inventory transactions")
	}
	item.Quantity = cur.Quantity
	return s.stock.Update(ctx, item)
}

func (s *Service) DeleteStockItem(ctx context.Context, id uuid.UUID) error {
	return s.stock.Delete(ctx, id)
}

func (s *Service) SearchStockItems(ctx context.Context, params map[string]string, limit, offset int) ([]*StockItem, int, error) {
	return s.stock.Search(ctx, params, limit, offset)
}

// ---- Transactions ----

// TransactionInput describes a manual ledger movement. Quantity is
// positive for in and out; an adjustment carries a signed delta.
type TransactionInput struct {
	Type        string              `json:"transaction_type"`
	ReagentID   *uuid.UUID          `json:"reagent_id,omitempty"`
	StockItemID *uuid.UUID          `json:"stock_item_id,omitempty"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitCost    decimal.NullDecimal `json:"unit_cost"`
	Reason      string              `json:"reason"`
}

func signedDelta(txType string, qty decimal.Decimal) decimal.Decimal {
	if txType == TxOut {
		return qty.Neg()
	}
	return qty
}

// RecordTransaction posts a movement and applies it to the item's
// quantity under a row lock. The unit cost defaults to the item's current
// cost; the total is quantity × unit cost when a cost is known.
func (s *Service) RecordTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	if !validTxTypes[in.Type] {
		return nil, apperr.Validation("invalid transaction_type: %q", in.Type)
	}
	if (in.ReagentID == nil) == (in.StockItemID == nil) {
		return nil, apperr.Validation("exactly one of reagent_id and stock_item_id is required")
	}
	if in.Type == TxAdjustment {
		if in.Quantity.IsZero() {
			return nil, apperr.Validation("adjustment quantity must not be zero")
		}
	} else if !in.Quantity.IsPositive() {
		return nil, apperr.Validation("quantity must be positive")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.Validation("reason is required")
	}
	if err := CheckQuantity("quantity", in.Quantity); err != nil {
		return nil, err
	}
	if err := CheckUnitCost(in.UnitCost); err != nil {
		return nil, err
	}

	t := &Transaction{
		Type:        in.Type,
		ReagentID:   in.ReagentID,
		StockItemID: in.StockItemID,
		Quantity:    in.Quantity,
		UnitCost:    in.UnitCost,
		Reason:      &in.Reason,
		PerformedBy: personnel.ActorID(ctx),
		PerformedAt: s.now(),
	}
	delta := signedDelta(in.Type, in.Quantity)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if in.ReagentID != nil {
			r, err := s.reagents.GetForUpdate(ctx, *in.ReagentID)
			if err != nil {
				return err
			}
			next, err := ApplyDelta(r.Quantity, delta, s.cfg.NegativeStockPolicy)
			if err != nil {
				return err
			}
			if !t.UnitCost.Valid {
				t.UnitCost = r.UnitCost
			}
			t.ItemName = r.Name
			if err := s.reagents.SetQuantity(ctx, r.ID, next); err != nil {
				return err
			}
		} else {
			item, err := s.stock.GetForUpdate(ctx, *in.StockItemID)
			if err != nil {
				return err
			}
			next, err := ApplyDelta(item.Quantity, delta, s.cfg.NegativeStockPolicy)
			if err != nil {
				return err
			}
			if !t.UnitCost.Valid {
				t.UnitCost = item.UnitCost
			}
			t.ItemName = item.Name
			if err := s.stock.SetQuantity(ctx, item.ID, next); err != nil {
				return err
			}
		}
		if t.UnitCost.Valid {
			t.TotalCost = decimal.NewNullDecimal(in.Quantity.Abs().Mul(t.UnitCost.Decimal))
		}
		return s.txs.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.InventoryPosted(t.Type)
	s.logger.Info().
		Str("transaction_id", t.ID.String()).
		Str("type", t.Type).
		Str("item", t.ItemName).
		Str("quantity", t.Quantity.String()).
		Msg("inventory transaction posted")
	return t, nil
}

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.txs.GetByID(ctx, id)
}

func (s *Service) SearchTransactions(ctx context.Context, params map[string]string, limit, offset int) ([]*Transaction, int, error) {
	return s.txs.Search(ctx, params, limit, offset)
}

// ---- Reagent usage ----

// UsageInput records reagent consumed by a test assignment.
type UsageInput struct {
	AssignmentID uuid.UUID       `json:"assignment_id"`
	ReagentID    uuid.UUID       `json:"reagent_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Notes        *string         `json:"notes,omitempty"`
}

// RecordUsage freezes the reagent's current unit cost on a new usage,
// posts the matching out transaction, decrements the reagent and
// recomputes the assignment's actual cost, all in one transaction. The
// assignment row is locked before the reagent row so concurrent usages on
// one assignment sum each other's committed rows.
func (s *Service) RecordUsage(ctx context.Context, in UsageInput) (*ReagentUsage, error) {
	if !in.Quantity.IsPositive() {
		return nil, apperr.Validation("quantity must be positive")
	}
	if err := CheckQuantity("quantity", in.Quantity); err != nil {
		return nil, err
	}
	var u *ReagentUsage
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.assignments.LockAssignment(ctx, in.AssignmentID)
		if err != nil {
			return err
		}
		r, err := s.reagents.GetForUpdate(ctx, in.ReagentID)
		if err != nil {
			return err
		}
		if !r.UnitCost.Valid {
			return fmt.Errorf("%w: reagent %s has no unit cost", apperr.ErrInsufficientData, r.CatalogNumber)
		}
		next, err := ApplyDelta(r.Quantity, in.Quantity.Neg(), s.cfg.NegativeStockPolicy)
		if err != nil {
			return err
		}

		now := s.now()
		actor := personnel.ActorID(ctx)
		unitCost := r.UnitCost.Decimal
		total := in.Quantity.Mul(unitCost)
		reason := fmt.Sprintf("Used for test %s on sample %s", a.TestCode, a.SampleCode)
		t := &Transaction{
			Type:        TxOut,
			ReagentID:   &r.ID,
			Quantity:    in.Quantity,
			UnitCost:    decimal.NewNullDecimal(unitCost),
			TotalCost:   decimal.NewNullDecimal(total),
			Reason:      &reason,
			PerformedBy: actor,
			PerformedAt: now,
			ItemName:    r.Name,
		}
		if err := s.txs.Create(ctx, t); err != nil {
			return err
		}
		if err := s.reagents.SetQuantity(ctx, r.ID, next); err != nil {
			return err
		}

		u = &ReagentUsage{
			AssignmentID:    a.ID,
			ReagentID:       r.ID,
			Quantity:        in.Quantity,
			UnitCostAtUsage: unitCost,
			TotalCost:       total,
			TransactionID:   &t.ID,
			UsedBy:          actor,
			Notes:           in.Notes,
			UsedAt:          now,
			ReagentName:     r.Name,
		}
		if err := s.usages.Create(ctx, u); err != nil {
			return err
		}
		sum, err := s.usages.SumByAssignment(ctx, a.ID)
		if err != nil {
			return err
		}
		return s.assignments.SetActualCost(ctx, a.ID, sum.Round(2))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.InventoryPosted(TxOut)
	s.logger.Info().
		Str("assignment_id", u.AssignmentID.String()).
		Str("reagent", u.ReagentName).
		Str("quantity", u.Quantity.String()).
		Str("total_cost", u.TotalCost.String()).
		Msg("reagent usage recorded")
	return u, nil
}

func (s *Service) ListUsages(ctx context.Context, assignmentID uuid.UUID) ([]*ReagentUsage, error) {
	return s.usages.ListByAssignment(ctx, assignmentID)
}

// ---- Cost centers ----

func (s *Service) CreateCostCenter(ctx context.Context, c *CostCenter) error {
	c.Code = strings.TrimSpace(c.Code)
	if c.Code == "" || strings.TrimSpace(c.Name) == "" {
		return apperr.Validation("code and name are required")
	}
	c.Active = true
	if err := s.centers.Create(ctx, c); err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("cost center %s already exists", c.Code)
		}
		return err
	}
	return nil
}

func (s *Service) GetCostCenter(ctx context.Context, id uuid.UUID) (*CostCenter, error) {
	return s.centers.GetByID(ctx, id)
}

func (s *Service) UpdateCostCenter(ctx context.Context, c *CostCenter) error {
	if strings.TrimSpace(c.Code) == "" || strings.TrimSpace(c.Name) == "" {
		return apperr.Validation("code and name are required")
	}
	return s.centers.Update(ctx, c)
}

func (s *Service) DeleteCostCenter(ctx context.Context, id uuid.UUID) error {
	return s.centers.Delete(ctx, id)
}

func (s *Service) ListCostCenters(ctx context.Context, activeOnly bool, limit, offset int) ([]*CostCenter, int, error) {
	return s.centers.List(ctx, activeOnly, limit, offset)
}

// AllocationInput assigns a percentage of a transaction to a cost center.
type AllocationInput struct {
	CostCenterID uuid.UUID       `json:"cost_center_id"`
	Percentage   decimal.Decimal `json:"percentage"`
}

// AllocateCost splits a transaction's total cost across cost centers.
func (s *Service) AllocateCost(ctx context.Context, transactionID uuid.UUID, shares []AllocationInput) ([]*CostAllocation, error) {
	seen := make(map[uuid.UUID]bool, len(shares))
	pcts := make([]decimal.Decimal, len(shares))
	for i, sh := range shares {
		if seen[sh.CostCenterID] {
			return nil, apperr.Validation("cost center %s listed twice", sh.CostCenterID)
		}
		seen[sh.CostCenterID] = true
		pcts[i] = sh.Percentage
	}

	var out []*CostAllocation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.txs.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if !t.TotalCost.Valid {
			return apperr.Validation("transaction has no total cost to allocate")
		}
		amounts, err := SplitCost(t.TotalCost.Decimal, pcts)
		if err != nil {
			return err
		}
		for i, sh := range shares {
			cc, err := s.centers.GetByID(ctx, sh.CostCenterID)
			if err != nil {
				return err
			}
			if !cc.Active {
				return apperr.Validation("cost center %s is inactive", cc.Code)
			}
			a := &CostAllocation{
				TransactionID: t.ID,
				CostCenterID:  cc.ID,
				Percentage:    sh.Percentage,
				AllocatedCost: amounts[i],
			}
			if err := s.centers.CreateAllocation(ctx, a); err != nil {
				if db.IsUniqueViolation(err) {
					return fmt.Errorf("%w: transaction already allocated to %s", apperr.ErrConflict, cc.Code)
				}
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("transaction_id", transactionID.String()).Int("cost_centers", len(out)).Msg("transaction cost allocated")
	return out, nil
}

func (s *Service) ListAllocations(ctx context.Context, transactionID uuid.UUID) ([]*CostAllocation, error) {
	return s.centers.ListAllocations(ctx, transactionID)
}

// ---- Read-side queries ----

// LowStock lists reagents and stock items at or below their minimum.
type LowStock struct {
	Reagents   []*Reagent   `json:"reagents"`
	StockItems []*StockItem `json:"stock_items"`
}

func (s *Service) LowStock(ctx context.Context) (*LowStock, error) {
	reagents, err := s.reagents.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.stock.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	return &LowStock{Reagents: reagents, StockItems: items}, nil
}

// Expiring lists reagents expiring within days, or the configured warning
// window when days is not positive.
func (s *Service) Expiring(ctx context.Context, days int) ([]*Reagent, error) {
	if days <= 0 {
		days = s.cfg.ExpiryWarningDays
	}
	return s.reagents.ListExpiringBefore(ctx, s.now().AddDate(0, 0, days))
}

func (s *Service) ExpiryWarningDays() int {
	return s.cfg.ExpiryWarningDays
}

// Valuation is Σ quantity × unit cost over items that have a unit cost.
type Valuation struct {
	Reagents   decimal.Decimal `json:"reagents"`
	StockItems decimal.Decimal `json:"stock_items"`
	Total      decimal.Decimal `json:"total"`
	Uncosted   int             `json:"uncosted_items"`
}

const valuationPage = 500

func (s *Service) InventoryValue(ctx context.Context) (*Valuation, error) {
	v := &Valuation{}
	for offset := 0; ; offset += valuationPage {
		items, total, err := s.reagents.Search(ctx, map[string]string{}, valuationPage, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range items {
			if val, ok := r.Value(); ok {
				v.Reagents = v.Reagents.Add(val)
			} else {
				v.Uncosted++
			}
		}
		if len(items) == 0 || offset+len(items) >= total {
			break
		}
	}
	for offset := 0; ; offset += valuationPage {
		items, total, err := s.stock.Search(ctx, map[string]string{}, valuationPage, offset)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if val, ok := it.Value(); ok {
				v.StockItems = v.StockItems.Add(val)
			} else {
				v.Uncosted++
			}
		}
		if len(items) == 0 || offset+len(items) >= total {
			break
		}
	}
	v.Total = v.Reagents.Add(v.StockItems)
	return v, nil
}
