package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TxIn         = "in"
	TxOut        = "out"
	TxAdjustment = "adjustment"
)

var validTxTypes = map[string]bool{TxIn: true, TxOut: true, TxAdjustment: true}

const (
	PolicyAllow  = "allow"
	PolicyReject = "reject"
)

const DefaultExpiryWarningDays = 30

// Reagent is a consumable with lot and expiry tracking.
type Reagent struct {
	ID              uuid.UUID           `json:"id"`
	Name            string              `json:"name"`
	CatalogNumber   string              `json:"catalog_number"`
	Manufacturer    *string             `json:"manufacturer,omitempty"`
	LotNumber       *string             `json:"lot_number,omitempty"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Unit            string              `json:"unit"`
	MinimumQuantity decimal.Decimal     `json:"minimum_quantity"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	ExpiryDate      *time.Time          `json:"expiry_date,omitempty"`
	StorageLocation *string             `json:"storage_location,omitempty"`
	LabID           *uuid.UUID          `json:"lab_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (r *Reagent) IsLowStock() bool {
	return r.Quantity.LessThanOrEqual(r.MinimumQuantity)
}

// IsExpiringSoon reports whether the reagent expires within days of now,
// including reagents already past expiry.
func (r *Reagent) IsExpiringSoon(now time.Time, days int) bool {
	if r.ExpiryDate == nil {
		return false
	}
	return !r.ExpiryDate.After(now.AddDate(0, 0, days))
}

// Value is quantity × unit cost, or false when the cost is unknown.
func (r *Reagent) Value() (decimal.Decimal, bool) {
	if !r.UnitCost.Valid {
		return decimal.Zero, false
	}
	return r.Quantity.Mul(r.UnitCost.Decimal), true
}

// StockItem is a non-reagent supply such as tubes or gloves.
type StockItem struct {
	ID              uuid.UUID           `json:"id"`
	Name            string              `json:"name"`
	ItemCode        string              `json:"item_code"`
	Category        *string             `json:"category,omitempty"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Unit            string              `json:"unit"`
	MinimumQuantity decimal.Decimal     `json:"minimum_quantity"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	Supplier        *string             `json:"supplier,omitempty"`
	StorageLocation *string             `json:"storage_location,omitempty"`
	LabID           *uuid.UUID          `json:"lab_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (s *StockItem) IsLowStock() bool {
	return s.Quantity.LessThanOrEqual(s.MinimumQuantity)
}

func (s *StockItem) Value() (decimal.Decimal, bool) {
	if !s.UnitCost.Valid {
		return decimal.Zero, false
	}
	return s.Quantity.Mul(s.UnitCost.Decimal), true
}

// Transaction is one movement in the inventory ledger. Exactly one of
// ReagentID and StockItemID is set.
type Transaction struct {
	ID          uuid.UUID           `json:"id"`
	Type        string              `json:"transaction_type"`
	ReagentID   *uuid.UUID          `json:"reagent_id,omitempty"`
	StockItemID *uuid.UUID          `json:"stock_item_id,omitempty"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitCost    decimal.NullDecimal `json:"unit_cost"`
	TotalCost   decimal.NullDecimal `json:"total_cost"`
	Reason      *string             `json:"reason,omitempty"`
	PerformedBy *uuid.UUID          `json:"performed_by,omitempty"`
	PerformedAt time.Time           `json:"performed_at"`
	CreatedAt   time.Time           `json:"created_at"`

	// Read-only, joined from the reagent or stock item.
	ItemName string `json:"item_name,omitempty"`
}

// CostCenter is a budget holder that transaction costs are charged to.
type CostCenter struct {
	ID            uuid.UUID           `json:"id"`
	Code          string              `json:"code"`
	Name          string              `json:"name"`
	Description   *string             `json:"description,omitempty"`
	MonthlyBudget decimal.NullDecimal `json:"monthly_budget"`
	YearlyBudget  decimal.NullDecimal `json:"yearly_budget"`
	ManagerID     *uuid.UUID          `json:"manager_id,omitempty"`
	Active        bool                `json:"active"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// CostAllocation charges a share of one transaction to one cost center.
type CostAllocation struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	CostCenterID  uuid.UUID       `json:"cost_center_id"`
	Percentage    decimal.Decimal `json:"percentage"`
	AllocatedCost decimal.Decimal `json:"allocated_cost"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReagentUsage records reagent consumed by a test assignment. The unit
// cost is copied from the reagent when the usage is recorded and never
// re-derived.
type ReagentUsage struct {
	ID              uuid.UUID       `json:"id"`
	AssignmentID    uuid.UUID       `json:"assignment_id"`
	ReagentID       uuid.UUID       `json:"reagent_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCostAtUsage decimal.Decimal `json:"unit_cost_at_usage"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TransactionID   *uuid.UUID      `json:"transaction_id,omitempty"`
	UsedBy          *uuid.UUID      `json:"used_by,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	UsedAt          time.Time       `json:"used_at"`

	ReagentName string `json:"reagent_name,omitempty"`
}
