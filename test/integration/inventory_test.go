//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/assignment"
	"github.com/lims/lims/internal/domain/inventory"
	"github.com/lims/lims/internal/platform/apperr"
)

func createReagent(t *testing.T, l *lims, catalogNumber, qty, unitCost string) *inventory.Reagent {
	t.Helper()
	r := &inventory.Reagent{
		Name:            "Nitrate standard",
		CatalogNumber:   catalogNumber,
		Quantity:        dec(qty),
		Unit:            "mL",
		MinimumQuantity: dec("2"),
		UnitCost:        decimal.NewNullDecimal(dec(unitCost)),
	}
	if err := l.inventory.CreateReagent(context.Background(), r); err != nil {
		t.Fatalf("create reagent: %v", err)
	}
	return r
}

func TestReagentUsageUpdatesLedgerAndCost(t *testing.T) {
	ctx := context.Background()
	l := newLIMS(t)
	test, _ := createTest(t, l, "NO2", "0", "1")
	smp := registerSample(t, l)
	a, err := l.assignment.Assign(ctx, assignment.AssignInput{SampleID: smp.ID, TestID: test.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	r := createReagent(t, l, "NS-100", "10", "2.50")

	u, err := l.inventory.RecordUsage(ctx, inventory.UsageInput{AssignmentID: a.ID, ReagentID: r.ID, Quantity: dec("4")})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if !u.TotalCost.Equal(dec("10")) || u.TransactionID == nil {
		t.Errorf("unexpected usage %+v", u)
	}

	got, _ := l.inventory.GetReagent(ctx, r.ID)
	if !got.Quantity.Equal(dec("6")) {
		t.Errorf("expected 6 on hand, got %s", got.Quantity)
	}
	updated, _ := l.assignment.GetAssignment(ctx, a.ID)
	if !updated.ActualCost.Equal(dec("10")) {
		t.Errorf("expected actual cost 10, got %s", updated.ActualCost)
	}
	tx, err := l.inventory.GetTransaction(ctx, *u.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Type != inventory.TxOut || !tx.Quantity.Equal(dec("4")) {
		t.Errorf("unexpected transaction %+v", tx)
	}

	t.Run("RejectPolicyBlocksOverdraw", func(t *testing.T) {
		_, err := l.inventory.RecordUsage(ctx, inventory.UsageInput{AssignmentID: a.ID, ReagentID: r.ID, Quantity: dec("7")})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
		got, _ := l.inventory.GetReagent(ctx, r.ID)
		if !got.Quantity.Equal(dec("6")) {
			t.Errorf("quantity changed after rejected usage: %s", got.Quantity)
		}
	})
}

func TestAllocateCostAcrossCenters(t *testing.T) {
	ctx := context.Background()
	l := newLIMS(t)
	r := createReagent(t, l, "NS-200", "0", "1")

	tx, err := l.inventory.RecordTransaction(ctx, inventory.TransactionInput{
		Type:      inventory.TxIn,
		ReagentID: &r.ID,
		Quantity:  dec("10"),
		UnitCost:  decimal.NewNullDecimal(dec("10")),
		Reason:    "delivery",
	})
	if err != nil {
		t.Fatalf("record transaction: %v", err)
	}

	micro := &inventory.CostCenter{Code: "MICRO", Name: "Microbiology"}
	chem := &inventory.CostCenter{Code: "CHEM", Name: "Chemistry"}
	for _, cc := range []*inventory.CostCenter{micro, chem} {
		if err := l.inventory.CreateCostCenter(ctx, cc); err != nil {
			t.Fatalf("create cost center: %v", err)
		}
	}

	allocs, err := l.inventory.AllocateCost(ctx, tx.ID, []inventory.AllocationInput{
		{CostCenterID: micro.ID, Percentage: dec("33.33")},
		{CostCenterID: chem.ID, Percentage: dec("66.67")},
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.AllocatedCost)
	}
	if !sum.Equal(dec("100")) {
		t.Errorf("allocations should sum to the transaction total, got %s", sum)
	}

	_, err = l.inventory.AllocateCost(ctx, tx.ID, []inventory.AllocationInput{{CostCenterID: micro.ID, Percentage: dec("100")}})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on second allocation, got %v", err)
	}
}
