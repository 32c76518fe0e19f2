package model

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		amount string
		want   TxnType
	}{
		{"-500.00", TxnDebit},
		{"1200.00", TxnCredit},
		{"0", TxnCredit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeOf(decimal.RequireFromString(tt.amount)), "TypeOf(%s)", tt.amount)
	}
}

func TestEffectiveCategory(t *testing.T) {
	assert.Equal(t, CategoryDisbursement, TrustTransaction{Amount: decimal.NewFromInt(-1)}.EffectiveCategory())
	assert.Equal(t, CategoryDeposit, TrustTransaction{Amount: decimal.NewFromInt(1)}.EffectiveCategory())
	assert.Equal(t, "retainer", TrustTransaction{Amount: decimal.NewFromInt(1), Category: "retainer"}.EffectiveCategory())
}

func TestSkipRatio(t *testing.T) {
	assert.InDelta(t, 0.0, ParsedStatement{}.SkipRatio(), 0.0001)
	assert.InDelta(t, 0.25, ParsedStatement{TotalRows: 4, SkippedRows: 1}.SkipRatio(), 0.0001)
}

func TestAnomalyStatusTerminal(t *testing.T) {
	assert.False(t, AnomalyDetected.IsTerminal())
	assert.False(t, AnomalyFlagged.IsTerminal())
	assert.True(t, AnomalyResolved.IsTerminal())
	assert.True(t, AnomalyDismissed.IsTerminal())
	assert.True(t, AnomalyEscalated.IsTerminal())
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("clearing: %w", &ConflictError{Resource: "transaction", ID: "t1", Reason: "reconciled"})
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "clearing: conflict on transaction t1: reconciled", err.Error())

	nf := fmt.Errorf("load: %w", &NotFoundError{Resource: "schedule", ID: "s1"})
	assert.True(t, IsNotFound(nf))
	assert.Equal(t, "parse csv statement: no transactions", (&ParseError{Format: "csv", Reason: "no transactions"}).Error())
}
