package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityWeight(t *testing.T) {
	assert.Equal(t, 0.25, SeverityLow.Weight())
	assert.Equal(t, 0.5, SeverityMedium.Weight())
	assert.Equal(t, 0.75, SeverityHigh.Weight())
	assert.Equal(t, 1.0, SeverityCritical.Weight())
	assert.Equal(t, 0.5, Severity("bogus").Weight())
}

func TestFetchStrategyValid(t *testing.T) {
	assert.True(t, StrategyStatic.Valid())
	assert.True(t, StrategyRendered.Valid())
	assert.False(t, FetchStrategy("ajax").Valid())
}

func TestViolationStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ViolationStatus
		want     bool
	}{
		{ViolationOpen, ViolationInProgress, true},
		{ViolationOpen, ViolationResolved, true},
		{ViolationOpen, ViolationDismissed, true},
		{ViolationInProgress, ViolationResolved, true},
		{ViolationInProgress, ViolationDismissed, true},
		{ViolationInProgress, ViolationOpen, false},
		{ViolationResolved, ViolationOpen, false},
		{ViolationDismissed, ViolationInProgress, false},
		{ViolationOpen, ViolationOpen, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestViolation_ApplyTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := &Violation{Status: ViolationOpen}

	require.NoError(t, v.ApplyTransition(ViolationInProgress, "officer-7", "", now))
	assert.Equal(t, ViolationInProgress, v.Status)
	assert.Equal(t, "officer-7", v.AssignedTo)
	assert.Nil(t, v.ResolvedAt)

	require.NoError(t, v.ApplyTransition(ViolationResolved, "", "label corrected", now))
	assert.Equal(t, "label corrected", v.ResolutionNotes)
	require.NotNil(t, v.ResolvedAt)
	assert.Equal(t, now, *v.ResolvedAt)

	err := v.ApplyTransition(ViolationOpen, "", "", now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestExtractedFields_Effective(t *testing.T) {
	f := ExtractedFields{ExtractedWeight: "500 g", ExtractedCountry: "India"}
	assert.Equal(t, "500 g", f.EffectiveWeight())
	assert.Equal(t, "India", f.EffectiveCountry())

	f.Weight = "1 kg"
	f.CountryOfOrigin = "  Nepal "
	assert.Equal(t, "1 kg", f.EffectiveWeight())
	assert.Equal(t, "Nepal", f.EffectiveCountry())
}

func TestExtractedFields_AsMap(t *testing.T) {
	f := ExtractedFields{
		ProductName: "Basmati Rice",
		Price:       Float64(1299),
		Weight:      "5 kg",
		Images:      []string{"https://a/1.jpg", "https://a/2.jpg"},
		Extras: map[string]string{
			"price_text":   "₹1,299.00",
			"product_name": "should not win",
			"empty":        "",
		},
	}
	m := f.AsMap()
	assert.Equal(t, "Basmati Rice", m["product_name"])
	assert.Equal(t, "1299", m["price"])
	assert.Equal(t, "5 kg", m["weight"])
	assert.Equal(t, "₹1,299.00", m["price_text"])
	assert.Equal(t, "https://a/1.jpg https://a/2.jpg", m["images"])
	assert.NotContains(t, m, "empty")
	assert.NotContains(t, m, "mrp")
}

func TestScannedProduct_ApplyFields(t *testing.T) {
	var p ScannedProduct
	p.ApplyFields(ExtractedFields{ExtractedWeight: "200 ml", Manufacturer: "Acme Foods"})
	assert.Equal(t, UnknownProductName, p.Name)
	assert.Equal(t, "200 ml", p.Weight)
	assert.Equal(t, "Acme Foods", p.Manufacturer)
	assert.Equal(t, "Acme Foods", p.Snapshot().Manufacturer)
}
