// Package rules evaluates extracted product fields against the Legal
// Metrology labelling rules and scores the result.
package rules

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/compliance-cli/internal/extract"
	"github.com/sells-group/compliance-cli/internal/model"
)

// CheckFunc reports whether a product passes a rule.
type CheckFunc func(f model.ExtractedFields, raw map[string]string) bool

// Rule pairs a rule's metadata with its check.
type Rule struct {
	Meta  model.ComplianceRule
	Check CheckFunc
}

// Fallback keys consulted in the flattened field map when the primary
// field is empty. Order matters only for evidence readability.
var (
	weightKeys       = []string{"weight", "net_weight", "quantity", "volume", "size"}
	priceKeys        = []string{"price", "mrp", "cost", "amount", "rate"}
	originKeys       = []string{"country_of_origin", "origin", "made_in", "manufactured_in"}
	manufacturerKeys = []string{"manufacturer", "packer", "company", "brand_owner"}
	unitPriceKeys    = []string{"unit_price", "price_per_unit", "rate_per_kg", "cost_per_gram"}
)

// DefaultTable returns the five rules in evaluation order.
func DefaultTable() []Rule {
	return []Rule{
		{
			Meta: model.ComplianceRule{
				ID:          "LM001",
				Name:        "Weight Declaration Mandatory",
				Description: "Products must declare weight in metric units",
				Category:    model.CategoryWeightDeclaration,
				Severity:    model.SeverityHigh,
				Reference:   "Rule 6(1) - Legal Metrology Rules 2011",
			},
			Check: checkWeight,
		},
		{
			Meta: model.ComplianceRule{
				ID:          "LM002",
				Name:        "Price Display Required",
				Description: "Maximum retail price must be clearly displayed",
				Category:    model.CategoryPriceDisplay,
				Severity:    model.SeverityCritical,
				Reference:   "Rule 18 - Legal Metrology Rules 2011",
			},
			Check: checkPrice,
		},
		{
			Meta: model.ComplianceRule{
				ID:          "LM003",
				Name:        "Country of Origin",
				Description: "Country of origin must be declared",
				Category:    model.CategoryCountryOfOrigin,
				Severity:    model.SeverityMedium,
				Reference:   "Rule 8 - Legal Metrology Rules 2011",
			},
			Check: checkOrigin,
		},
		{
			Meta: model.ComplianceRule{
				ID:          "LM004",
				Name:        "Manufacturer Information",
				Description: "Name and address of manufacturer/packer required",
				Category:    model.CategoryManufacturerInfo,
				Severity:    model.SeverityHigh,
				Reference:   "Rule 7 - Legal Metrology Rules 2011",
			},
			Check: checkManufacturer,
		},
		{
			Meta: model.ComplianceRule{
				ID:          "LM005",
				Name:        "Unit Pricing",
				Description: "Price per unit weight/volume must be displayed",
				Category:    model.CategoryUnitPricing,
				Severity:    model.SeverityMedium,
				Reference:   "Rule 19 - Legal Metrology Rules 2011",
			},
			Check: checkUnitPricing,
		},
	}
}

func present(s string) bool { return strings.TrimSpace(s) != "" }

func anyPresent(raw map[string]string, keys []string) bool {
	for _, k := range keys {
		if present(raw[k]) {
			return true
		}
	}
	return false
}

// checkWeight passes when the declared weight, the details-block weight or
// any weight-like raw value carries a unit.
func checkWeight(f model.ExtractedFields, raw map[string]string) bool {
	if extract.HasUnit(f.Weight) || extract.HasUnit(f.ExtractedWeight) {
		return true
	}
	for _, k := range weightKeys {
		if extract.HasUnit(raw[k]) {
			return true
		}
	}
	return false
}

func checkPrice(f model.ExtractedFields, raw map[string]string) bool {
	if f.Price != nil && *f.Price > 0 {
		return true
	}
	if f.MRP != nil && *f.MRP > 0 {
		return true
	}
	for _, k := range priceKeys {
		if v, ok := extract.ParsePrice(raw[k]); ok && v > 0 {
			return true
		}
	}
	return false
}

func checkOrigin(f model.ExtractedFields, raw map[string]string) bool {
	return present(f.EffectiveCountry()) || anyPresent(raw, originKeys)
}

func checkManufacturer(f model.ExtractedFields, raw map[string]string) bool {
	return present(f.Manufacturer) || anyPresent(raw, manufacturerKeys)
}

// checkUnitPricing passes when a non-zero price and a weight are both known, or when
// a unit price was extracted directly.
func checkUnitPricing(f model.ExtractedFields, raw map[string]string) bool {
	if f.Price != nil && *f.Price > 0 && present(f.EffectiveWeight()) {
		return true
	}
	return anyPresent(raw, unitPriceKeys)
}

// Engine runs a fixed rule table. It is read-only after construction and
// safe for concurrent use.
type Engine struct {
	table []Rule
}

// NewEngine returns an engine over table.
func NewEngine(table []Rule) *Engine {
	t := make([]Rule, len(table))
	copy(t, table)
	return &Engine{table: t}
}

// RuleCount is the denominator of the score.
func (e *Engine) RuleCount() int { return len(e.table) }

// Catalog returns the rule metadata in evaluation order.
func (e *Engine) Catalog() []model.ComplianceRule {
	out := make([]model.ComplianceRule, len(e.table))
	for i, r := range e.table {
		out[i] = r.Meta
	}
	return out
}

// Evaluate runs every rule against f for the product identified by
// productID and returns one open violation per failed rule plus the score.
// Evidence is the product snapshot and the flattened field map.
func (e *Engine) Evaluate(productID string, product model.ProductSnapshot, f model.ExtractedFields, now time.Time) ([]model.Violation, float64) {
	raw := f.AsMap()
	var out []model.Violation
	for _, r := range e.table {
		if r.Check(f, raw) {
			continue
		}
		out = append(out, model.Violation{
			ID:          uuid.NewString(),
			ProductID:   productID,
			RuleID:      r.Meta.ID,
			Category:    r.Meta.Category,
			Severity:    r.Meta.Severity,
			Description: r.Meta.Name + ": " + r.Meta.Description,
			Reference:   r.Meta.Reference,
			Evidence: model.Evidence{
				Product:   product,
				Extracted: copyMap(raw),
				RuleID:    r.Meta.ID,
			},
			Status:     model.ViolationOpen,
			DetectedAt: now.UTC(),
		})
	}
	return out, Score(out, len(e.table))
}

// Score is max(0, 100 - sum(severity weights)/total*100), rounded to two
// decimals. A zero total scores 100.
func Score(violations []model.Violation, total int) float64 {
	if total <= 0 {
		return 100
	}
	var sum float64
	for _, v := range violations {
		sum += v.Severity.Weight()
	}
	s := math.Max(0, 100-sum/float64(total)*100)
	return math.Round(s*100) / 100
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
