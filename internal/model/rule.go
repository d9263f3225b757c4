package model

// Severity grades how serious a violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight is the score penalty for one violation of this severity.
// Unknown severities weigh as medium.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.75
	case SeverityCritical:
		return 1.0
	default:
		return 0.5
	}
}

// ViolationCategory classifies what kind of declaration is missing.
type ViolationCategory string

const (
	CategoryWeightDeclaration ViolationCategory = "weight_declaration"
	CategoryPriceDisplay      ViolationCategory = "price_display"
	CategoryCountryOfOrigin   ViolationCategory = "country_of_origin"
	CategoryManufacturerInfo  ViolationCategory = "manufacturer_info"
	CategoryUnitPricing       ViolationCategory = "unit_pricing"
)

// ComplianceRule describes one regulatory check.
type ComplianceRule struct {
	ID          string            `json:"rule_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    ViolationCategory `json:"violation_type"`
	Severity    Severity          `json:"severity"`
	Reference   string            `json:"rule_reference"`
}
