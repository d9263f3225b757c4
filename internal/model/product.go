package model

import "time"

// ComplianceStatus is the outcome of the latest scan of a product.
type ComplianceStatus string

const (
	StatusPending      ComplianceStatus = "pending"
	StatusCompliant    ComplianceStatus = "compliant"
	StatusNonCompliant ComplianceStatus = "non_compliant"
	StatusUnderReview  ComplianceStatus = "under_review"
)

// UnknownProductName is stored when a page yields no product name.
const UnknownProductName = "Unknown Product"

// ScannedProduct is the long-lived record for one product identity.
type ScannedProduct struct {
	ID               string           `json:"id"`
	URL              string           `json:"url"`
	SourceRef        string           `json:"source_ref,omitempty"`
	CategoryRef      string           `json:"category_ref,omitempty"`
	Name             string           `json:"product_name"`
	Brand            string           `json:"brand,omitempty"`
	Price            *float64         `json:"price,omitempty"`
	Weight           string           `json:"weight,omitempty"`
	CountryOfOrigin  string           `json:"country_of_origin,omitempty"`
	Manufacturer     string           `json:"manufacturer,omitempty"`
	Fields           ExtractedFields  `json:"extracted_data"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	ViolationCount   int              `json:"violation_count"`
	Score            float64          `json:"compliance_score"`
	LastScannedAt    *time.Time       `json:"last_scanned,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ApplyFields copies the extracted attributes onto the record.
func (p *ScannedProduct) ApplyFields(f ExtractedFields) {
	p.Fields = f
	p.Name = f.ProductName
	if p.Name == "" {
		p.Name = UnknownProductName
	}
	p.Brand = f.Brand
	p.Price = f.Price
	p.Weight = f.EffectiveWeight()
	p.CountryOfOrigin = f.EffectiveCountry()
	p.Manufacturer = f.Manufacturer
}

// Snapshot returns the evidence view of the product's key fields.
func (p *ScannedProduct) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		Name:            p.Name,
		Brand:           p.Brand,
		Price:           p.Price,
		Weight:          p.Weight,
		CountryOfOrigin: p.CountryOfOrigin,
		Manufacturer:    p.Manufacturer,
	}
}

// ScanRecord is one append-only history row written alongside each upsert.
type ScanRecord struct {
	ID               string           `json:"id"`
	ProductID        string           `json:"product_id"`
	SourceRef        string           `json:"source_ref,omitempty"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	Score            float64          `json:"compliance_score"`
	ViolationCount   int              `json:"violation_count"`
	RuleIDs          []string         `json:"rule_ids"`
	ScannedAt        time.Time        `json:"scanned_at"`
}
