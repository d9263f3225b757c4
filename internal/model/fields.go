package model

import (
	"strconv"
	"strings"
)

// MaxImages caps the number of image URLs kept per product.
const MaxImages = 5

// ExtractedFields holds the candidate product attributes recovered from one
// page. Empty strings and nil pointers mean the field was not found.
type ExtractedFields struct {
	ProductName      string   `json:"product_name,omitempty"`
	Brand            string   `json:"brand,omitempty"`
	Description      string   `json:"description,omitempty"`
	Price            *float64 `json:"price,omitempty"`
	MRP              *float64 `json:"mrp,omitempty"`
	Weight           string   `json:"weight,omitempty"`
	ExtractedWeight  string   `json:"extracted_weight,omitempty"`
	CountryOfOrigin  string   `json:"country_of_origin,omitempty"`
	ExtractedCountry string   `json:"extracted_country,omitempty"`
	Manufacturer     string   `json:"manufacturer,omitempty"`
	Images           []string `json:"images,omitempty"`

	// Extras holds every other extracted key/value pair (raw price text,
	// config-specific selectors such as unit_price).
	Extras map[string]string `json:"extras,omitempty"`
}

// EffectiveWeight is the declared weight, falling back to the weight
// recovered from the details block.
func (f ExtractedFields) EffectiveWeight() string {
	if w := strings.TrimSpace(f.Weight); w != "" {
		return w
	}
	return strings.TrimSpace(f.ExtractedWeight)
}

// EffectiveCountry is the declared country of origin, falling back to the
// country recovered from the details block.
func (f ExtractedFields) EffectiveCountry() string {
	if c := strings.TrimSpace(f.CountryOfOrigin); c != "" {
		return c
	}
	return strings.TrimSpace(f.ExtractedCountry)
}

// AsMap flattens every non-empty field into one string map. Extras never
// overwrite typed fields.
func (f ExtractedFields) AsMap() map[string]string {
	m := make(map[string]string, len(f.Extras)+10)
	for k, v := range f.Extras {
		if v != "" {
			m[k] = v
		}
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put(string(FieldProductName), f.ProductName)
	put(string(FieldBrand), f.Brand)
	put(string(FieldDescription), f.Description)
	put(string(FieldWeight), f.Weight)
	put("extracted_weight", f.ExtractedWeight)
	put(string(FieldCountryOfOrigin), f.CountryOfOrigin)
	put("extracted_country", f.ExtractedCountry)
	put(string(FieldManufacturer), f.Manufacturer)
	if f.Price != nil {
		m[string(FieldPrice)] = strconv.FormatFloat(*f.Price, 'f', -1, 64)
	}
	if f.MRP != nil {
		m[string(FieldMRP)] = strconv.FormatFloat(*f.MRP, 'f', -1, 64)
	}
	if len(f.Images) > 0 {
		m[string(FieldImages)] = strings.Join(f.Images, " ")
	}
	return m
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
