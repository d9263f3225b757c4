package model

// FetchStrategy selects how a source's pages are retrieved.
type FetchStrategy string

const (
	// StrategyStatic issues a single HTTP request.
	StrategyStatic FetchStrategy = "static"
	// StrategyRendered loads the page in a headless browser and waits for
	// scripts to settle.
	StrategyRendered FetchStrategy = "rendered"
)

// Valid reports whether s is a known strategy.
func (s FetchStrategy) Valid() bool {
	return s == StrategyStatic || s == StrategyRendered
}

// Field names a logical product field extracted from a page.
type Field string

const (
	FieldProductName     Field = "product_name"
	FieldBrand           Field = "brand"
	FieldDescription     Field = "description"
	FieldPrice           Field = "price"
	FieldMRP             Field = "mrp"
	FieldWeight          Field = "weight"
	FieldCountryOfOrigin Field = "country_of_origin"
	FieldManufacturer    Field = "manufacturer"
	FieldImages          Field = "images"
	FieldDetails         Field = "product_details"
)

// KnownFields returns the logical fields with a typed slot in ExtractedFields.
func KnownFields() []Field {
	return []Field{
		FieldProductName,
		FieldBrand,
		FieldDescription,
		FieldPrice,
		FieldMRP,
		FieldWeight,
		FieldCountryOfOrigin,
		FieldManufacturer,
		FieldImages,
		FieldDetails,
	}
}

// Selectors maps a logical field to a CSS selector.
type Selectors map[Field]string

// Clone returns an independent copy.
func (s Selectors) Clone() Selectors {
	out := make(Selectors, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SourceConfig is the extraction configuration for one source domain.
// It is resolved once per scan and not modified afterwards.
type SourceConfig struct {
	Name      string        `json:"name" yaml:"name"`
	Domain    string        `json:"domain" yaml:"domain"`
	Fragment  string        `json:"fragment,omitempty" yaml:"fragment"`
	Strategy  FetchStrategy `json:"strategy" yaml:"strategy"`
	Selectors Selectors     `json:"selectors" yaml:"selectors"`
}

// Selector returns the configured selector for f, or "".
func (c SourceConfig) Selector(f Field) string {
	return c.Selectors[f]
}
