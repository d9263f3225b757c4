package sources

import "github.com/sells-group/compliance-cli/internal/model"

// GenericSelectors are the conservative selectors used for unknown sources
// and for any field a known source leaves unconfigured.
func GenericSelectors() model.Selectors {
	return model.Selectors{
		model.FieldProductName:     `h1, .product-title, .title, [data-testid="product-title"]`,
		model.FieldBrand:           `.brand, .product-brand, .manufacturer, [data-testid="brand"]`,
		model.FieldDescription:     `.description, .product-description, .product-details`,
		model.FieldPrice:           `.price, .product-price, .cost, .amount, [data-testid="price"]`,
		model.FieldMRP:             `.mrp, .original-price, .strike-price`,
		model.FieldWeight:          `.weight, .quantity, .net-weight, .product-weight`,
		model.FieldCountryOfOrigin: `.country-origin, .origin, .made-in`,
		model.FieldManufacturer:    `.manufacturer, .brand-owner, .company`,
		model.FieldImages:          `img[src*="product"], .product-image img, .gallery img, [data-testid="product-image"]`,
		model.FieldDetails:         `.product-details, .specifications, .details`,
	}
}

// GenericConfig is returned for sources that match nothing in the table.
func GenericConfig() model.SourceConfig {
	return model.SourceConfig{
		Name:      UnknownPlatform,
		Strategy:  model.StrategyStatic,
		Selectors: GenericSelectors(),
	}
}

func builtinConfigs() []model.SourceConfig {
	return []model.SourceConfig{
		{
			Name:     "Amazon India",
			Domain:   "amazon.in",
			Fragment: "amazon",
			Strategy: model.StrategyRendered,
			Selectors: model.Selectors{
				model.FieldProductName: "#productTitle",
				model.FieldPrice:       ".a-price-whole",
				model.FieldMRP:         ".a-price.a-text-price .a-offscreen",
				model.FieldBrand:       "#bylineInfo",
				model.FieldWeight:      "#feature-bullets ul li span",
				model.FieldImages:      "#landingImage, .a-dynamic-image",
				model.FieldDetails:     "#feature-bullets, #productDetails_techSpec_section_1",
			},
		},
		{
			Name:     "Flipkart",
			Domain:   "flipkart.com",
			Fragment: "flipkart",
			Strategy: model.StrategyRendered,
			Selectors: model.Selectors{
				model.FieldProductName: ".B_NuCI",
				model.FieldPrice:       "._30jeq3._16Jk6d",
				model.FieldMRP:         "._3I9_wc._2p6lqe",
				model.FieldBrand:       "._2WkVRV",
				model.FieldWeight:      "._21Ahn-",
				model.FieldImages:      "._396cs4 img",
				model.FieldDetails:     "._1mXcCf",
			},
		},
		{
			Name:     "Myntra",
			Domain:   "myntra.com",
			Fragment: "myntra",
			Strategy: model.StrategyStatic,
			Selectors: model.Selectors{
				model.FieldProductName: ".pdp-name",
				model.FieldPrice:       ".pdp-price strong",
				model.FieldMRP:         ".pdp-mrp",
				model.FieldBrand:       ".pdp-title",
				model.FieldImages:      ".image-grid-image",
				model.FieldDetails:     ".index-productDetailsContainer",
			},
		},
	}
}

// UnknownPlatform names sources that Identify cannot place.
const UnknownPlatform = "Unknown Platform"

// platformNames maps marketplace domains to display names.
var platformNames = []struct {
	domain string
	name   string
}{
	{"amazon.in", "Amazon India"},
	{"flipkart.com", "Flipkart"},
	{"myntra.com", "Myntra"},
	{"ajio.com", "Ajio"},
	{"nykaa.com", "Nykaa"},
	{"bigbasket.com", "BigBasket"},
	{"grofers.com", "Grofers"},
	{"paytmmall.com", "Paytm Mall"},
}
