// Package extract turns fetched HTML into typed product fields.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/compliance-cli/internal/fetcher"
	"github.com/sells-group/compliance-cli/internal/model"
)

// Extractor applies a source's selectors to fetched content. It holds no
// state and is safe for concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract parses raw.HTML with the selectors in cfg. A selector that
// matches nothing leaves its field empty; only unparseable input is an
// error.
func (e *Extractor) Extract(raw fetcher.RawContent, cfg model.SourceConfig) (model.ExtractedFields, error) {
	var out model.ExtractedFields

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.HTML))
	if err != nil {
		return out, eris.Wrapf(err, "extract: parse html for %s", raw.URL)
	}

	extras := make(map[string]string)
	text := func(f model.Field) string {
		sel := cfg.Selector(f)
		if sel == "" {
			return ""
		}
		v := firstText(doc, sel)
		if v == "" {
			zap.L().Debug("extract: selector miss",
				zap.String("field", string(f)),
				zap.String("selector", sel),
				zap.String("url", raw.URL),
			)
		}
		return v
	}

	out.ProductName = text(model.FieldProductName)
	out.Brand = text(model.FieldBrand)
	out.Description = text(model.FieldDescription)
	out.Weight = text(model.FieldWeight)
	out.CountryOfOrigin = text(model.FieldCountryOfOrigin)
	out.Manufacturer = text(model.FieldManufacturer)

	if pt := text(model.FieldPrice); pt != "" {
		extras["price_text"] = pt
		if v, ok := ParsePrice(pt); ok {
			out.Price = model.Float64(v)
		}
	}
	if mt := text(model.FieldMRP); mt != "" {
		extras["mrp_text"] = mt
		if v, ok := ParsePrice(mt); ok {
			out.MRP = model.Float64(v)
		}
	}

	if sel := cfg.Selector(model.FieldDetails); sel != "" {
		if details := detailsText(doc, sel); details != "" {
			out.ExtractedWeight = FindWeight(details)
			out.ExtractedCountry = FindCountry(details)
		}
	}

	out.Images = images(doc, cfg.Selector(model.FieldImages), baseURL(doc, raw.URL))

	known := make(map[model.Field]bool)
	for _, f := range model.KnownFields() {
		known[f] = true
	}
	for f, sel := range cfg.Selectors {
		if known[f] || sel == "" {
			continue
		}
		if v := firstText(doc, sel); v != "" {
			extras[string(f)] = v
		}
	}
	if len(extras) > 0 {
		out.Extras = extras
	}
	return out, nil
}

// firstText returns the whitespace-collapsed text of the first match.
func firstText(doc *goquery.Document, selector string) string {
	s := doc.Find(selector).First()
	if s.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}

// detailsText flattens the first details block into lower-cased,
// NFKC-normalised lines, one per text node.
func detailsText(doc *goquery.Document, selector string) string {
	s := doc.Find(selector).First()
	if s.Length() == 0 {
		return ""
	}
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.ToLower(norm.NFKC.String(strings.Join(lines, "\n")))
}

// images resolves the src (or data-src) of the first MaxImages matches.
func images(doc *goquery.Document, selector string, base *url.URL) []string {
	if selector == "" {
		return nil
	}
	var out []string
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= model.MaxImages {
			return false
		}
		if !s.Is("img") {
			if inner := s.Find("img").First(); inner.Length() > 0 {
				s = inner
			}
		}
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(s.AttrOr("data-src", ""))
		}
		if src == "" {
			return true
		}
		out = append(out, resolve(base, src))
		return true
	})
	return out
}

// baseURL honours <base href> when present, else the page URL.
func baseURL(doc *goquery.Document, pageURL string) *url.URL {
	page, err := url.Parse(pageURL)
	if err != nil {
		page = nil
	}
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return page
	}
	b, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	if page != nil {
		return page.ResolveReference(b)
	}
	return b
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
