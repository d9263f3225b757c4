package extract

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Longer alternatives come first so "kg" is never read as "k" + "g" and
// "grams" never stops at "g".
const (
	number    = `\d+(?:\.\d+)?`
	unitAlts  = `kilograms?|kgs?|grams?|gms?|g|millilitres?|milliliters?|ml|litres?|liters?|ltrs?|l|pieces?|pcs|units?`
	unitGroup = `(?:` + unitAlts + `)\b`
	quantity  = number + `\s*` + unitGroup
)

// weightPatterns are tried in order; the first match wins.
var weightPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)net\s*(?:weight|wt\.?|quantity|qty)[:\s-]*(` + quantity + `)`),
	regexp.MustCompile(`(?i)(?:weight|quantity|volume|qty)[:\s-]*(` + quantity + `)`),
	regexp.MustCompile(`(?i)(` + quantity + `)`),
}

const countryWords = `([a-z]+(?:[ \t]+[a-z]+){0,3})`

// countryPatterns are tried in order; the first match wins.
var countryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)country\s*of\s*origin[:\s-]*` + countryWords),
	regexp.MustCompile(`(?i)made\s*in[:\s-]*` + countryWords),
	regexp.MustCompile(`(?i)origin[:\s-]*` + countryWords),
}

var (
	unitRe   = regexp.MustCompile(`(?i)` + quantity)
	numberRe = regexp.MustCompile(number)
)

// HasUnit reports whether s contains a number followed by a weight, volume
// or count unit. "500g" and "1.5 L" match; "500" does not.
func HasUnit(s string) bool {
	return unitRe.MatchString(norm.NFKC.String(s))
}

// FindWeight returns the first weight-like quantity in text, or "".
func FindWeight(text string) string {
	for _, re := range weightPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// FindCountry returns the title-cased country following an origin label,
// or "". The capture stops at the end of the line.
func FindCountry(text string) string {
	for _, re := range countryPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			c := strings.TrimSpace(m[1])
			if c == "" {
				continue
			}
			// Casers are stateful; one per call keeps concurrent scans safe.
			return cases.Title(language.English).String(c)
		}
	}
	return ""
}

// ParsePrice strips currency symbols and thousands separators and parses
// the first numeric token. "₹1,299.00" yields 1299.
func ParsePrice(text string) (float64, bool) {
	s := strings.ReplaceAll(norm.NFKC.String(text), ",", "")
	tok := numberRe.FindString(s)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
