package scanner

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// trackingParams are dropped during normalisation. Keys ending in "_" are
// prefixes.
var trackingParams = []string{"utm_", "gclid", "fbclid", "msclkid", "ref_", "_encoding"}

// NormalizeURL canonicalises a product URL so that cosmetic variants of the
// same page map to one identity.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", eris.Wrap(err, "scanner: parse url")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", eris.Errorf("scanner: unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", eris.New("scanner: url has no host")
	}
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	q := u.Query()
	for k := range q {
		if isTracking(k) {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}

	out := scheme + "://" + host + path
	if len(parts) > 0 {
		out += "?" + strings.Join(parts, "&")
	}
	return out, nil
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "_") && strings.HasPrefix(k, p) {
			return true
		}
		if k == p {
			return true
		}
	}
	return false
}

// Identity derives the product id from a normalised URL (UUIDv5 in the URL
// namespace).
func Identity(normalized string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(normalized)).String()
}
