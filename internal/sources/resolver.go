// Package sources maps product URLs to per-marketplace extraction configs.
package sources

import (
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/compliance-cli/internal/model"
)

// Resolver picks the SourceConfig for a URL. It never fails: unknown
// sources get GenericConfig.
type Resolver struct {
	configs []model.SourceConfig
}

// NewResolver builds a resolver over the built-in table. Extra configs are
// consulted before the built-ins, so they can override a marketplace.
func NewResolver(extra ...model.SourceConfig) *Resolver {
	configs := make([]model.SourceConfig, 0, len(extra)+3)
	for _, c := range extra {
		configs = append(configs, normalizeConfig(c))
	}
	for _, c := range builtinConfigs() {
		configs = append(configs, normalizeConfig(c))
	}
	return &Resolver{configs: configs}
}

// Resolve returns the config for rawURL: exact domain match first, then a
// domain fragment match, then the generic fallback.
func (r *Resolver) Resolve(rawURL string) model.SourceConfig {
	host := hostOf(rawURL)
	if host == "" {
		return GenericConfig()
	}
	registrable := registrableDomain(host)

	for _, c := range r.configs {
		if c.Domain != "" && (host == c.Domain || registrable == c.Domain) {
			return cloneConfig(c)
		}
	}
	for _, c := range r.configs {
		if c.Fragment != "" && strings.Contains(host, c.Fragment) {
			return cloneConfig(c)
		}
	}

	zap.L().Debug("sources: no match, using generic config", zap.String("host", host))
	return GenericConfig()
}

// Configs returns a copy of the resolution table in lookup order.
func (r *Resolver) Configs() []model.SourceConfig {
	out := make([]model.SourceConfig, len(r.configs))
	for i, c := range r.configs {
		out[i] = cloneConfig(c)
	}
	return out
}

// Identify names the marketplace a URL belongs to.
func Identify(rawURL string) string {
	host := hostOf(rawURL)
	for _, p := range platformNames {
		if strings.Contains(host, p.domain) {
			return p.name
		}
	}
	return UnknownPlatform
}

type fileFormat struct {
	Sources []model.SourceConfig `yaml:"sources"`
}

// LoadFile reads extra source configs from a YAML file of the form
//
//	sources:
//	  - name: Nykaa
//	    domain: nykaa.com
//	    strategy: rendered
//	    selectors:
//	      product_name: h1.css-1gc4x7i
func LoadFile(path string) ([]model.SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sources: read %s", path)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, eris.Wrapf(err, "sources: parse %s", path)
	}
	for i, c := range ff.Sources {
		if c.Domain == "" && c.Fragment == "" {
			return nil, eris.Errorf("sources: entry %d (%q) has neither domain nor fragment", i, c.Name)
		}
		if c.Strategy == "" {
			ff.Sources[i].Strategy = model.StrategyStatic
		} else if !c.Strategy.Valid() {
			return nil, eris.Errorf("sources: entry %d (%q) has unknown strategy %q", i, c.Name, c.Strategy)
		}
	}
	return ff.Sources, nil
}

// normalizeConfig lower-cases match keys and fills missing selectors from
// the generic defaults.
func normalizeConfig(c model.SourceConfig) model.SourceConfig {
	c.Domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Domain)), "www.")
	c.Fragment = strings.ToLower(strings.TrimSpace(c.Fragment))
	if !c.Strategy.Valid() {
		c.Strategy = model.StrategyStatic
	}
	merged := GenericSelectors()
	for f, sel := range c.Selectors {
		if strings.TrimSpace(sel) != "" {
			merged[f] = sel
		}
	}
	c.Selectors = merged
	return c
}

func cloneConfig(c model.SourceConfig) model.SourceConfig {
	c.Selectors = c.Selectors.Clone()
	return c
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func registrableDomain(host string) string {
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
