package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SearchParameterType is the FHIR SearchParameter.type value set.
type SearchParameterType string

const (
	SPTypeNumber    SearchParameterType = "number"
	SPTypeDate      SearchParameterType = "date"
	SPTypeString    SearchParameterType = "string"
	SPTypeToken     SearchParameterType = "token"
	SPTypeReference SearchParameterType = "reference"
	SPTypeComposite SearchParameterType = "composite"
	SPTypeQuantity  SearchParameterType = "quantity"
	SPTypeURI       SearchParameterType = "uri"
	SPTypeSpecial   SearchParameterType = "special"
)

// SearchParameter is a FHIR SearchParameter document as consumed by the
// search engine: code, base, type, expression, modifier, comparator, url.
type SearchParameter struct {
	URL         string              `json:"url"`
	Code        string              `json:"code"`
	Name        string              `json:"name,omitempty"`
	Base        []string            `json:"base"`
	Type        SearchParameterType `json:"type"`
	Expression  string              `json:"expression,omitempty"`
	Modifier    []string            `json:"modifier,omitempty"`
	Comparator  []string            `json:"comparator,omitempty"`
	Description string              `json:"description,omitempty"`
}

func (p *SearchParameter) isCommon() bool {
	for _, b := range p.Base {
		if b == "Resource" || b == "DomainResource" {
			return true
		}
	}
	return false
}

// getExpression returns the parameter's expression with every `|`-separated
// path not starting with "<resourceType>." removed. If no path matches the
// resourceType (e.g. base=[Resource], whose paths are type-agnostic like
// "Resource.id"), the original expression is returned unchanged.
func getExpression(expr, resourceType string) string {
	if expr == "" {
		return ""
	}
	parts := strings.Split(expr, "|")
	prefix := resourceType + "."
	var matched []string
	for _, p := range parts {
		if strings.HasPrefix(strings.TrimSpace(p), prefix) {
			matched = append(matched, strings.TrimSpace(p))
		}
	}
	if len(matched) == 0 {
		return expr
	}
	return strings.Join(matched, " | ")
}

// searchParamBuckets is the per-version classification of SearchParameter
// documents built at load time, per spec §4.2:
//   - base contains "Resource"        -> resourceBase
//   - base contains "DomainResource"  -> domainBase
//   - else, one entry per base type   -> perType[base]
type searchParamBuckets struct {
	resourceBase []*SearchParameter
	domainBase   []*SearchParameter
	perType      map[string][]*SearchParameter
	byCode       map[string]*SearchParameter // last-write-wins lookup across all buckets, keyed by code
}

// noSearchIndexTypes are resourceTypes for which the domain-base bucket is
// never applied, per spec §4.2 ("type ∉ {Bundle, Parameters, Binary}").
var noSearchIndexTypes = map[string]bool{
	"Bundle":     true,
	"Parameters": true,
	"Binary":     true,
}

func newSearchParamBuckets() *searchParamBuckets {
	return &searchParamBuckets{perType: map[string][]*SearchParameter{}, byCode: map[string]*SearchParameter{}}
}

func (b *searchParamBuckets) add(sp *SearchParameter) {
	classified := false
	for _, base := range sp.Base {
		switch base {
		case "Resource":
			b.resourceBase = append(b.resourceBase, sp)
			classified = true
		case "DomainResource":
			b.domainBase = append(b.domainBase, sp)
			classified = true
		default:
			b.perType[base] = append(b.perType[base], sp)
			classified = true
		}
	}
	if classified {
		b.byCode[sp.Code] = sp
	}
}

// list returns the union of parameters applicable to resourceType, per
// spec §4.2: all resource-base, plus domain-base unless resourceType is
// one of the excluded envelope types, plus the type's own bucket.
func (b *searchParamBuckets) list(resourceType string) []*SearchParameter {
	out := append([]*SearchParameter{}, b.resourceBase...)
	if !noSearchIndexTypes[resourceType] {
		out = append(out, b.domainBase...)
	}
	out = append(out, b.perType[resourceType]...)
	return out
}

// get returns the single parameter matching code across the buckets
// applicable to resourceType, or nil.
func (b *searchParamBuckets) get(resourceType, code string) *SearchParameter {
	for _, sp := range b.list(resourceType) {
		if sp.Code == code {
			return sp
		}
	}
	return nil
}

// loadSearchParameters reads every `*.json` file under
// `<basePath>/<version>/searchparameters` and classifies it into buckets.
// A missing directory for a configured version is not fatal (spec §4.2):
// the version simply yields empty lists.
func loadSearchParameters(basePath string, version Version) (*searchParamBuckets, error) {
	dir := filepath.Join(basePath, string(version), "searchparameters")
	entries, err := os.ReadDir(dir)
	buckets := newSearchParamBuckets()
	if err != nil {
		if os.IsNotExist(err) {
			return buckets, nil
		}
		return nil, fmt.Errorf("registry: read searchparameters dir for %s: %w", version, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("registry: read %s: %w", e.Name(), err)
		}
		var sp SearchParameter
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, fmt.Errorf("registry: parse %s: %w", e.Name(), err)
		}
		if sp.Code == "" || len(sp.Base) == 0 {
			return nil, fmt.Errorf("registry: %s missing code or base", e.Name())
		}
		buckets.add(&sp)
	}
	return buckets, nil
}
