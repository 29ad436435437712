// Package searchengine implements the SearchEngine (C7): extraction of
// SearchIndexRow values from a resource at write time, and compilation of
// a FHIR search query string into the store.CompiledQuery internal/store
// executes against the search_index table.
package searchengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/store"
)

// Engine is the C7 SearchEngine, holding only a registry reference (no
// mutable state) so that reload-via-pointer-swap (design note 9) never
// leaves an Engine holding a stale snapshot.
type Engine struct {
	reg *registry.Registry
}

// New builds an Engine over reg.
func New(reg *registry.Registry) *Engine {
	return &Engine{reg: reg}
}

// ExtractIndexValues walks resource along every allowed SearchParameter's
// FHIRPath-like expression for resourceType/version and produces the
// search_index rows internal/service persists alongside the resource.
func (e *Engine) ExtractIndexValues(resourceType string, version registry.Version, resource map[string]interface{}) ([]store.IndexValue, error) {
	params := e.reg.AllowedSearchParameters(version, resourceType)
	var out []store.IndexValue
	for _, sp := range params {
		expr := e.reg.GetExpression(version, resourceType, sp.Code)
		if expr == "" {
			continue
		}
		for _, raw := range evalExpression(resource, expr) {
			v, ok := toIndexValue(sp, raw)
			if ok {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// evalExpression is a minimal FHIRPath-like evaluator: it supports the
// dotted-segment subset the SearchParameter expressions in spec §4.2's
// fixtures use ("Patient.name.family", "Observation.code.coding.code"),
// descending through maps and flattening arrays as it goes. It does not
// implement the full FHIRPath grammar (no functions, no filters); an
// expression it cannot resolve yields no values rather than an error, so a
// parameter with an exotic expression is silently unindexed rather than
// failing the write.
func evalExpression(resource map[string]interface{}, expression string) []interface{} {
	segments := strings.Split(expression, ".")
	if len(segments) < 2 {
		return nil
	}
	current := []interface{}{map[string]interface{}(resource)}
	for _, seg := range segments[1:] {
		var next []interface{}
		for _, c := range current {
			next = append(next, descend(c, seg)...)
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

func descend(node interface{}, key string) []interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		child, ok := v[key]
		if !ok {
			return nil
		}
		return flatten(child)
	case []interface{}:
		var out []interface{}
		for _, item := range v {
			out = append(out, descend(item, key)...)
		}
		return out
	default:
		return nil
	}
}

func flatten(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		var out []interface{}
		for _, item := range arr {
			out = append(out, item)
		}
		return out
	}
	return []interface{}{v}
}

// toIndexValue maps one extracted raw value into the IndexValue shape
// matching sp.Type, per spec §3's SearchIndexRow column groups.
func toIndexValue(sp *registry.SearchParameter, raw interface{}) (store.IndexValue, bool) {
	iv := store.IndexValue{ParamName: sp.Code, ParamType: string(sp.Type)}
	switch sp.Type {
	case registry.SPTypeString, registry.SPTypeURI:
		s, ok := raw.(string)
		if !ok || s == "" {
			return iv, false
		}
		if sp.Type == registry.SPTypeURI {
			iv.URIValue = s
		} else {
			iv.StringValue = s
			iv.StringValueNormalized = normalizeString(s)
		}
		return iv, true
	case registry.SPTypeNumber, registry.SPTypeQuantity:
		switch n := raw.(type) {
		case float64:
			if sp.Type == registry.SPTypeQuantity {
				iv.QuantityValue = n
			} else {
				iv.NumberValue = n
			}
			return iv, true
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return iv, false
			}
			if sp.Type == registry.SPTypeQuantity {
				iv.QuantityValue = f
			} else {
				iv.NumberValue = f
			}
			return iv, true
		default:
			return iv, false
		}
	case registry.SPTypeDate:
		s, ok := raw.(string)
		if !ok || s == "" {
			return iv, false
		}
		start, end, err := parseFlexDate(s)
		if err != nil {
			return iv, false
		}
		iv.DateStart, iv.DateEnd = start, end
		return iv, true
	case registry.SPTypeToken:
		switch t := raw.(type) {
		case string:
			iv.TokenCode = t
			return iv, true
		case map[string]interface{}:
			if sys, ok := t["system"].(string); ok {
				iv.TokenSystem = sys
			}
			if code, ok := t["code"].(string); ok {
				iv.TokenCode = code
			} else if value, ok := t["value"].(string); ok {
				// Identifier and ContactPoint shape their code as "value"
				// rather than Coding's "code".
				iv.TokenCode = value
			}
			if text, ok := t["display"].(string); ok {
				iv.TokenText = text
			} else if text, ok := t["text"].(string); ok {
				iv.TokenText = text
			}
			if iv.TokenCode == "" && iv.TokenSystem == "" {
				return iv, false
			}
			return iv, true
		default:
			return iv, false
		}
	case registry.SPTypeReference:
		s, ok := raw.(string)
		if ok && s != "" {
			iv.ReferenceType, iv.ReferenceID = splitReference(s)
			return iv, true
		}
		if m, ok := raw.(map[string]interface{}); ok {
			if ref, ok := m["reference"].(string); ok {
				iv.ReferenceType, iv.ReferenceID = splitReference(ref)
				return iv, true
			}
		}
		return iv, false
	default:
		return iv, false
	}
}

func splitReference(ref string) (resourceType, id string) {
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return "", ref
}

// validationError is returned by Compile when a query parameter does not
// name an allowed SearchParameter and spec §4.2's fail-on-unknown mode is
// on.
type validationError struct {
	param string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("searchengine: unknown search parameter %q", e.param)
}

// IsUnknownParameter reports whether err was produced because a query
// parameter is not in the resource's allowed set.
func IsUnknownParameter(err error) bool {
	_, ok := err.(*validationError)
	return ok
}
