package searchengine

import (
	"fmt"
	"sort"
	"strings"

	fhirsearch "github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/store"
)

// specialParams are FHIR result-parameters, not SearchParameters; Compile
// strips them before validating against the resource's allowed set.
var specialParams = map[string]bool{
	"_sort": true, "_count": true, "_offset": true, "_page": true,
	"_include": true, "_revinclude": true, "_total": true,
	"_summary": true, "_elements": true,
}

// Compile turns parsed query parameters into a store.CompiledQuery, one
// EXISTS clause per parameter ANDed together (FHIR search semantics:
// distinct parameters AND, repeated values for the same parameter OR,
// per spec §4.7). failOnUnknown mirrors config.ValidationFailOnUnknownSearch
// (spec §4.2): when true, a parameter absent from the allowed set is an
// error instead of being silently ignored.
func (e *Engine) Compile(version registry.Version, resourceType string, params map[string][]string, failOnUnknown bool) (store.CompiledQuery, error) {
	allowed := make(map[string]*registry.SearchParameter)
	for _, sp := range e.reg.AllowedSearchParameters(version, resourceType) {
		allowed[sp.Code] = sp
	}

	var clauses []string
	var args []interface{}
	argIdx := 1

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, rawKey := range keys {
		code, modifier := fhirsearch.ParseParamModifier(rawKey)
		if specialParams[code] {
			continue
		}
		sp, ok := allowed[code]
		if !ok {
			if failOnUnknown {
				return store.CompiledQuery{}, &validationError{param: code}
			}
			continue
		}
		for _, value := range params[rawKey] {
			clause, clauseArgs, next := e.compileOne(sp, modifier, value, argIdx)
			if clause == "" {
				continue
			}
			clauses = append(clauses, clause)
			args = append(args, clauseArgs...)
			argIdx = next
		}
	}

	return store.CompiledQuery{
		Where: strings.Join(clauses, " AND "),
		Args:  args,
	}, nil
}

// compileOne builds one EXISTS(...) clause against search_index for a
// single SearchParameter/value pair, reusing the teacher's prefix and
// modifier parsing (internal/platform/fhir/search.go) against the generic
// search_index column set instead of per-type columns.
func (e *Engine) compileOne(sp *registry.SearchParameter, modifier fhirsearch.SearchModifier, value string, argIdx int) (string, []interface{}, int) {
	base := fmt.Sprintf("si.tenant_id = r.tenant_id AND si.resource_type = r.resource_type AND si.resource_id = r.resource_id AND si.param_name = $%d", argIdx)
	args := []interface{}{sp.Code}
	argIdx++

	if modifier == fhirsearch.ModifierMissing {
		want := value == "true"
		op := "EXISTS"
		if want {
			op = "NOT EXISTS"
		}
		return fmt.Sprintf("%s (SELECT 1 FROM search_index si WHERE %s)", op, base), args, argIdx
	}

	var valueClause string
	var valueArgs []interface{}
	switch sp.Type {
	case registry.SPTypeDate:
		parsed := fhirsearch.ParseSearchValue(value)
		start, end, err := parseFlexDate(parsed.Value)
		if err != nil {
			valueClause = fmt.Sprintf("si.string_value = $%d", argIdx)
			valueArgs = []interface{}{value}
			argIdx++
		} else {
			valueClause, valueArgs, argIdx = dateClause(parsed.Prefix, start, end, argIdx)
		}
	case registry.SPTypeNumber, registry.SPTypeQuantity:
		col := "si.number_value"
		if sp.Type == registry.SPTypeQuantity {
			col = "si.quantity_value"
		}
		parsed := fhirsearch.ParseSearchValue(value)
		valueClause, valueArgs, argIdx = numberClause(col, parsed.Prefix, parsed.Value, argIdx)
	case registry.SPTypeToken:
		valueClause, valueArgs, argIdx = tokenClause(value, argIdx)
	case registry.SPTypeReference:
		valueClause, valueArgs, argIdx = referenceClause(value, argIdx)
	case registry.SPTypeURI:
		valueClause = fmt.Sprintf("si.uri_value = $%d", argIdx)
		valueArgs = []interface{}{value}
		argIdx++
	default: // string
		valueClause, valueArgs, argIdx = stringClause(modifier, value, argIdx)
	}

	args = append(args, valueArgs...)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM search_index si WHERE %s AND %s)", base, valueClause), args, argIdx
}

func dateClause(prefix fhirsearch.SearchPrefix, start, end interface{}, argIdx int) (string, []interface{}, int) {
	switch prefix {
	case fhirsearch.PrefixGt, fhirsearch.PrefixSa:
		c := fmt.Sprintf("si.date_start > $%d", argIdx)
		return c, []interface{}{start}, argIdx + 1
	case fhirsearch.PrefixLt, fhirsearch.PrefixEb:
		c := fmt.Sprintf("si.date_end < $%d", argIdx)
		return c, []interface{}{end}, argIdx + 1
	case fhirsearch.PrefixGe:
		c := fmt.Sprintf("si.date_start >= $%d", argIdx)
		return c, []interface{}{start}, argIdx + 1
	case fhirsearch.PrefixLe:
		c := fmt.Sprintf("si.date_end <= $%d", argIdx)
		return c, []interface{}{end}, argIdx + 1
	case fhirsearch.PrefixNe:
		c := fmt.Sprintf("(si.date_start < $%d OR si.date_end > $%d)", argIdx, argIdx+1)
		return c, []interface{}{start, end}, argIdx + 2
	default:
		c := fmt.Sprintf("(si.date_start >= $%d AND si.date_end <= $%d)", argIdx, argIdx+1)
		return c, []interface{}{start, end}, argIdx + 2
	}
}

func numberClause(col string, prefix fhirsearch.SearchPrefix, value string, argIdx int) (string, []interface{}, int) {
	op := "="
	switch prefix {
	case fhirsearch.PrefixGt, fhirsearch.PrefixSa:
		op = ">"
	case fhirsearch.PrefixLt, fhirsearch.PrefixEb:
		op = "<"
	case fhirsearch.PrefixGe:
		op = ">="
	case fhirsearch.PrefixLe:
		op = "<="
	case fhirsearch.PrefixNe:
		op = "!="
	}
	return fmt.Sprintf("%s %s $%d", col, op, argIdx), []interface{}{value}, argIdx + 1
}

func tokenClause(value string, argIdx int) (string, []interface{}, int) {
	if strings.Contains(value, "|") {
		parts := strings.SplitN(value, "|", 2)
		system, code := parts[0], parts[1]
		switch {
		case system != "" && code != "":
			return fmt.Sprintf("(si.token_system = $%d AND si.token_code = $%d)", argIdx, argIdx+1),
				[]interface{}{system, code}, argIdx + 2
		case system != "":
			return fmt.Sprintf("si.token_system = $%d", argIdx), []interface{}{system}, argIdx + 1
		default:
			return fmt.Sprintf("si.token_code = $%d", argIdx), []interface{}{code}, argIdx + 1
		}
	}
	return fmt.Sprintf("si.token_code = $%d", argIdx), []interface{}{value}, argIdx + 1
}

func referenceClause(value string, argIdx int) (string, []interface{}, int) {
	resourceType, id := splitReference(value)
	if resourceType != "" {
		return fmt.Sprintf("(si.reference_type = $%d AND si.reference_id = $%d)", argIdx, argIdx+1),
			[]interface{}{resourceType, id}, argIdx + 2
	}
	return fmt.Sprintf("si.reference_id = $%d", argIdx), []interface{}{id}, argIdx + 1
}

func stringClause(modifier fhirsearch.SearchModifier, value string, argIdx int) (string, []interface{}, int) {
	switch modifier {
	case fhirsearch.ModifierExact:
		return fmt.Sprintf("si.string_value = $%d", argIdx), []interface{}{value}, argIdx + 1
	case fhirsearch.ModifierContains:
		return fmt.Sprintf("si.string_value_normalized ILIKE $%d", argIdx), []interface{}{"%" + normalizeString(value) + "%"}, argIdx + 1
	default:
		return fmt.Sprintf("si.string_value_normalized ILIKE $%d", argIdx), []interface{}{normalizeString(value) + "%"}, argIdx + 1
	}
}
