package store

import (
	"fmt"
	"regexp"
	"time"
)

const selectRowColumnsPrefixed = `r.tenant_id, r.resource_type, r.resource_id, r.version_id, r.fhir_version, r.is_current, r.is_deleted, r.content, r.last_updated, r.created_at`

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// shiftPlaceholders renumbers a CompiledQuery's $1-based placeholders so
// they append after the base args (tenant id, resource type) already bound
// in the outer query, and returns the matching arg slice in new order.
func shiftPlaceholders(where string, args []interface{}, base int) (string, []interface{}) {
	shifted := placeholderPattern.ReplaceAllStringFunc(where, func(m string) string {
		var n int
		fmt.Sscanf(m, "$%d", &n)
		return fmt.Sprintf("$%d", n+base)
	})
	return shifted, args
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
