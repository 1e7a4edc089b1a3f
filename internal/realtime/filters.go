package realtime

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

// ParseFilters reads the "changes" query value: a comma separated list of
// table:EVENT pairs. A missing event means every operation.
func ParseFilters(raw string) ([]core.ChangeFilter, error) {
	var out []core.ChangeFilter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		table, event, _ := strings.Cut(part, ":")
		if table == "" {
			return nil, fmt.Errorf("change filter %q has no table", part)
		}
		ev := models.ChangeType(strings.ToUpper(event))
		switch ev {
		case "", models.ChangeAny:
			ev = models.ChangeAny
		case models.ChangeInsert, models.ChangeUpdate, models.ChangeDelete:
		default:
			return nil, fmt.Errorf("change filter %q has unknown event %q", part, event)
		}
		out = append(out, core.ChangeFilter{Table: table, Event: ev})
	}
	return out, nil
}

// FormatFilters is the inverse of ParseFilters.
func FormatFilters(filters []core.ChangeFilter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		ev := f.Event
		if ev == "" {
			ev = models.ChangeAny
		}
		parts = append(parts, f.Table+":"+string(ev))
	}
	return strings.Join(parts, ",")
}
