package backend

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gt3pedia/backend/core/logger"
)

// searchItem is one entry of a grouped cross-resource search response
type searchItem struct {
	ID       int64       `json:"id"`
	Title    string      `json:"title"`
	Subtitle string      `json:"subtitle"`
	Href     string      `json:"href"`
	Type     string      `json:"type"`
	Icon     interface{} `json:"icon"`
}

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 10
)

func normalizeSearchLimit(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultSearchLimit
	}
	if n > maxSearchLimit {
		return maxSearchLimit
	}
	return n
}

// singular is the inverse of the plural route naming convention
func singular(resource string) string {
	if strings.HasSuffix(resource, "ies") {
		return strings.TrimSuffix(resource, "ies") + "y"
	}
	return strings.TrimSuffix(resource, "s")
}

// stringifySummary renders a decoded field value for a search summary
// line. Embedded lists contribute at most their first three entries.
func stringifySummary(value interface{}) string {
	switch typed := value.(type) {
	case string:
		return typed
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case []interface{}:
		var parts []string
		for _, item := range typed {
			if len(parts) == 3 {
				break
			}
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// handleSearchRoute installs the grouped cross-resource search. Every
// registered collection is queried over its own search columns; the
// response maps resource names to short summary items.
func (b *Backend) handleSearchRoute() {
	logger.Default().Debugln("  handle route: /search GET")

	handler := func(w http.ResponseWriter, r *http.Request) {
		response := map[string][]searchItem{}
		for _, rc := range b.config.Collections {
			response[rc.Resource] = []searchItem{}
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeJSON(w, http.StatusOK, response)
			return
		}
		limit := normalizeSearchLimit(r.URL.Query().Get("limit"))
		needle := "%" + strings.ToLower(q) + "%"
		for _, rc := range b.config.Collections {
			items, err := b.collectionHelper[rc.Resource].search(needle, limit)
			if err != nil {
				writeInternalError(w, r, 4791, err)
				return
			}
			response[rc.Resource] = items
		}
		writeJSON(w, http.StatusOK, response)
	}

	b.router.Handle("/search", b.public(handler)).Methods(http.MethodGet)
}
