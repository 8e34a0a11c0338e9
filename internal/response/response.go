// Package response classifies and enriches engine response lines,
// grounded on katawrap.py's handle_invalid_response/cook_pair/
// cook_successive_pairs.
package response

import (
	"github.com/bytedance/sonic"

	"github.com/kaorahi/katawrap/internal/sorter"
)

// Parse decodes one engine response line into the generic map the rest
// of this package classifies and enriches.
func Parse(line string) (map[string]any, error) {
	var data map[string]any
	if err := sonic.UnmarshalString(line, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func idOf(data map[string]any) string {
	id, _ := data["id"].(string)
	return id
}

func turnOf(data map[string]any) int {
	t, _ := data["turnNumber"].(float64)
	return int(t)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func toResponse(data map[string]any) sorter.Response {
	return sorter.Response{ID: idOf(data), Turn: turnOf(data), Data: data}
}
