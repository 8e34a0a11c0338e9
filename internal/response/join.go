package response

import "github.com/kaorahi/katawrap/internal/sorter"

// JoinPairs synthesizes the single joined response for one user-query id
// out of every pair the Joiner accumulated for it, grounded on
// katawrap.py's join_pairs: {id, query, responses}, where query is the
// first pair's request data with turnNumber removed (turnNumber varies
// per response, so it has no place on the shared query).
func JoinPairs(pairs []sorter.Pair) map[string]any {
	query := copyMap(pairs[0].Request.Data)
	delete(query, "turnNumber")

	responses := make([]any, len(pairs))
	for i, p := range pairs {
		responses[i] = p.Response.Data
	}

	return map[string]any{
		"id":        pairs[0].Response.ID,
		"query":     query,
		"responses": responses,
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
