package response

import (
	"testing"

	"github.com/kaorahi/katawrap/internal/sorter"
)

func reqData(extra map[string]any) map[string]any {
	data := map[string]any{
		"id":           "q1",
		"moves":        []any{[]any{"B", "D4"}, []any{"W", "Q16"}},
		"boardXSize":   float64(19),
		"boardYSize":   float64(19),
		"turnNumber":   float64(0),
		"analyzeTurns": []int{0, 1, 2},
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func TestParseDecodesEngineLine(t *testing.T) {
	data, err := Parse(`{"id":"q1","turnNumber":2}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data["id"] != "q1" {
		t.Fatalf("id = %v, want q1", data["id"])
	}
}

func TestEnrichSetsNextMoveFields(t *testing.T) {
	req := reqData(nil)
	res := map[string]any{
		"id":         "q1",
		"turnNumber": float64(0),
		"moveInfos":  []any{},
	}
	p := sorter.Pair{
		Request:  sorter.Request{ID: "q1", Turn: 0, Data: req},
		Response: sorter.Response{ID: "q1", Turn: 0, Data: res},
	}
	EnrichConfig{}.Enrich(p)
	if res["nextMove"] != "D4" {
		t.Fatalf("nextMove = %v, want D4", res["nextMove"])
	}
	if res["nextMoveColor"] != "B" {
		t.Fatalf("nextMoveColor = %v, want B", res["nextMoveColor"])
	}
	if res["nextMoveSign"] != 1 {
		t.Fatalf("nextMoveSign = %v, want 1", res["nextMoveSign"])
	}
}

func TestEnrichSortsMoveInfosByOrder(t *testing.T) {
	req := reqData(nil)
	res := map[string]any{
		"id":         "q1",
		"turnNumber": float64(0),
		"moveInfos": []any{
			map[string]any{"move": "Q16", "order": float64(2)},
			map[string]any{"move": "D4", "order": float64(0)},
			map[string]any{"move": "D16", "order": float64(1)},
		},
	}
	p := sorter.Pair{
		Request:  sorter.Request{ID: "q1", Turn: 0, Data: req},
		Response: sorter.Response{ID: "q1", Turn: 0, Data: res},
	}
	EnrichConfig{}.Enrich(p)
	infos := res["moveInfos"].([]any)
	first := infos[0].(map[string]any)
	if first["move"] != "D4" {
		t.Fatalf("expected D4 first after sort, got %v", first["move"])
	}
}

func TestEnrichSkipsUnsettlednessWhenNotRequested(t *testing.T) {
	req := reqData(nil)
	res := map[string]any{
		"id":         "q1",
		"turnNumber": float64(0),
		"moveInfos":  []any{},
		"ownership":  make([]any, 19*19),
	}
	p := sorter.Pair{
		Request:  sorter.Request{ID: "q1", Turn: 0, Data: req},
		Response: sorter.Response{ID: "q1", Turn: 0, Data: res},
	}
	EnrichConfig{}.Enrich(p)
	if _, ok := res["unsettledness"]; ok {
		t.Fatalf("unsettledness should not be set without includeUnsettledness, got %v", res["unsettledness"])
	}
}

func TestEnrichComputesUnsettlednessWhenRequested(t *testing.T) {
	req := reqData(map[string]any{"includeUnsettledness": true})
	ownership := make([]any, 19*19)
	for i := range ownership {
		ownership[i] = float64(0)
	}
	res := map[string]any{
		"id":         "q1",
		"turnNumber": float64(0),
		"moveInfos":  []any{},
		"ownership":  ownership,
		"rootInfo":   map[string]any{"currentPlayer": "W"},
	}
	p := sorter.Pair{
		Request:  sorter.Request{ID: "q1", Turn: 0, Data: req},
		Response: sorter.Response{ID: "q1", Turn: 0, Data: res},
	}
	EnrichConfig{}.Enrich(p)
	if _, ok := res["unsettledness"]; !ok {
		t.Fatalf("expected unsettledness to be computed, got %v", res)
	}
	if _, ok := res["ownershipDistribution"]; !ok {
		t.Fatalf("expected ownershipDistribution to be computed, got %v", res)
	}
}

func TestEnrichAttachesBoardOnlyWhenIncludeOwnership(t *testing.T) {
	req := reqData(map[string]any{"includeOwnership": true})
	res := map[string]any{
		"id":         "q1",
		"turnNumber": float64(0),
		"rootInfo":   map[string]any{"currentPlayer": "B"},
		"moveInfos":  []any{map[string]any{"move": "D4", "order": float64(0)}},
	}
	p := sorter.Pair{
		Request:  sorter.Request{ID: "q1", Turn: 0, Data: req},
		Response: sorter.Response{ID: "q1", Turn: 0, Data: res},
	}
	EnrichConfig{}.Enrich(p)
	infos := res["moveInfos"].([]any)
	info := infos[0].(map[string]any)
	if _, ok := info["board"]; !ok {
		t.Fatalf("expected a board field on moveInfos when includeOwnership is set")
	}
}

func TestCookSuccessivePairsSetsGainsAndNextRootInfo(t *testing.T) {
	res0 := map[string]any{"winrate": 0.5, "scoreLead": 1.0, "moyoLead": 2.0, "unsettledness": 3.0, "nextMoveSign": 1}
	res1 := map[string]any{"winrate": 0.6, "scoreLead": 1.5, "moyoLead": 2.5, "unsettledness": 2.0, "rootInfo": map[string]any{"visits": float64(100)}}
	prev := sorter.Pair{Response: sorter.Response{ID: "q1", Turn: 0, Data: res0}}
	curr := sorter.Pair{Response: sorter.Response{ID: "q1", Turn: 1, Data: res1}}
	CookSuccessivePairs(prev, curr)
	if res0["nextRootInfo"] == nil {
		t.Fatalf("expected nextRootInfo to be set")
	}
	if g, ok := res0["nextMoyoGain"].(float64); !ok || g <= 0 {
		t.Fatalf("nextMoyoGain = %v, want a positive gain", res0["nextMoyoGain"])
	}
	if g, ok := res0["nextUnsettlednessGain"].(float64); !ok || g >= 0 {
		t.Fatalf("nextUnsettlednessGain = %v, want a negative gain (sign is always +1)", res0["nextUnsettlednessGain"])
	}
	if _, ok := res0["nextWinrateGain"]; ok {
		t.Fatalf("expected no nextWinrateGain: top-level winrate is never populated without -extra=excess")
	}
	if _, ok := res0["nextScoreGain"]; ok {
		t.Fatalf("expected no nextScoreGain: top-level scoreLead is never populated without -extra=excess")
	}
}

func TestJoinPairsBuildsIDQueryAndResponses(t *testing.T) {
	reqData := map[string]any{"id": "q1", "moves": []any{}, "turnNumber": float64(5)}
	pairs := []sorter.Pair{
		{
			Request:  sorter.Request{ID: "q1", Turn: 0, Data: reqData},
			Response: sorter.Response{ID: "q1", Turn: 0, Data: map[string]any{"id": "q1", "turnNumber": float64(0)}},
		},
		{
			Request:  sorter.Request{ID: "q1", Turn: 1, Data: reqData},
			Response: sorter.Response{ID: "q1", Turn: 1, Data: map[string]any{"id": "q1", "turnNumber": float64(1)}},
		},
	}
	out := JoinPairs(pairs)
	if out["id"] != "q1" {
		t.Fatalf("id = %v, want q1", out["id"])
	}
	query, ok := out["query"].(map[string]any)
	if !ok {
		t.Fatalf("query not a map: %v", out["query"])
	}
	if _, ok := query["turnNumber"]; ok {
		t.Fatalf("expected turnNumber removed from query, got %v", query)
	}
	responses, ok := out["responses"].([]any)
	if !ok || len(responses) != 2 {
		t.Fatalf("responses = %v, want 2 entries", out["responses"])
	}
}
