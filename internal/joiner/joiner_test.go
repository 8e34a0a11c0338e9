package joiner

import (
	"reflect"
	"testing"

	"github.com/kaorahi/katawrap/internal/sorter"
)

func pair(id string, turn int, analyzeTurns []int) Pair {
	return Pair{
		Request:  sorter.Request{ID: id, Turn: turn, Data: map[string]any{"analyzeTurns": analyzeTurns}},
		Response: sorter.Response{ID: id, Turn: turn, Data: map[string]any{"id": id, "turnNumber": turn}},
	}
}

func turnsOf(outs []Output) []int {
	out := make([]int, len(outs))
	for i, o := range outs {
		out[i] = o["turnNumber"].(int)
	}
	return out
}

func TestArrivalPassThroughEmitsImmediately(t *testing.T) {
	j := New(Config{})
	out := j.PushPairs([]Pair{pair("A", 1, []int{0, 1, 2}), pair("A", 0, []int{0, 1, 2})})
	if !reflect.DeepEqual(turnsOf(out), []int{1, 0}) {
		t.Fatalf("expected arrival order [1 0], got %v", turnsOf(out))
	}
	if toJoin, _ := j.Count(); toJoin != 0 {
		t.Fatalf("expected empty pool between calls, got %d", toJoin)
	}
}

func TestSuccessorStitchingRetainsLast(t *testing.T) {
	var hooked [][2]int
	j := New(Config{
		CookSuccessivePairs: func(prev, curr Pair) {
			hooked = append(hooked, [2]int{prev.Response.Turn, curr.Response.Turn})
			prev.Response.Data["nextMarker"] = curr.Response.Turn
		},
	})

	out := j.PushPairs([]Pair{pair("A", 0, []int{0, 1, 2})})
	if len(out) != 0 {
		t.Fatalf("expected turn 0 retained (could still gain a successor), got %v", out)
	}

	out = j.PushPairs([]Pair{pair("A", 1, []int{0, 1, 2})})
	if !reflect.DeepEqual(turnsOf(out), []int{0}) {
		t.Fatalf("expected turn 0 emitted once turn 1 arrives, got %v", turnsOf(out))
	}
	if out[0]["nextMarker"] != 1 {
		t.Fatalf("expected hook to stitch nextMarker=1, got %v", out[0]["nextMarker"])
	}
	if !reflect.DeepEqual(hooked, [][2]int{{0, 1}}) {
		t.Fatalf("expected hook invoked exactly once on (0,1), got %v", hooked)
	}

	if toJoin, _ := j.Count(); toJoin != 1 {
		t.Fatalf("expected turn 1 retained pending a possible successor, got pool size %d", toJoin)
	}
}

func TestSuccessorStitchingDrainsWhenNoSuccessorPossible(t *testing.T) {
	j := New(Config{CookSuccessivePairs: func(prev, curr Pair) {}})
	out := j.PushPairs([]Pair{pair("A", 5, []int{5})}) // analyzeTurns has no 6: can't have a successor
	if !reflect.DeepEqual(turnsOf(out), []int{5}) {
		t.Fatalf("expected immediate drain when no successor is possible, got %v", turnsOf(out))
	}
}

func TestJoinModeEmitsOnceAllTurnsArrive(t *testing.T) {
	join := func(pairs []Pair) map[string]any {
		responses := make([]any, len(pairs))
		for i, p := range pairs {
			responses[i] = p.Response.Data
		}
		return map[string]any{"id": pairs[0].Response.ID, "responses": responses}
	}
	j := New(Config{JoinPairs: join})

	out := j.PushPairs([]Pair{pair("A", 5, []int{5, 7, 9})})
	if len(out) != 0 {
		t.Fatalf("expected no output before last turn arrives, got %v", out)
	}
	out = j.PushPairs([]Pair{pair("A", 7, []int{5, 7, 9})})
	if len(out) != 0 {
		t.Fatalf("expected no output before last turn arrives, got %v", out)
	}
	out = j.PushPairs([]Pair{pair("A", 9, []int{5, 7, 9})})
	if len(out) != 1 {
		t.Fatalf("expected exactly one joined response, got %d", len(out))
	}
	responses := out[0]["responses"].([]any)
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses joined, got %d", len(responses))
	}
	if toJoin, _ := j.Count(); toJoin != 0 {
		t.Fatalf("expected pool drained after join, got %d", toJoin)
	}
}

func TestSuccessorHookNotCalledAcrossDifferentIDs(t *testing.T) {
	var calls int
	j := New(Config{CookSuccessivePairs: func(prev, curr Pair) { calls++ }})
	j.PushPairs([]Pair{pair("A", 0, []int{0, 1})})
	j.PushPairs([]Pair{pair("B", 1, []int{1})})
	if calls != 0 {
		t.Fatalf("expected hook not invoked across different ids, got %d calls", calls)
	}
}

// pairWithAnyTurns builds a Pair whose analyzeTurns is []any, the shape
// sonic.Unmarshal produces when Sorter.UndumpRequests restores a
// request's Data from a -resume-from dump, as opposed to the []int a
// freshly cooked request carries.
func pairWithAnyTurns(id string, turn int, analyzeTurns []int) Pair {
	anyTurns := make([]any, len(analyzeTurns))
	for i, t := range analyzeTurns {
		anyTurns[i] = float64(t)
	}
	return Pair{
		Request:  sorter.Request{ID: id, Turn: turn, Data: map[string]any{"analyzeTurns": anyTurns}},
		Response: sorter.Response{ID: id, Turn: turn, Data: map[string]any{"id": id, "turnNumber": turn}},
	}
}

func TestJoinModeEmitsOnceAllTurnsArriveWithResumedAnyTurns(t *testing.T) {
	join := func(pairs []Pair) map[string]any {
		return map[string]any{"id": pairs[0].Response.ID, "count": len(pairs)}
	}
	j := New(Config{JoinPairs: join})

	out := j.PushPairs([]Pair{pairWithAnyTurns("A", 5, []int{5, 9})})
	if len(out) != 0 {
		t.Fatalf("expected no output before last turn arrives, got %v", out)
	}
	out = j.PushPairs([]Pair{pairWithAnyTurns("A", 9, []int{5, 9})})
	if len(out) != 1 {
		t.Fatalf("expected exactly one joined response from []any analyzeTurns, got %d", len(out))
	}
}

func TestSuccessorStitchingDrainsWhenNoSuccessorPossibleWithResumedAnyTurns(t *testing.T) {
	j := New(Config{CookSuccessivePairs: func(prev, curr Pair) {}})
	out := j.PushPairs([]Pair{pairWithAnyTurns("A", 5, []int{5})})
	if !reflect.DeepEqual(turnsOf(out), []int{5}) {
		t.Fatalf("expected immediate drain when no successor is possible, got %v", turnsOf(out))
	}
}
