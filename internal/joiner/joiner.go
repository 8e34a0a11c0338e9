// Package joiner buffers matched request/response pairs and emits them
// downstream according to one of three modes (arrival, sorted with
// successor stitching, or join), derived from which hooks are configured
// rather than selected by an explicit flag.
//
// Join mode requires its input to be contiguous per id (sorted-mode
// delivery, one id completing before the next begins). With interleaved
// ids the pool is cleared unconditionally on the first id to complete,
// which would drop a second id's in-flight pairs — this mirrors the
// original Python implementation and is documented rather than changed;
// see the Open Question in DESIGN.md.
package joiner

import (
	"github.com/kaorahi/katawrap/internal/request"
	"github.com/kaorahi/katawrap/internal/sorter"
)

// Pair is a local alias of sorter.Pair; the Joiner operates on the same
// matched-pair type the Sorter produces.
type Pair = sorter.Pair

// JoinFunc synthesizes a single joined response from every pair
// accumulated for one user-query id. Returning a non-nil JoinFunc from
// Config enables join mode.
type JoinFunc func(pairs []Pair) map[string]any

// SuccessorFunc is invoked on (prev, curr) immediately before curr is
// appended to the pool, whenever prev and curr share a response id and
// curr's turn is prev's turn + 1. It mutates prev in place (by reference
// semantics on prev.Response.Data) using curr as the one-turn lookahead.
type SuccessorFunc func(prev, curr Pair)

// Config configures a Joiner. The active mode is derived from which
// fields are set, per the table in spec.md §4.2:
//
//	JoinPairs   CookSuccessivePairs   Mode
//	nil         nil                   arrival pass-through
//	nil         non-nil               sorted with successor stitching
//	non-nil     (typically non-nil)   join
type Config struct {
	JoinPairs           JoinFunc
	CookSuccessivePairs SuccessorFunc
}

// Output is a single emitted unit: either an enriched response (arrival /
// sorted modes) or a synthesized joined response (join mode).
type Output = map[string]any

// Joiner accumulates matched pairs and emits them per the configured
// mode. Not safe for concurrent use — the core only ever calls it from
// the egress worker (spec.md §5).
type Joiner struct {
	cfg  Config
	pool []Pair

	poppedTotal int
}

// New creates a Joiner from cfg.
func New(cfg Config) *Joiner {
	return &Joiner{cfg: cfg}
}

// Count returns (pool size, cumulative popped count).
func (j *Joiner) Count() (toJoin, popped int) {
	return len(j.pool), j.poppedTotal
}

// PushPairs appends pairs in order, applying the successor hook and
// emission rule to each, and returns the concatenation of every output
// produced along the way.
func (j *Joiner) PushPairs(pairs []Pair) []Output {
	var out []Output
	for _, p := range pairs {
		out = append(out, j.pushPair(p)...)
	}
	return out
}

func (j *Joiner) pushPair(p Pair) []Output {
	j.cookSuccessiveBeforePush(p)
	j.pool = append(j.pool, p)

	switch {
	case j.cfg.JoinPairs != nil:
		return j.popJoinedIfFinished()
	case j.needsSuccessivePair(p):
		return j.popOutputs(true)
	default:
		return j.popOutputs(false)
	}
}

// cookSuccessiveBeforePush consults the most recently pushed pair L (the
// current last element of the pool, if any) and calls the successor hook
// on (L, curr) when L.Response and curr.Response share an id and are
// turn-adjacent.
func (j *Joiner) cookSuccessiveBeforePush(curr Pair) {
	if j.cfg.CookSuccessivePairs == nil || len(j.pool) == 0 {
		return
	}
	prev := j.pool[len(j.pool)-1]
	sameID := prev.Response.ID == curr.Response.ID
	successive := prev.Response.Turn+1 == curr.Response.Turn
	if sameID && successive {
		j.cfg.CookSuccessivePairs(prev, curr)
	}
}

// needsSuccessivePair reports whether curr's response could still gain a
// successor: its next turn number must appear in its own request's
// AnalyzeTurns. Only meaningful when a successor hook is configured.
func (j *Joiner) needsSuccessivePair(curr Pair) bool {
	if j.cfg.CookSuccessivePairs == nil {
		return false
	}
	turns := request.AsIntSlice(curr.Request.Data["analyzeTurns"])
	next := curr.Response.Turn + 1
	for _, t := range turns {
		if t == next {
			return true
		}
	}
	return false
}

// popOutputs drains the pool (all of it, or all but the last element when
// butlast is true) and returns the responses of the drained pairs as
// Output values.
func (j *Joiner) popOutputs(butlast bool) []Output {
	n := len(j.pool)
	stop := n
	if butlast {
		stop = n - 1
	}
	if stop <= 0 {
		return nil
	}
	drained := j.pool[:stop]
	out := make([]Output, 0, len(drained))
	for _, p := range drained {
		out = append(out, p.Response.Data)
	}
	j.poppedTotal += len(drained)
	j.pool = append(j.pool[:0:0], j.pool[stop:]...)
	return out
}

// popJoinedIfFinished checks whether the most-recently appended pair
// completes its id (its response's turn equals the last element of its
// request's analyzeTurns) and, if so, joins and drains the whole pool.
func (j *Joiner) popJoinedIfFinished() []Output {
	last := j.pool[len(j.pool)-1]
	turns := request.AsIntSlice(last.Request.Data["analyzeTurns"])
	if len(turns) == 0 || turns[len(turns)-1] != last.Response.Turn {
		return nil
	}
	pairs := j.pool
	j.pool = nil
	j.poppedTotal += len(pairs)
	return []Output{j.cfg.JoinPairs(pairs)}
}
