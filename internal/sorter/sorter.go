// Package sorter maintains the request/response correspondence pools and
// produces matched pairs as responses arrive out of order.
package sorter

import (
	"sync"
)

// Request is a single-turn unit of work derived from a user query. The
// fields the Sorter itself inspects are ID and Turn; everything else the
// caller attaches to Data is opaque to the Sorter.
type Request struct {
	ID   string
	Turn int
	Data map[string]any
}

// Response is a single record read from the engine. Like Request, ID and
// Turn are all the Sorter looks at.
type Response struct {
	ID   string
	Turn int
	Data map[string]any
}

// Pair is a matched (Request, Response).
type Pair struct {
	Request  Request
	Response Response
}

// ErrorReporter receives human-readable diagnostics for unmatched
// responses. Side-channel only; the Sorter never returns these as errors.
type ErrorReporter func(msg string)

// Corresponding reports whether a and b refer to the same logical unit of
// work. The core always instantiates this as equality on (ID, Turn), but
// tests may substitute other predicates.
type Corresponding func(req Request, res Response) bool

// ByIDAndTurn is the correspondence predicate the core uses: equality on
// (ID, Turn).
func ByIDAndTurn(req Request, res Response) bool {
	return req.ID == res.ID && req.Turn == res.Turn
}

// Unlimited disables the admission ceiling when passed as MaxRequests.
const Unlimited = -1

// Config configures a Sorter.
type Config struct {
	// Sort selects extraction order: true extracts pairs in request-arrival
	// (insertion) order, false in response-arrival order.
	Sort bool
	// MaxRequests is the admission ceiling (pending request-pool size).
	// Unlimited disables the ceiling.
	MaxRequests int
	// Corresponding is the correspondence predicate. Defaults to
	// ByIDAndTurn if nil.
	Corresponding Corresponding
	// ErrorReporter receives unmatched-response diagnostics. Defaults to a
	// no-op if nil.
	ErrorReporter ErrorReporter
}

// Counts is the introspection snapshot returned by Sorter.Count.
type Counts struct {
	Waiting     int // requests not yet matched
	Pooled      int // responses awaiting their request
	Popped      int // lifetime count of responses that left the Sorter as pairs
	PushedTotal int // lifetime admissions processed
}

// Sorter owns the request and response pools and produces matched pairs.
// Every exported method is internally synchronized; callers that need
// atomicity across multiple calls (e.g. "wait for room, then push") must
// provide their own external synchronization — see internal/pipeline.Gate.
type Sorter struct {
	mu   sync.Mutex
	cfg  Config
	reqs []Request
	ress []Response

	pushedTotal int
	poppedTotal int
}

// New creates a Sorter from cfg, filling in defaults for nil fields.
func New(cfg Config) *Sorter {
	if cfg.Corresponding == nil {
		cfg.Corresponding = ByIDAndTurn
	}
	if cfg.ErrorReporter == nil {
		cfg.ErrorReporter = func(string) {}
	}
	if cfg.MaxRequests <= 0 && cfg.MaxRequests != Unlimited {
		cfg.MaxRequests = Unlimited
	}
	return &Sorter{cfg: cfg}
}

// PushRequests appends requests to the request pool in order. No pair
// extraction occurs.
func (s *Sorter) PushRequests(requests []Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, requests...)
	s.pushedTotal += len(requests)
}

// PushResponse appends response to the response pool, then extracts and
// returns every pair that became available.
func (s *Sorter) PushResponse(response Response) []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ress = append(s.ress, response)
	return s.popPairsLocked()
}

// PopRequestsByID removes and returns every pending request with the
// given id, preserving insertion order. Used on error responses.
func (s *Sorter) PopRequestsByID(id string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var popped []Request
	kept := s.reqs[:0:0]
	for _, req := range s.reqs {
		if req.ID == id {
			popped = append(popped, req)
		} else {
			kept = append(kept, req)
		}
	}
	s.reqs = kept
	return popped
}

// GetRequestFor returns the first request corresponding to res, without
// removing it. Returns false if none corresponds.
func (s *Sorter) GetRequestFor(res Response) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findRequestForLocked(res)
}

func (s *Sorter) findRequestForLocked(res Response) (Request, bool) {
	for _, req := range s.reqs {
		if s.cfg.Corresponding(req, res) {
			return req, true
		}
	}
	return Request{}, false
}

func (s *Sorter) findResponseForLocked(req Request) (Response, bool) {
	for _, res := range s.ress {
		if s.cfg.Corresponding(req, res) {
			return res, true
		}
	}
	return Response{}, false
}

// HasRequests reports whether the request pool is non-empty.
func (s *Sorter) HasRequests() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs) > 0
}

// HasRoom reports whether the request pool has room for another
// admission under the configured ceiling.
func (s *Sorter) HasRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasRoomLocked()
}

func (s *Sorter) hasRoomLocked() bool {
	if s.cfg.MaxRequests == Unlimited {
		return true
	}
	return len(s.reqs) < s.cfg.MaxRequests
}

// Count returns an introspection snapshot.
func (s *Sorter) Count() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Waiting:     len(s.reqs),
		Pooled:      len(s.ress),
		Popped:      s.poppedTotal,
		PushedTotal: s.pushedTotal,
	}
}

// candidate is a pair still awaiting validation: ok is false when the
// response side had no corresponding request at extraction time (only
// possible in arrival mode).
type candidate struct {
	pair Pair
	ok   bool
}

// popPairsLocked implements the extraction procedure of spec.md §4.1.
// Must be called with s.mu held.
func (s *Sorter) popPairsLocked() []Pair {
	var candidates []candidate
	if s.cfg.Sort {
		candidates = s.sortedCandidatesLocked()
	} else {
		candidates = s.arrivalCandidatesLocked()
	}

	valid := make([]Pair, 0, len(candidates))
	for _, c := range candidates {
		if !c.ok {
			s.cfg.ErrorReporter(unmatchedMessage(c.pair))
			s.removeResponse(c.pair.Response)
			continue
		}
		s.removeRequest(c.pair.Request)
		s.removeResponse(c.pair.Response)
		valid = append(valid, c.pair)
	}
	s.poppedTotal += len(valid)
	return valid
}

// arrivalCandidatesLocked pairs every pooled response with its first
// matching request, if any.
func (s *Sorter) arrivalCandidatesLocked() []candidate {
	candidates := make([]candidate, 0, len(s.ress))
	for _, res := range s.ress {
		req, ok := s.findRequestForLocked(res)
		candidates = append(candidates, candidate{pair: Pair{Request: req, Response: res}, ok: ok})
	}
	return candidates
}

// sortedCandidatesLocked walks the request pool in order, stopping at the
// first request with no available response. Every returned candidate is
// valid by construction.
func (s *Sorter) sortedCandidatesLocked() []candidate {
	var candidates []candidate
	for _, req := range s.reqs {
		res, ok := s.findResponseForLocked(req)
		if !ok {
			break
		}
		candidates = append(candidates, candidate{pair: Pair{Request: req, Response: res}, ok: true})
	}
	return candidates
}

func (s *Sorter) removeRequest(req Request) {
	for i, r := range s.reqs {
		if sameRequest(r, req) {
			s.reqs = append(s.reqs[:i], s.reqs[i+1:]...)
			return
		}
	}
}

func (s *Sorter) removeResponse(res Response) {
	for i, r := range s.ress {
		if sameResponse(r, res) {
			s.ress = append(s.ress[:i], s.ress[i+1:]...)
			return
		}
	}
}

func sameRequest(a, b Request) bool {
	return a.ID == b.ID && a.Turn == b.Turn
}

func sameResponse(a, b Response) bool {
	return a.ID == b.ID && a.Turn == b.Turn
}

func unmatchedMessage(p Pair) string {
	return "Unmatched: request=<none> response=" + p.Response.ID
}
