package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kaorahi/katawrap/internal/joiner"
	"github.com/kaorahi/katawrap/internal/sorter"
)

// fakeReader replays a fixed slice of lines, then returns io.EOF. Safe
// for the single-goroutine-per-instance use the Driver makes of it.
type fakeReader struct {
	mu    sync.Mutex
	lines []string
	pos   int
}

func (f *fakeReader) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.lines) {
		return "", io.EOF
	}
	line := f.lines[f.pos]
	f.pos++
	return line, nil
}

// collector captures every written line in order.
type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func encodeQuery(q map[string]any) (string, error) {
	b, err := json.Marshal(q)
	return string(b), err
}

func encodeOutput(o joiner.Output) (string, error) {
	b, err := json.Marshal(o)
	return string(b), err
}

// oneRequestPerLineCook treats each input line as "id turnNumber",
// admitting exactly one request with that correspondence key.
func oneRequestPerLineCook(line string) ([]sorter.Request, []map[string]any, error) {
	var id string
	var turn int
	if _, err := jsonScan(line, &id, &turn); err != nil {
		return nil, nil, err
	}
	req := sorter.Request{ID: id, Turn: turn, Data: map[string]any{"analyzeTurns": []int{turn}}}
	query := map[string]any{"id": id, "turnNumber": turn}
	return []sorter.Request{req}, []map[string]any{query}, nil
}

func jsonScan(line string, id *string, turn *int) (int, error) {
	var v struct {
		ID   string `json:"id"`
		Turn int    `json:"turnNumber"`
	}
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return 0, err
	}
	*id, *turn = v.ID, v.Turn
	return 0, nil
}

// classifyPlain maps an engine output line directly to a normal response
// keyed by (id, turnNumber), with no error/warning/ignorable handling —
// enough for tests that only exercise the normal path.
func classifyPlain(line string) (Classified, error) {
	var v struct {
		ID    string `json:"id"`
		Turn  int    `json:"turnNumber"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return Classified{}, err
	}
	if v.Error != "" {
		return Classified{Class: ClassError, ErrorID: v.ID, Message: v.Error}, nil
	}
	var data map[string]any
	_ = json.Unmarshal([]byte(line), &data)
	return Classified{Class: ClassNormal, Response: sorter.Response{ID: v.ID, Turn: v.Turn, Data: data}}, nil
}

func newTestDriver(t *testing.T, sort bool, maxRequests int, input, engineOut *fakeReader, engineIn, output *collector) *Driver {
	t.Helper()
	s := sorter.New(sorter.Config{Sort: sort, MaxRequests: maxRequests})
	j := joiner.New(joiner.Config{})
	return New(Config{
		Sorter:       s,
		Joiner:       j,
		Input:        input,
		EngineIn:     engineIn,
		EngineOut:    engineOut,
		Output:       output,
		Cook:         oneRequestPerLineCook,
		Classify:     classifyPlain,
		EncodeQuery:  encodeQuery,
		EncodeOutput: encodeOutput,
	})
}

func turnsOfLines(t *testing.T, lines []string) []int {
	t.Helper()
	out := make([]int, len(lines))
	for i, l := range lines {
		var v struct {
			Turn int `json:"turnNumber"`
		}
		if err := json.Unmarshal([]byte(l), &v); err != nil {
			t.Fatalf("decode output line %q: %v", l, err)
		}
		out[i] = v.Turn
	}
	return out
}

func TestDriverSortedModeEmitsRequestOrder(t *testing.T) {
	input := &fakeReader{lines: []string{
		`{"id":"A","turnNumber":0}`,
		`{"id":"A","turnNumber":1}`,
		`{"id":"A","turnNumber":2}`,
	}}
	engineOut := &fakeReader{lines: []string{
		`{"id":"A","turnNumber":1}`,
		`{"id":"A","turnNumber":0}`,
		`{"id":"A","turnNumber":2}`,
	}}
	engineIn, output := &collector{}, &collector{}
	d := newTestDriver(t, true, sorter.Unlimited, input, engineOut, engineIn, output)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := turnsOfLines(t, output.snapshot())
	want := []int{0, 1, 2}
	if !equalInts(got, want) {
		t.Fatalf("sorted mode: got %v, want %v", got, want)
	}
}

func TestDriverArrivalModeEmitsResponseOrder(t *testing.T) {
	input := &fakeReader{lines: []string{
		`{"id":"A","turnNumber":0}`,
		`{"id":"A","turnNumber":1}`,
		`{"id":"A","turnNumber":2}`,
	}}
	engineOut := &fakeReader{lines: []string{
		`{"id":"A","turnNumber":1}`,
		`{"id":"A","turnNumber":0}`,
		`{"id":"A","turnNumber":2}`,
	}}
	engineIn, output := &collector{}, &collector{}
	d := newTestDriver(t, false, sorter.Unlimited, input, engineOut, engineIn, output)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := turnsOfLines(t, output.snapshot())
	want := []int{1, 0, 2}
	if !equalInts(got, want) {
		t.Fatalf("arrival mode: got %v, want %v", got, want)
	}
}

func TestDriverErrorEvictsAllPendingRequestsForID(t *testing.T) {
	input := &fakeReader{lines: []string{
		`{"id":"A","turnNumber":0}`,
		`{"id":"A","turnNumber":1}`,
		`{"id":"A","turnNumber":2}`,
		`{"id":"A","turnNumber":3}`,
		`{"id":"B","turnNumber":0}`,
	}}
	s := sorter.New(sorter.Config{Sort: true})
	j := joiner.New(joiner.Config{})
	engineOut := &afterWaitReader{
		ready: func() bool { return s.Count().Waiting >= 4 },
		inner: &fakeReader{lines: []string{
			`{"id":"A","error":"search failed"}`,
			`{"id":"B","turnNumber":0}`,
		}},
	}
	engineIn, output := &collector{}, &collector{}

	var reports []string
	var mu sync.Mutex
	d := New(Config{
		Sorter: s, Joiner: j,
		Input: input, EngineIn: engineIn, EngineOut: engineOut, Output: output,
		Cook: oneRequestPerLineCook, Classify: classifyPlain,
		EncodeQuery: encodeQuery, EncodeOutput: encodeOutput,
		Report: func(msg string) { mu.Lock(); reports = append(reports, msg); mu.Unlock() },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := turnsOfLines(t, output.snapshot())
	if !equalInts(got, []int{0}) {
		t.Fatalf("expected only B/0 emitted after A's eviction, got %v", got)
	}
	if s.HasRequests() {
		t.Fatal("expected no requests pending after eviction and B's completion")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, m := range reports {
		if m == "engine error for id=A (evicted 4 request(s)): search failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected eviction report, got %v", reports)
	}
}

func TestDriverBackpressureBlocksIngestAtCeiling(t *testing.T) {
	input := &fakeReader{lines: []string{
		`{"id":"A","turnNumber":0}`,
		`{"id":"A","turnNumber":1}`,
		`{"id":"A","turnNumber":2}`,
	}}
	// No engine output at all: nothing will ever drain, so ingest must
	// block forever after request #2 at ceiling 2. We assert the gate
	// state directly instead of waiting out a real deadlock.
	s := sorter.New(sorter.Config{Sort: true, MaxRequests: 2})
	j := joiner.New(joiner.Config{})
	engineOut := &fakeReader{} // immediate EOF
	engineIn, output := &collector{}, &collector{}
	d := New(Config{
		Sorter: s, Joiner: j,
		Input: input, EngineIn: engineIn, EngineOut: engineOut, Output: output,
		Cook: oneRequestPerLineCook, Classify: classifyPlain,
		EncodeQuery: encodeQuery, EncodeOutput: encodeOutput,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	if s.Count().Waiting != 2 {
		t.Fatalf("expected exactly 2 requests admitted at the ceiling, got %d", s.Count().Waiting)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDriverBrokenEngineOutputPipeUnwindsCleanly(t *testing.T) {
	input := &fakeReader{lines: []string{`{"id":"A","turnNumber":0}`}}
	s := sorter.New(sorter.Config{Sort: true})
	j := joiner.New(joiner.Config{})
	engineOut := brokenReader{}
	engineIn, output := &collector{}, &collector{}
	d := New(Config{
		Sorter: s, Joiner: j,
		Input: input, EngineIn: engineIn, EngineOut: engineOut, Output: output,
		Cook: oneRequestPerLineCook, Classify: classifyPlain,
		EncodeQuery: encodeQuery, EncodeOutput: encodeOutput,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("expected broken pipe to unwind without propagating an error, got %v", err)
	}
}

type brokenReader struct{}

func (brokenReader) ReadLine() (string, error) { return "", errors.New("broken pipe") }

// afterWaitReader blocks every read until ready reports true, then
// delegates to inner. Used to deterministically sequence a test's engine
// output against the ingest worker's admissions, which otherwise race.
type afterWaitReader struct {
	ready func() bool
	inner LineReader
}

func (r *afterWaitReader) ReadLine() (string, error) {
	for !r.ready() {
		time.Sleep(time.Millisecond)
	}
	return r.inner.ReadLine()
}
