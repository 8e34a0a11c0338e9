// Package pipeline wires the Sorter and Joiner into the concurrent
// ingest/egress/progress workers described in spec.md §4.3: standard
// input flows through the query cooker and the admission gate to the
// engine's stdin, while the engine's stdout flows through response
// classification, the Sorter, per-pair enrichment and the Joiner to
// standard output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kaorahi/katawrap/internal/joiner"
	"github.com/kaorahi/katawrap/internal/sorter"
)

// LineReader yields successive lines with io.EOF on exhaustion, matching
// a wrapped bufio.Scanner over stdin or the engine's stdout.
type LineReader interface {
	ReadLine() (string, error)
}

// LineWriter writes one line (no trailing newline required of the
// caller; implementations append it), matching a wrapped writer over
// stdout or the engine's stdin.
type LineWriter interface {
	WriteLine(line string) error
}

// Classification is the outcome of classifying one engine response line
// per spec.md §4.4.
type Classification int

const (
	ClassNormal Classification = iota
	ClassIgnorable
	ClassWarning
	ClassError
)

// Classified is the result of classifying one engine response line.
type Classified struct {
	Class    Classification
	Response sorter.Response // valid for ClassNormal and ClassWarning
	ErrorID  string          // valid for ClassError; empty means orphan
	Message  string          // human-readable detail for Warning/Error
}

// QueryCooker expands one query-input line into the requests it admits,
// in turn-number order, and the JSON-encodable engine-bound queries to
// write to the engine's stdin, in the same order.
type QueryCooker func(line string) (requests []sorter.Request, engineQueries []map[string]any, err error)

// ResponseClassifier classifies one engine response line. It owns the
// "no request currently corresponds" check of spec.md §4.4 rule 2, which
// requires consulting the Sorter's request pool; implementations close
// over the driver's Sorter to perform it.
type ResponseClassifier func(line string) (Classified, error)

// Enricher enriches one matched pair's response data in place, before
// the pair reaches the Joiner.
type Enricher func(p sorter.Pair)

// Reporter receives human-readable diagnostics. Side-channel only.
type Reporter func(msg string)

// EncodeQuery renders one engine-bound query as a single line of text
// (without a trailing newline).
type EncodeQuery func(query map[string]any) (string, error)

// EncodeOutput renders one Joiner output as a single line of text
// (without a trailing newline).
type EncodeOutput func(output joiner.Output) (string, error)

// Config configures a Driver. Sorter and Joiner must already be
// constructed with the mode-selecting configuration described in
// SPEC_FULL.md; the Driver only orchestrates the flow between them.
type Config struct {
	Sorter *sorter.Sorter
	Joiner *joiner.Joiner

	Input     LineReader
	EngineIn  LineWriter
	EngineOut LineReader
	Output    LineWriter

	Cook         QueryCooker
	Classify     ResponseClassifier
	Enrich       Enricher
	EncodeQuery  EncodeQuery
	EncodeOutput EncodeOutput
	Report       Reporter

	// Progress, if non-nil, receives formatted progress lines roughly
	// once per second. Leave nil for -silent.
	Progress LineWriter
	// TotalQueries is the pre-read query count for progress's "/T"
	// denominator. Zero means unknown (the -sequentially case).
	TotalQueries int
}

// Driver orchestrates one run of the ingest/egress/progress workers.
type Driver struct {
	cfg  Config
	gate *Gate

	processedQueries int
}

// New creates a Driver from cfg, filling in a no-op default for a nil
// Report. EncodeQuery and EncodeOutput get no default and must always be
// supplied — there is no sensible default codec.
func New(cfg Config) *Driver {
	if cfg.Report == nil {
		cfg.Report = func(string) {}
	}
	return &Driver{cfg: cfg, gate: NewGate(cfg.Sorter)}
}

// Run starts the ingest, egress and progress workers and blocks until
// both ingest and egress have finished, normally or via ctx
// cancellation. It returns the first non-nil error from either worker,
// excluding the expected io.EOF/context-cancellation unwind.
func (d *Driver) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go d.runProgress(ctx, done)

	go func() {
		<-ctx.Done()
		d.gate.Close()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- d.runIngest(ctx) }()
	go func() { errCh <- d.runEgress(ctx) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunIngestOnly runs the ingest worker alone, for the -suspend-to path of
// spec.md §4.3: engine-bound queries are written to cfg.EngineIn (the
// caller wires this to standard output, not a real engine) and no
// response is ever read. The progress worker still runs if configured.
func (d *Driver) RunIngestOnly(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go d.runProgress(ctx, done)
	go func() {
		<-ctx.Done()
		d.gate.Close()
	}()
	return d.runIngest(ctx)
}

// RunEgressOnly runs the egress worker alone, for the -resume-from path
// of spec.md §4.3: cfg.EngineOut is wired to standard input (the
// responses a real engine produced during a prior suspended run), and
// the Sorter's request pool must already be populated via
// sorter.Sorter.UndumpRequests before calling this.
func (d *Driver) RunEgressOnly(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go d.runProgress(ctx, done)
	go func() {
		<-ctx.Done()
		d.gate.Close()
	}()
	return d.runEgress(ctx)
}

// runIngest is the ingest worker of spec.md §4.3: reads query lines,
// cooks each into requests and engine queries, admits the requests one
// at a time through the gate (so backpressure engages mid-batch), and
// forwards the engine-bound queries.
func (d *Driver) runIngest(ctx context.Context) error {
	defer d.gate.SetInputFinished()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := d.cfg.Input.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			d.cfg.Report("ingest: read input: " + err.Error())
			return nil
		}

		requests, queries, err := d.cfg.Cook(line)
		if err != nil {
			d.cfg.Report("ingest: cook query: " + err.Error())
			continue
		}

		if err := d.admitRequests(requests); err != nil {
			return nil
		}
		d.processedQueries++

		for _, q := range queries {
			encoded, err := d.cfg.EncodeQuery(q)
			if err != nil {
				d.cfg.Report("ingest: encode engine query: " + err.Error())
				continue
			}
			if err := d.cfg.EngineIn.WriteLine(encoded); err != nil {
				d.cfg.Report("ingest: write engine: " + err.Error())
				return nil
			}
		}
	}
}

// admitRequests pushes requests one at a time through the gate, so that
// the admission ceiling is enforced between individual requests of a
// single expanded query line, not just between lines.
func (d *Driver) admitRequests(requests []sorter.Request) error {
	for _, r := range requests {
		req := r
		err := d.gate.Admit(func() {
			d.cfg.Sorter.PushRequests([]sorter.Request{req})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runEgress is the egress worker of spec.md §4.3: reads engine response
// lines, classifies each, evicts or reports error/warning/ignorable
// responses, and feeds normal responses through the Sorter and Joiner to
// standard output.
func (d *Driver) runEgress(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := d.cfg.EngineOut.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil // engine process exited
		}
		if err != nil {
			d.cfg.Report("egress: read engine: " + err.Error())
			return nil
		}

		cr, err := d.cfg.Classify(line)
		if err != nil {
			d.cfg.Report("egress: classify response: " + err.Error())
			continue
		}

		switch cr.Class {
		case ClassError:
			d.handleError(cr)
		case ClassIgnorable:
			// dropped silently
		case ClassWarning:
			d.cfg.Report("engine warning: " + cr.Message)
			if err := d.handleNormal(cr.Response); err != nil {
				return nil
			}
		case ClassNormal:
			if err := d.handleNormal(cr.Response); err != nil {
				return nil
			}
		}
	}
}

func (d *Driver) handleError(cr Classified) {
	if cr.ErrorID == "" {
		d.cfg.Report("engine error (orphan): " + cr.Message)
		return
	}
	evicted := d.cfg.Sorter.PopRequestsByID(cr.ErrorID)
	d.gate.Signal()
	if len(evicted) == 0 {
		d.cfg.Report(fmt.Sprintf("engine error for id=%s (no corresponding request): %s", cr.ErrorID, cr.Message))
		return
	}
	d.cfg.Report(fmt.Sprintf("engine error for id=%s (evicted %d request(s)): %s", cr.ErrorID, len(evicted), cr.Message))
}

func (d *Driver) handleNormal(res sorter.Response) error {
	pairs := d.cfg.Sorter.PushResponse(res)
	d.gate.Signal()

	if d.cfg.Enrich != nil {
		for _, p := range pairs {
			d.cfg.Enrich(p)
		}
	}

	outputs := d.cfg.Joiner.PushPairs(pairs)
	for _, o := range outputs {
		encoded, err := d.cfg.EncodeOutput(o)
		if err != nil {
			d.cfg.Report("egress: encode output: " + err.Error())
			continue
		}
		if err := d.cfg.Output.WriteLine(encoded); err != nil {
			d.cfg.Report("egress: write output: " + err.Error())
			return err
		}
	}
	return nil
}

// runProgress polls Sorter/Joiner counts and writes a formatted line
// roughly once per second, until done is closed. Omitted entirely when
// Config.Progress is nil (the -silent case).
func (d *Driver) runProgress(ctx context.Context, done <-chan struct{}) {
	if d.cfg.Progress == nil {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.writeProgress(start)
			return
		case <-done:
			d.writeProgress(start)
			return
		case <-ticker.C:
			d.writeProgress(start)
		}
	}
}

func (d *Driver) writeProgress(start time.Time) {
	line := formatProgress(progressSnapshot{
		ProcessedQueries: d.processedQueries,
		TotalQueries:     d.cfg.TotalQueries,
		Sorter:           d.cfg.Sorter.Count(),
		Elapsed:          time.Since(start),
	}, d.cfg.Joiner)
	_ = d.cfg.Progress.WriteLine(line)
}
