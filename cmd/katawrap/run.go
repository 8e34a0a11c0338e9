package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/kaorahi/katawrap/internal/engine"
	"github.com/kaorahi/katawrap/internal/joiner"
	"github.com/kaorahi/katawrap/internal/output"
	"github.com/kaorahi/katawrap/internal/pipeline"
	"github.com/kaorahi/katawrap/internal/request"
	"github.com/kaorahi/katawrap/internal/response"
	"github.com/kaorahi/katawrap/internal/sorter"
)

// runPipeline wires request cooking, the Sorter/Joiner core, response
// classification/enrichment, and the engine transport together, then
// dispatches to one of the three modes of spec.md §4.3: suspend,
// resume, or the normal full pipeline.
func runPipeline(cmd *cobra.Command, cfg *rootConfig, engineArgs []string) error {
	ctx := cmd.Context()
	changed := cmd.Flags().Changed

	defaultQuery, err := cfg.buildDefault(changed)
	if err != nil {
		return fmt.Errorf("katawrap: -default: %w", err)
	}
	overrideQuery, err := cfg.buildOverride(changed)
	if err != nil {
		return fmt.Errorf("katawrap: -override: %w", err)
	}
	overrideList, err := parseQueryListJSON(cfg.overrideListJSON)
	if err != nil {
		return fmt.Errorf("katawrap: -override-list: %w", err)
	}

	report := cfg.reporter()
	ids := request.NewIDGenerator()

	reqCfg := request.Config{
		Default:      defaultQuery,
		Override:     overrideQuery,
		OverrideList: overrideList,
		OnlyLast:     cfg.onlyLast,
		IDs:          ids,
		Report:       report,
	}
	cook := func(line string) ([]sorter.Request, []map[string]any, error) {
		reqs, queries, err := reqCfg.Cook(line)
		if err != nil {
			return nil, nil, err
		}
		out := make([]map[string]any, len(queries))
		for i, q := range queries {
			out[i] = q
		}
		return reqs, out, nil
	}

	s := sorter.New(sorter.Config{
		Sort:          cfg.order != "arrival",
		MaxRequests:   cfg.maxRequests,
		ErrorReporter: sorter.ErrorReporter(report),
	})
	j := joiner.New(joinerConfig(cfg))
	enrich := response.EnrichConfig{
		UnsettlednessByEntropy: cfg.unsettlednessByEntropy,
		SoftMoyo:               cfg.softMoyo,
	}

	switch {
	case cfg.suspendTo != "":
		return runSuspend(ctx, cfg, s, cook, report)
	case cfg.resumeFrom != "":
		return runResume(ctx, cfg, s, j, enrich, report)
	default:
		return runFull(ctx, cfg, engineArgs, ids, s, j, cook, enrich, report)
	}
}

// joinerConfig derives the Joiner's mode from -order, per the table in
// joiner.Config's doc comment.
func joinerConfig(cfg *rootConfig) joiner.Config {
	if cfg.order == "arrival" {
		return joiner.Config{}
	}
	c := joiner.Config{CookSuccessivePairs: response.CookSuccessivePairs}
	if cfg.order == "join" {
		c.JoinPairs = response.JoinPairs
	}
	return c
}

// runSuspend implements -suspend-to: the ingest worker runs alone,
// writing engine-bound queries to standard output instead of to a real
// engine, and once input is exhausted the pending request pool is
// dumped to PATH.
func runSuspend(ctx context.Context, cfg *rootConfig, s *sorter.Sorter, cook pipeline.QueryCooker, report func(string)) error {
	input, total, err := inputReader(cfg)
	if err != nil {
		return fmt.Errorf("katawrap: read stdin: %w", err)
	}

	driver := pipeline.New(pipeline.Config{
		Sorter:       s,
		Joiner:       joiner.New(joiner.Config{}),
		Input:        maybeDebugReader(cfg, input, "STDIN"),
		EngineIn:     maybeDebugWriter(cfg, output.NewWriter(os.Stdout), "STDOUT"),
		Cook:         cook,
		EncodeQuery:  encodeQuery,
		EncodeOutput: encodeOutput,
		Report:       report,
		Progress:     progressWriter(cfg),
		TotalQueries: total,
	})
	runErr := driver.RunIngestOnly(ctx)

	dump, err := s.DumpRequests()
	if err != nil {
		return fmt.Errorf("katawrap: dump pending requests: %w", err)
	}
	if err := os.WriteFile(cfg.suspendTo, dump, 0o644); err != nil {
		return fmt.Errorf("katawrap: write suspend dump %s: %w", cfg.suspendTo, err)
	}
	return runErr
}

// runResume implements -resume-from: the ingest worker is skipped
// entirely, the pending request pool is restored from PATH, and the
// egress worker runs alone, reading the engine responses a prior
// suspended run's output was piped to from standard input.
func runResume(ctx context.Context, cfg *rootConfig, s *sorter.Sorter, j *joiner.Joiner, enrich response.EnrichConfig, report func(string)) error {
	dump, err := os.ReadFile(cfg.resumeFrom)
	if err != nil {
		return fmt.Errorf("katawrap: read resume dump %s: %w", cfg.resumeFrom, err)
	}
	if err := s.UndumpRequests(dump); err != nil {
		return fmt.Errorf("katawrap: restore pending requests: %w", err)
	}

	driver := pipeline.New(pipeline.Config{
		Sorter:       s,
		Joiner:       j,
		EngineOut:    maybeDebugReader(cfg, engine.NewReader(os.Stdin), "KATAGO"),
		Output:       maybeDebugWriter(cfg, output.NewWriter(os.Stdout), "STDOUT"),
		Classify:     response.NewClassifier(s),
		Enrich:       enrich.Enrich,
		EncodeOutput: encodeOutput,
		Report:       report,
		Progress:     progressWriter(cfg),
	})
	return driver.RunEgressOnly(ctx)
}

// runFull implements the normal mode: spawn or dial the engine, run
// both workers concurrently, and tear the engine connection down on
// completion, grounded on finalize/finalize_interruption.
func runFull(
	ctx context.Context,
	cfg *rootConfig,
	engineArgs []string,
	ids *request.IDGenerator,
	s *sorter.Sorter,
	j *joiner.Joiner,
	cook pipeline.QueryCooker,
	enrich response.EnrichConfig,
	report func(string),
) error {
	engineCfg := engine.Config{Command: engineArgs}
	if cfg.netcat != "" {
		engineCfg = engine.Config{Netcat: true, NetcatAddr: cfg.netcat}
	}

	// A Manager is overkill for a single Get, but it is what gives us a
	// single idempotent teardown path below regardless of how startup
	// fails partway through (mirrors internal/connmgr's lazy
	// single-connection lifecycle).
	mgr := engine.NewManagerFromConfig(engineCfg)
	proc, err := mgr.Get(ctx)
	if err != nil {
		return fmt.Errorf("katawrap: start engine: %w", err)
	}

	if cfg.netcat != "" {
		// Cancel any requests left over from a previous client on this
		// peer before admitting real queries, mirroring initialize()'s
		// "cancel requests by previous client for safety".
		if err := engine.TerminateAll(proc.Writer, ids); err != nil {
			report("katawrap: terminate_all at startup: " + err.Error())
		}
	}

	input, total, err := inputReader(cfg)
	if err != nil {
		_ = mgr.Close()
		return fmt.Errorf("katawrap: read stdin: %w", err)
	}

	driver := pipeline.New(pipeline.Config{
		Sorter:       s,
		Joiner:       j,
		Input:        maybeDebugReader(cfg, input, "STDIN"),
		EngineIn:     maybeDebugWriter(cfg, proc.Writer, "KATAGO"),
		EngineOut:    maybeDebugReader(cfg, proc.Reader, "KATAGO"),
		Output:       maybeDebugWriter(cfg, output.NewWriter(os.Stdout), "STDOUT"),
		Cook:         cook,
		Classify:     response.NewClassifier(s),
		Enrich:       enrich.Enrich,
		EncodeQuery:  encodeQuery,
		EncodeOutput: encodeOutput,
		Report:       report,
		Progress:     progressWriter(cfg),
		TotalQueries: total,
	})

	runErr := driver.Run(ctx)
	interrupted := ctx.Err() != nil

	_ = mgr.Close()

	if interrupted && cfg.netcat != "" {
		if err := engine.BroadcastTerminateAll(context.Background(), engineCfg, ids); err != nil {
			report("katawrap: broadcast terminate_all: " + err.Error())
		}
	}

	return runErr
}

func encodeQuery(q map[string]any) (string, error) {
	return sonic.MarshalString(q)
}

func encodeOutput(o joiner.Output) (string, error) {
	return sonic.MarshalString(o)
}

func (c *rootConfig) reporter() func(string) {
	return func(msg string) {
		if c.silent {
			return
		}
		fmt.Fprintln(os.Stderr, msg)
	}
}

func (c *rootConfig) buildDefault(changed func(string) bool) (map[string]any, error) {
	def, err := parseQueryJSON(c.defaultJSON)
	if err != nil {
		return nil, err
	}
	if changed("default-komi") {
		def["komi"] = c.defaultKomi
	}
	if changed("default-rules") {
		def["rules"] = c.defaultRules
	}
	return def, nil
}

// buildOverride mirrors katawrap.py's CLI-to-override injection: -komi/
// -rules/-visits/-from/-to/-every/-last/-include-policy are layered onto
// -override by their short/alias names, taking priority over whatever
// -override's own JSON specifies for the same field.
func (c *rootConfig) buildOverride(changed func(string) bool) (map[string]any, error) {
	override, err := parseQueryJSON(c.overrideJSON)
	if err != nil {
		return nil, err
	}
	if changed("komi") {
		override["komi"] = c.komi
	}
	if changed("rules") {
		override["rules"] = c.rules
	}
	if changed("visits") {
		override["visits"] = c.visits
	}
	if changed("from") {
		override["from"] = c.from
	}
	if changed("to") {
		override["to"] = c.to
	}
	if changed("every") {
		override["every"] = c.every
	}
	if changed("last") {
		override["last"] = true
	}
	if changed("include-policy") {
		override["includePolicy"] = true
	}
	return override, nil
}

func parseQueryJSON(s string) (map[string]any, error) {
	q := map[string]any{}
	if s == "" {
		return q, nil
	}
	if err := sonic.UnmarshalString(s, &q); err != nil {
		return nil, err
	}
	return q, nil
}

func parseQueryListJSON(s string) ([]map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var list []map[string]any
	if err := sonic.UnmarshalString(s, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// sliceLineReader replays a pre-read slice of lines as a
// pipeline.LineReader, used when standard input is buffered eagerly
// (the default; see inputReader).
type sliceLineReader struct {
	lines []string
	i     int
}

func (r *sliceLineReader) ReadLine() (string, error) {
	if r.i >= len(r.lines) {
		return "", io.EOF
	}
	line := r.lines[r.i]
	r.i++
	return line, nil
}

// inputReader returns the ingest worker's standard-input LineReader and
// the pre-read line count for the progress line's "/T" denominator.
// -sequentially skips pre-buffering (spec.md §4.3's "read stdin lazily");
// the returned total is then 0 (unknown).
func inputReader(cfg *rootConfig) (pipeline.LineReader, int, error) {
	stdin := engine.NewReader(os.Stdin)
	if cfg.sequentially {
		return stdin, 0, nil
	}
	var lines []string
	for {
		line, err := stdin.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		lines = append(lines, line)
	}
	return &sliceLineReader{lines: lines}, len(lines), nil
}

// progressWriter returns the stderr progress line writer, or nil for
// -silent (pipeline.Driver omits the progress worker entirely then).
func progressWriter(cfg *rootConfig) pipeline.LineWriter {
	if cfg.silent {
		return nil
	}
	return output.NewProgressWriter(os.Stderr)
}

// debugReader/debugWriter echo every line to stderr, matching the
// teacher's RCLI_DEBUG wire-dump idiom and katawrap.py's debug_print
// calls around standard input, the engine, and standard output.
type debugReader struct {
	inner pipeline.LineReader
	tag   string
}

func (d debugReader) ReadLine() (string, error) {
	line, err := d.inner.ReadLine()
	if err == nil {
		fmt.Fprintf(os.Stderr, "(from %s): %s\n", d.tag, line)
	}
	return line, err
}

type debugWriter struct {
	inner pipeline.LineWriter
	tag   string
}

func (d debugWriter) WriteLine(line string) error {
	fmt.Fprintf(os.Stderr, "(to %s): %s\n", d.tag, line)
	return d.inner.WriteLine(line)
}

func maybeDebugReader(cfg *rootConfig, r pipeline.LineReader, tag string) pipeline.LineReader {
	if !cfg.debug {
		return r
	}
	return debugReader{inner: r, tag: tag}
}

func maybeDebugWriter(cfg *rootConfig, w pipeline.LineWriter, tag string) pipeline.LineWriter {
	if !cfg.debug {
		return w
	}
	return debugWriter{inner: w, tag: tag}
}
