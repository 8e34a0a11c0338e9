package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// exit codes, per spec.md §6: 0 on normal or interrupted completion, 1
// on startup misconfiguration.
const (
	exitOK        = 0
	exitMisconfig = 1
)

// errMisconfigured is returned when no engine command, no -netcat address
// and no -suspend-to/-resume-from path was given.
var errMisconfigured = errors.New("katawrap: no engine command given, and neither -suspend-to nor -resume-from was set")

type rootConfig struct {
	order        string
	maxRequests  int
	sequentially bool
	silent       bool
	debug        bool
	netcat       string
	suspendTo    string
	resumeFrom   string

	defaultJSON      string
	overrideJSON     string
	overrideListJSON string
	defaultKomi      float64
	defaultRules     string
	komi             float64
	rules            string
	visits           int
	from             int
	to               int
	every            int
	last             bool
	includePolicy    bool
	onlyLast         bool

	disableSGFFile bool
	sgfEncoding    string

	unsettlednessByEntropy bool
	softMoyo               bool
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootConfig{})
}

func buildRootCmd(cfg *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "katawrap [flags] -- ENGINE_COMMAND...",
		Short:         "Streaming wrapper around a Go-playing analysis engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.applyEnv(cmd.Flags().Changed)
			if len(args) == 0 && cfg.netcat == "" && cfg.suspendTo == "" && cfg.resumeFrom == "" {
				_ = cmd.Help()
				return errMisconfigured
			}
			return runPipeline(cmd, cfg, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.order, "order", "sort", `Joiner mode: "arrival", "sort", or "join"`)
	f.IntVar(&cfg.maxRequests, "max-requests", 1000, "admission ceiling on pending requests (0 = unlimited)")
	f.BoolVar(&cfg.sequentially, "sequentially", false, "read standard input lazily instead of pre-buffering it")
	f.BoolVar(&cfg.silent, "silent", false, "do not print progress info to stderr")
	f.BoolVar(&cfg.debug, "debug", false, "print every line to/from standard input, the engine, and standard output to stderr")
	f.StringVar(&cfg.netcat, "netcat", "", "dial ADDR (host:port) as the engine instead of spawning ENGINE_COMMAND")
	f.StringVar(&cfg.suspendTo, "suspend-to", "", "write engine-bound queries to stdout and dump the pending request pool to PATH")
	f.StringVar(&cfg.resumeFrom, "resume-from", "", "skip the ingest worker, restore the pending request pool from PATH, and read engine responses from stdin")

	f.StringVar(&cfg.defaultJSON, "default", "", "JSON object: default values for fields missing from a query")
	f.StringVar(&cfg.overrideJSON, "override", "", "JSON object: values forced onto every query")
	f.StringVar(&cfg.overrideListJSON, "override-list", "", "JSON array of objects: run every query once per entry, each merged over -override")
	f.Float64Var(&cfg.defaultKomi, "default-komi", 0, "equivalent to {\"komi\": K} in -default")
	f.StringVar(&cfg.defaultRules, "default-rules", "", "equivalent to {\"rules\": R} in -default")
	f.Float64Var(&cfg.komi, "komi", 0, "equivalent to {\"komi\": K} in -override")
	f.StringVar(&cfg.rules, "rules", "", "equivalent to {\"rules\": R} in -override")
	f.IntVar(&cfg.visits, "visits", 0, "equivalent to {\"maxVisits\": N} in -override")
	f.IntVar(&cfg.from, "from", 0, "equivalent to {\"analyzeTurnsFrom\": N} in -override")
	f.IntVar(&cfg.to, "to", 0, "equivalent to {\"analyzeTurnsTo\": N} in -override")
	f.IntVar(&cfg.every, "every", 0, "equivalent to {\"analyzeTurnsEvery\": N} in -override")
	f.BoolVar(&cfg.last, "last", false, "equivalent to {\"analyzeLastTurn\": true} in -override")
	f.BoolVar(&cfg.includePolicy, "include-policy", false, `equivalent to {"includePolicy": true} in -override`)
	f.BoolVar(&cfg.onlyLast, "only-last", false, "analyze only the last turn when a query gives no explicit turn range")

	f.BoolVar(&cfg.disableSGFFile, "disable-sgf-file", false, "do not treat a bare line as an SGF file path (SGF support is out of scope; this is accepted for compatibility)")
	f.StringVar(&cfg.sgfEncoding, "sgf-encoding", "utf-8", "encodings to try when reading an SGF file (unused: SGF file reading is out of scope)")

	f.BoolVar(&cfg.unsettlednessByEntropy, "unsettledness-by-entropy", false, "experimental: compute unsettledness from ownership entropy instead of |ownership|")
	f.BoolVar(&cfg.softMoyo, "soft-moyo", false, "experimental: use the soft (tanh-like) moyo formula instead of the hard threshold")

	return cmd
}

// applyEnv fills cfg.debug from KATAWRAP_DEBUG when -debug was not given
// explicitly, mirroring the teacher's applyEnvStr.
func (c *rootConfig) applyEnv(changed func(string) bool) {
	if changed("debug") {
		return
	}
	if v := os.Getenv("KATAWRAP_DEBUG"); v != "" {
		c.debug = true
	}
}

// exitCode maps the outcome of ExecuteContext to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	return exitMisconfig
}
