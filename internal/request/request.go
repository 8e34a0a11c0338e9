// Package request turns a raw query-input line into the single
// engine-bound query object and the turn-expanded requests it admits,
// grounded on katawrap.py's cook_query/cooked_queries_and_requests and
// cooked_query_for_katago. SGF/SGF-file parsing itself is out of scope
// (spec.md lists it as an external collaborator): a query that never
// resolves a moves field fails the required-field check below and is
// reported and skipped, the same way a malformed SGF would be.
package request

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/kaorahi/katawrap/internal/sorter"
)

// Query is the JSON-shaped map representation used throughout request
// cooking and forwarded opaquely to the Sorter as Request.Data.
type Query = map[string]any

// Config configures Cook. Default and Override are merged with each
// input line's own JSON (Default lowest priority, Override highest),
// mirroring merge_dict(default, orig_query, override). When
// OverrideList is non-empty, one query is produced per entry — each
// entry merged on top of Override — the same fan-out
// "for o in override_list" performs in read_queries.
type Config struct {
	Default      Query
	Override     Query
	OverrideList []Query

	// OnlyLast mirrors -only-last: when a query gives no explicit
	// analyzeTurns/from/to/every/last, analyze only the final turn
	// instead of every turn from 0.
	OnlyLast bool

	IDs    *IDGenerator
	Report func(string)
}

// fieldAliases mirrors katawrap.py's field_alias table: short keys
// accepted directly on a query (or injected by CLI flags of the same
// name into Override) are renamed to their canonical field.
var fieldAliases = map[string]string{
	"from":   "analyzeTurnsFrom",
	"to":     "analyzeTurnsTo",
	"every":  "analyzeTurnsEvery",
	"last":   "analyzeLastTurn",
	"visits": "maxVisits",
}

var requiredFields = []string{"id", "moves", "rules", "boardXSize", "boardYSize"}

// Cook expands one input line into the engine-bound queries (normally
// one, or one per OverrideList entry) and the requests each admits.
func (c Config) Cook(line string) ([]sorter.Request, []Query, error) {
	parsed, err := parseLine(line)
	if err != nil {
		return nil, nil, fmt.Errorf("request: parse line: %w", err)
	}

	variants := c.OverrideList
	if len(variants) == 0 {
		variants = []Query{{}}
	}

	var requests []sorter.Request
	var queries []Query
	for _, variant := range variants {
		override := mergeQuery(c.Override, variant)
		base := mergeQuery(c.Default, parsed, override)

		reqs, engineQuery, skipReason := c.cookOne(base)
		if skipReason != "" {
			c.report(skipReason)
			continue
		}
		requests = append(requests, reqs...)
		queries = append(queries, engineQuery)
	}
	return requests, queries, nil
}

func (c Config) report(msg string) {
	if c.Report != nil {
		c.Report(msg)
	}
}

// cookOne runs the single-query cooking pipeline grounded on
// cooked_queries_and_requests: base is the pristine default+line+override
// merge (preserved so its fields survive into request Data even when the
// engine-bound copy drops them, e.g. includeUnsettledness). katagoQuery is
// a mutated copy of base, ultimately the line sent to the engine.
func (c Config) cookOne(base Query) (reqs []sorter.Request, engineQuery Query, skipReason string) {
	katagoQuery := copyQuery(base)
	addID(katagoQuery, c.IDs)

	moves, hasValidMoves := validMoves(katagoQuery)
	var turns []int
	if hasValidMoves {
		numMoves := len(moves)
		applyAliases(katagoQuery)
		turns = deriveAnalyzeTurns(katagoQuery, c.OnlyLast, numMoves)
		upcaseMovesAndPlayers(katagoQuery)
		disableReportDuringSearchEvery(katagoQuery, c.report)
		cookIncludeUnsettledness(katagoQuery)
		fixRules(katagoQuery)
		guessRulesEtc(katagoQuery)
	}

	if reason := checkErrorInQuery(katagoQuery, hasValidMoves); reason != "" {
		return nil, nil, fmt.Sprintf("%s in %v (from %v)", reason, katagoQuery, base)
	}

	merged := mergeQuery(base, katagoQuery)
	id, _ := katagoQuery["id"].(string)
	reqs = make([]sorter.Request, 0, len(turns))
	for _, t := range turns {
		data := mergeQuery(merged, Query{"turnNumber": t})
		reqs = append(reqs, sorter.Request{ID: id, Turn: t, Data: data})
	}
	return reqs, katagoQuery, ""
}

func addID(q Query, ids *IDGenerator) {
	if _, ok := q["id"]; ok {
		return
	}
	if ids == nil {
		ids = NewIDGenerator()
	}
	q["id"] = ids.Next()
}

func validMoves(q Query) ([]any, bool) {
	moves, ok := q["moves"].([]any)
	return moves, ok && len(moves) > 0
}

func applyAliases(q Query) {
	for short, canonical := range fieldAliases {
		if v, ok := q[short]; ok {
			delete(q, short)
			q[canonical] = v
		}
	}
}

func upcaseMovesAndPlayers(q Query) {
	moves, ok := q["moves"].([]any)
	if !ok {
		return
	}
	out := make([]any, len(moves))
	for i, m := range moves {
		pair, ok := m.([]any)
		if !ok || len(pair) != 2 {
			out[i] = m
			continue
		}
		player, _ := pair[0].(string)
		move, _ := pair[1].(string)
		out[i] = []any{strings.ToUpper(player), strings.ToUpper(move)}
	}
	q["moves"] = out
}

func disableReportDuringSearchEvery(q Query, report func(string)) {
	if _, ok := q["reportDuringSearchEvery"]; ok {
		delete(q, "reportDuringSearchEvery")
		report(`"reportDuringSearchEvery" is unsupported.`)
	}
}

func cookIncludeUnsettledness(q Query) {
	v, ok := q["includeUnsettledness"]
	delete(q, "includeUnsettledness")
	if ok && truthy(v) {
		q["includeOwnership"] = true
	}
}

// rulesTable lists KataGo's canonical rule name first, followed by its
// accepted aliases.
var rulesTable = [][]string{
	{"tromp-taylor"},
	{"chinese", "cn"},
	{"chinese-ogs"},
	{"chinese-kgs"},
	{"japanese", "jp"},
	{"korean", "kr"},
	{"stone-scoring"},
	{"aga"},
	{"bga"},
	{"new-zealand", "nz"},
	{"aga-button"},
}

func fixRules(q Query) {
	rules, ok := q["rules"].(string)
	if !ok {
		return
	}
	lower := strings.ToLower(rules)
	for _, group := range rulesTable {
		for _, name := range group {
			if name == lower {
				q["rules"] = group[0]
				return
			}
		}
	}
	delete(q, "rules") // unrecognized: guessed below instead
}

func guessRulesEtc(q Query) {
	_, hasRules := q["rules"]
	komi, hasKomi := q["komi"].(float64)
	boardX, hasX := q["boardXSize"]
	boardY, hasY := q["boardYSize"]

	if !hasRules {
		if !hasKomi || komi == 7.5 {
			q["rules"] = "chinese"
		} else {
			q["rules"] = "japanese"
		}
	}
	if !hasX {
		if hasY && truthy(boardY) {
			q["boardXSize"] = boardY
		} else {
			q["boardXSize"] = float64(19)
		}
	}
	if !hasY {
		if hasX && truthy(boardX) {
			q["boardYSize"] = boardX
		} else {
			q["boardYSize"] = float64(19)
		}
	}
}

func checkErrorInQuery(q Query, hasValidMoves bool) string {
	var missing []string
	for _, f := range requiredFields {
		if v, ok := q[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("Missing keys %v", missing)
	}
	if !hasValidMoves {
		return "Invalid moves field"
	}
	return ""
}

func copyQuery(q Query) Query {
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

func mergeQuery(maps ...Query) Query {
	out := Query{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// parseLine implements the query-input placeholder wrapping of
// spec.md §6: a line beginning with '{' is JSON already; a line
// beginning with "(;" is wrapped as {"sgf": line}; anything else is
// wrapped as {"sgfFile": line}.
func parseLine(line string) (Query, error) {
	trimmed := strings.TrimSpace(line)
	wrapped := fillPlaceholder(trimmed)
	var q Query
	if err := sonic.UnmarshalString(wrapped, &q); err != nil {
		return nil, err
	}
	return q, nil
}

func fillPlaceholder(trimmed string) string {
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	key := "sgfFile"
	if strings.HasPrefix(trimmed, "(;") {
		key = "sgf"
	}
	wrapped, _ := sonic.MarshalString(map[string]string{key: trimmed})
	return wrapped
}
