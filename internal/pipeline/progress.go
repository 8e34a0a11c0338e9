package pipeline

import (
	"fmt"
	"time"

	"github.com/kaorahi/katawrap/internal/joiner"
	"github.com/kaorahi/katawrap/internal/sorter"
)

// progressSnapshot is the data formatProgress renders. Joiner counts are
// read separately since the Joiner has no exported counter type of its
// own (spec.md §4.2's count() returns a bare (to_join, popped) pair).
type progressSnapshot struct {
	ProcessedQueries int
	TotalQueries     int // 0 means unknown
	Sorter           sorter.Counts
	Elapsed          time.Duration
}

// formatProgress renders the line described in spec.md §6:
//
//	[in Q/T] [out P%] W>P>J>D elapsed
//
// Q/T is the processed/total query count (T omitted when unknown); P% is
// the estimated completion percentage (omitted when T is unknown); W, P,
// J, D are waiting, pooled, to-join and popped counts; "elapsed" is
// h:mm:ss or mm:ss. The emitted line carries no line terminator — the
// caller's LineWriter decides between carriage-return overwrite (TTY)
// and a trailing newline (piped stderr).
func formatProgress(s progressSnapshot, j *joiner.Joiner) string {
	toJoin, popped := j.Count()
	queries := progressOfQueries(s.ProcessedQueries, s.TotalQueries)
	responses := progressOfResponses(s)
	elapsed := elapsedString(s.Elapsed)
	return fmt.Sprintf("[in %s] [out%s] %d>%d>%d>%d %s ... ",
		queries, responses, s.Sorter.Waiting, s.Sorter.Pooled, toJoin, popped, elapsed)
}

func progressOfQueries(processed, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d", processed)
	}
	return fmt.Sprintf("%d/%d", processed, total)
}

func progressOfResponses(s progressSnapshot) string {
	if s.TotalQueries <= 0 {
		return ""
	}
	requests := s.Sorter.PushedTotal
	if requests == 0 || s.ProcessedQueries == 0 {
		return " 0%"
	}
	responded := requests - s.Sorter.Waiting
	progress := float64(s.ProcessedQueries) / float64(s.TotalQueries)
	pct := int(float64(responded) / float64(requests) * progress * 100)
	mark := ""
	if progress < 1 {
		mark = "?"
	}
	return fmt.Sprintf(" %d%%%s", pct, mark)
}

func elapsedString(d time.Duration) string {
	seconds := int(d.Seconds())
	minutes, s := seconds/60, seconds%60
	h, m := minutes/60, minutes%60
	if h < 1 {
		return fmt.Sprintf("%02d:%02d", m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
