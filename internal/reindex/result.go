package reindex

import (
	"fmt"
	"io"
)

// Outcome classifies what happened to a single record.
type Outcome int

const (
	Skipped Outcome = iota
	Success
	NoFace
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Success:
		return "success"
	case NoFace:
		return "no_face"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the typed outcome of processing one record.
type Result struct {
	Outcome Outcome
	// Reason is a short human label, e.g. "already 512D ArcFace" or "download HTTP 404".
	Reason string
	// Dimensions is the descriptor length written on Success.
	Dimensions int
	// Timeout marks a Failed result caused by a deadline.
	Timeout bool
	Err     error
}

// Summary aggregates results over a run.
type Summary struct {
	Success  int
	NoFace   int
	Skipped  int
	Failed   int
	Timeouts int
	Total    int
}

// Add counts r exactly once.
func (s *Summary) Add(r Result) {
	s.Total++
	switch r.Outcome {
	case Success:
		s.Success++
	case NoFace:
		s.NoFace++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
		if r.Timeout {
			s.Timeouts++
		}
	}
}

// Print writes the end-of-run report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "\n=== Re-index Complete ===\n")
	fmt.Fprintf(w, "  Updated:         %d\n", s.Success)
	fmt.Fprintf(w, "  No face:         %d\n", s.NoFace)
	fmt.Fprintf(w, "  Already indexed: %d\n", s.Skipped)
	if s.Timeouts > 0 {
		fmt.Fprintf(w, "  Failed:          %d (%d timed out)\n", s.Failed, s.Timeouts)
	} else {
		fmt.Fprintf(w, "  Failed:          %d\n", s.Failed)
	}
	fmt.Fprintf(w, "  Total:           %d\n", s.Total)
}
