package utils

import (
	"fmt"
	"io"
	"math"
	"os"
)

// --- 1. Fatal Errors ---

// exit is swapped out by tests.
var exit = os.Exit

// ShowError prints the formatted error box to w without exiting.
// Hints are printed underneath as follow-up guidance for the operator.
func ShowError(w io.Writer, context string, err error, hints ...string) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 PIXOPS ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	if len(hints) > 0 {
		fmt.Fprintf(w, "\n")
		for _, h := range hints {
			fmt.Fprintf(w, "  %s\n", h)
		}
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for setup failures.
// It prints the error box to stderr and exits 1.
func Die(context string, err error, hints ...string) {
	ShowError(os.Stderr, context, err, hints...)
	exit(1)
}

// --- 2. Report Formatting ---

// Tail returns the last n characters of s, counted in runes.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// VectorNorm returns the Euclidean magnitude of v.
func VectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
