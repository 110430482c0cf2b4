// Package token provides the pluggable token counter used for context
// budgeting in short-term memory and snapshot assembly.
package token

// Counter estimates the token count of a text.
type Counter interface {
	Count(text string) int
}

// ApproxCounter approximates tokens as ceil(len/4), the usual
// chars-per-token heuristic. It is the default counter.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Func adapts a plain function to the Counter interface.
type Func func(string) int

func (f Func) Count(text string) int { return f(text) }
