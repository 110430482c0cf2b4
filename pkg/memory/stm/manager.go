// Package stm holds per-run short-term memory: a fixed zone describing the
// run and a sliding zone of function-call rounds, kept within a token
// budget by summarizing the oldest rounds.
package stm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/owlhub/platform/pkg/memory/token"
)

// keepFullRounds is how many trailing rounds survive compression intact.
const keepFullRounds = 3

// Round is one function-call/response exchange in the sliding zone.
// A summary round replaces a run of compressed older rounds.
type Round struct {
	FunctionName string
	Arguments    string
	Response     string
	Summary      bool
	SummaryText  string
}

// Manager mutates and renders one run's short-term context. All mutations
// recompute the token count and compress when over budget.
type Manager struct {
	mu sync.Mutex

	// Fixed zone.
	triggerType  string
	payload      string
	focus        string
	instructions []string

	// Sliding zone.
	rounds []Round

	maxTokens int
	counter   token.Counter
	tokens    int
}

// NewManager creates a manager with the given token budget. A nil counter
// uses the default approximation.
func NewManager(maxTokens int, counter token.Counter) *Manager {
	if counter == nil {
		counter = token.ApproxCounter{}
	}
	return &Manager{maxTokens: maxTokens, counter: counter}
}

// AddTrigger sets the fixed zone's trigger fields.
func (m *Manager) AddTrigger(triggerType, payload, focus string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerType = triggerType
	m.payload = payload
	m.focus = focus
	m.recompute()
}

// Inject appends an instruction to the fixed zone.
func (m *Manager) Inject(instruction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instructions = append(m.instructions, instruction)
	m.recompute()
}

// AddFunctionCall opens a new round in the sliding zone.
func (m *Manager) AddFunctionCall(name, arguments string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, Round{FunctionName: name, Arguments: arguments})
	m.recompute()
}

// AddLLMResponse completes the most recent round. With no open round it
// records a response-only round.
func (m *Manager) AddLLMResponse(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.rounds); n > 0 && m.rounds[n-1].Response == "" && !m.rounds[n-1].Summary {
		m.rounds[n-1].Response = response
	} else {
		m.rounds = append(m.rounds, Round{Response: response})
	}
	m.recompute()
}

// TokenCount returns the current token accounting.
func (m *Manager) TokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Rounds returns a copy of the sliding zone.
func (m *Manager) Rounds() []Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Round, len(m.rounds))
	copy(out, m.rounds)
	return out
}

// recompute re-counts tokens and compresses the sliding zone while the
// budget is exceeded and more than keepFullRounds full rounds remain.
// Callers hold the lock.
func (m *Manager) recompute() {
	m.tokens = m.counter.Count(m.render())

	for m.maxTokens > 0 && m.tokens > m.maxTokens && m.compressibleRounds() > keepFullRounds {
		m.compressOldest()
		m.tokens = m.counter.Count(m.render())
	}
}

// compressibleRounds counts non-summary rounds.
func (m *Manager) compressibleRounds() int {
	n := 0
	for _, r := range m.rounds {
		if !r.Summary {
			n++
		}
	}
	return n
}

// compressOldest replaces all but the last keepFullRounds full rounds
// (plus any previous summary) with a single summary round.
func (m *Manager) compressOldest() {
	full := m.compressibleRounds()
	toCompress := full - keepFullRounds
	if toCompress <= 0 {
		return
	}

	// Count rounds already folded into an existing summary.
	already := 0
	if len(m.rounds) > 0 && m.rounds[0].Summary {
		fmt.Sscanf(m.rounds[0].SummaryText, "[%d earlier rounds summarized]", &already)
	}

	// Drop the old summary and the oldest toCompress full rounds.
	var kept []Round
	dropped := 0
	for _, r := range m.rounds {
		if r.Summary {
			continue
		}
		if dropped < toCompress {
			dropped++
			continue
		}
		kept = append(kept, r)
	}

	total := already + dropped
	summary := Round{
		Summary:     true,
		SummaryText: fmt.Sprintf("[%d earlier rounds summarized]", total),
	}
	m.rounds = append([]Round{summary}, kept...)
}

// Render produces the structured Markdown section.
func (m *Manager) Render() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.render()
}

func (m *Manager) render() string {
	if m.empty() {
		return "## Short-term context\n(empty)"
	}

	var b strings.Builder
	b.WriteString("## Short-term context\n")

	if m.triggerType != "" || m.payload != "" || m.focus != "" || len(m.instructions) > 0 {
		b.WriteString("### Trigger\n")
		if m.triggerType != "" {
			fmt.Fprintf(&b, "- type: %s\n", m.triggerType)
		}
		if m.payload != "" {
			fmt.Fprintf(&b, "- payload: %s\n", m.payload)
		}
		if m.focus != "" {
			fmt.Fprintf(&b, "- focus: %s\n", m.focus)
		}
		for _, ins := range m.instructions {
			fmt.Fprintf(&b, "- instruction: %s\n", ins)
		}
	}

	if len(m.rounds) > 0 {
		b.WriteString("### Rounds\n")
		for _, r := range m.rounds {
			if r.Summary {
				fmt.Fprintf(&b, "- %s\n", r.SummaryText)
				continue
			}
			if r.FunctionName != "" {
				fmt.Fprintf(&b, "- call %s(%s)\n", r.FunctionName, r.Arguments)
			}
			if r.Response != "" {
				fmt.Fprintf(&b, "  response: %s\n", r.Response)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) empty() bool {
	return m.triggerType == "" && m.payload == "" && m.focus == "" &&
		len(m.instructions) == 0 && len(m.rounds) == 0
}
