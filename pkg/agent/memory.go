package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is a bounded conversation buffer shared across turns of an agent.
type Memory interface {
	// AddMessage appends a message.
	AddMessage(role, content string)

	// Messages returns up to limit of the most recent messages in
	// chronological order. limit <= 0 means all.
	Messages(limit int) []Message

	// Clear drops every message.
	Clear()

	// Len returns the number of stored messages.
	Len() int
}

// DefaultMaxMessages is the capacity of a ConversationMemory created with a
// non-positive size.
const DefaultMaxMessages = 50

// ConversationMemory keeps the most recent messages up to a fixed capacity.
type ConversationMemory struct {
	mu          sync.Mutex
	maxMessages int
	messages    []Message
}

// NewConversationMemory creates a FIFO memory holding maxMessages entries.
func NewConversationMemory(maxMessages int) *ConversationMemory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ConversationMemory{maxMessages: maxMessages}
}

// AddMessage appends a message and drops the oldest ones over capacity.
func (m *ConversationMemory) AddMessage(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	if over := len(m.messages) - m.maxMessages; over > 0 {
		m.messages = append([]Message(nil), m.messages[over:]...)
	}
}

// Messages implements Memory.
func (m *ConversationMemory) Messages(limit int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.messages, limit)
}

// ContextWindow returns the newest messages whose estimated token cost fits
// in maxTokens, in chronological order. Cost is len(content)/4.
func (m *ConversationMemory) ContextWindow(maxTokens int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	start := len(m.messages)
	for i := len(m.messages) - 1; i >= 0; i-- {
		tokens := EstimateTokens(m.messages[i].Content)
		if total+tokens > maxTokens {
			break
		}
		total += tokens
		start = i
	}
	return append([]Message(nil), m.messages[start:]...)
}

// Clear implements Memory.
func (m *ConversationMemory) Clear() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// Len implements Memory.
func (m *ConversationMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Summarizer condenses a transcript into a short summary.
type Summarizer func(transcript string) (string, error)

// DefaultRecentCount is the number of verbatim messages a SummarizingMemory
// keeps when created with a non-positive count.
const DefaultRecentCount = 10

// SummarizingMemory keeps the recent messages verbatim and folds older ones
// into a running summary.
type SummarizingMemory struct {
	mu          sync.Mutex
	recentCount int
	summarizer  Summarizer
	messages    []Message
	summary     string
}

// NewSummarizingMemory creates a summarizing memory. With a nil summarizer
// older messages are simply dropped.
func NewSummarizingMemory(recentCount int, summarizer Summarizer) *SummarizingMemory {
	if recentCount <= 0 {
		recentCount = DefaultRecentCount
	}
	return &SummarizingMemory{recentCount: recentCount, summarizer: summarizer}
}

// AddMessage appends a message and collapses the buffer once it holds more
// than twice the recent count.
func (m *SummarizingMemory) AddMessage(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	if len(m.messages) > 2*m.recentCount {
		m.collapse()
	}
}

// collapse must be called with mu held.
func (m *SummarizingMemory) collapse() {
	cut := len(m.messages) - m.recentCount
	older := m.messages[:cut]

	if m.summarizer != nil {
		var b strings.Builder
		if m.summary != "" {
			fmt.Fprintf(&b, "summary: %s\n", m.summary)
		}
		for i, msg := range older {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s: %s", msg.Role, msg.Content)
		}
		// A failing summarizer keeps the previous summary.
		if s, err := m.summarizer(b.String()); err == nil {
			m.summary = s
		}
	}

	m.messages = append([]Message(nil), m.messages[cut:]...)
}

// Messages implements Memory. When a summary exists it is returned first as a
// system message; limit applies to the verbatim messages only.
func (m *SummarizingMemory) Messages(limit int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := tail(m.messages, limit)
	if m.summary == "" {
		return recent
	}
	out := make([]Message, 0, len(recent)+1)
	out = append(out, Message{Role: RoleSystem, Content: "Previous conversation summary: " + m.summary})
	return append(out, recent...)
}

// Summary returns the current summary, or "".
func (m *SummarizingMemory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Clear implements Memory.
func (m *SummarizingMemory) Clear() {
	m.mu.Lock()
	m.messages = nil
	m.summary = ""
	m.mu.Unlock()
}

// Len implements Memory. The synthetic summary message is not counted.
func (m *SummarizingMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// EstimateTokens approximates the token count of s at four bytes per token.
func EstimateTokens(s string) int {
	return len(s) / 4
}

func tail(msgs []Message, limit int) []Message {
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...)
}
