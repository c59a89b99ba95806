package convo

import (
	"strings"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange unit in a transcript. Immutable once appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Route is the handling decision for an incoming text message.
type Route string

const (
	RouteChat   Route = "chat"
	RouteReport Route = "report"
)

// DefaultMaxTurns bounds a transcript to one system turn plus ten
// user/assistant exchanges.
const DefaultMaxTurns = 21

// Store maps a user ID to its bounded dialogue transcript. Transcripts are
// created lazily on first append and live for the process lifetime unless
// cleared.
type Store struct {
	mu           sync.RWMutex
	transcripts  map[string][]Turn
	maxTurns     int
	systemPrompt string
}

// NewStore creates a Store capped at maxTurns total turns per user, the
// seeded system turn included. Non-positive caps fall back to the default.
func NewStore(maxTurns int, systemPrompt string) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		transcripts:  make(map[string][]Turn),
		maxTurns:     maxTurns,
		systemPrompt: systemPrompt,
	}
}

// Append adds a turn to the user's transcript, creating it first when absent
// and seeding the configured system prompt as turn zero. When the cap is
// exceeded the oldest non-system turns are dropped; a seeded system turn is
// never evicted and stays at index zero. The returned slice is a copy safe
// for use as a chat request payload.
func (s *Store) Append(userID string, role Role, content string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.transcripts[userID]
	if !ok && s.systemPrompt != "" {
		turns = append(turns, Turn{Role: RoleSystem, Content: s.systemPrompt})
	}

	turns = append(turns, Turn{Role: role, Content: content})
	turns = s.trim(turns)
	s.transcripts[userID] = turns

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

func (s *Store) trim(turns []Turn) []Turn {
	if len(turns) <= s.maxTurns {
		return turns
	}
	if turns[0].Role != RoleSystem {
		return turns[len(turns)-s.maxTurns:]
	}
	// keep >= 0 and the tail can never reach back to index zero because
	// len(turns) > maxTurns.
	keep := s.maxTurns - 1
	out := make([]Turn, 0, s.maxTurns)
	out = append(out, turns[0])
	out = append(out, turns[len(turns)-keep:]...)
	return out
}

// Clear drops the user's transcript entirely. No-op when absent.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, userID)
}

// Len returns the current transcript length for the user.
func (s *Store) Len(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts[userID])
}

// ActiveUsers returns the number of users with a live transcript.
func (s *Store) ActiveUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts)
}

// Classify routes a message to report generation when any trigger keyword is
// a substring of it, case-sensitively. An empty keyword set always yields
// RouteChat; empty-string keywords are rejected at configuration parse time.
func Classify(text string, keywords []string) Route {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return RouteReport
		}
	}
	return RouteChat
}
