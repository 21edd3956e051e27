// Package chat implements the TCP side of the relay: the session registry,
// private and group routing, and the line-oriented command protocol.
package chat

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/history"
)

// Hub is the process-wide directory of live sessions. Ids are assigned
// monotonically from 1 and never reused within a process lifetime.
type Hub struct {
	history *history.Store

	mu       sync.RWMutex
	sessions map[int]*Session
	nextID   int

	groups *groups
}

func NewHub(hist *history.Store) *Hub {
	return &Hub{
		history:  hist,
		sessions: make(map[int]*Session),
		groups:   newGroups(),
	}
}

// Register assigns the next id to s and inserts it.
func (h *Hub) Register(s *Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s.id = h.nextID
	h.sessions[s.id] = s
	log.Info().Str("module", "chat.hub").Int("sid", s.id).Msg("session registered")
	return s.id
}

func (h *Hub) Lookup(id int) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Deregister removes the session; idempotent.
func (h *Hub) Deregister(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[id]; !ok {
		return
	}
	delete(h.sessions, id)
	log.Info().Str("module", "chat.hub").Int("sid", id).Msg("session deregistered")
}

// CloseAll tears down every live session, unblocking their read loops.
// Used during shutdown after the listener is closed.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()
	for _, s := range open {
		s.teardown()
	}
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SendPrivate routes text to one session. Delivery and the history line
// happen only on a hit; a miss notifies the sender and records nothing.
func (h *Hub) SendPrivate(from *Session, toID int, text string) {
	target, ok := h.Lookup(toID)
	if !ok {
		from.sendLine(fmt.Sprintf("User with ID %d not found.", toID))
		return
	}
	h.history.LogPrivateText(from.id, toID, text)
	target.sendLine(fmt.Sprintf("[Privado] de %d: %s", from.id, text))
}

// SendVoiceUser persists the payload before routing, so a note to an absent
// user still lands on disk.
func (h *Hub) SendVoiceUser(from *Session, toID int, filename string, data []byte) {
	h.history.LogPrivateVoice(from.id, toID, filename, data)
	target, ok := h.Lookup(toID)
	if !ok {
		from.sendLine(fmt.Sprintf("User with ID %d not found.", toID))
		return
	}
	target.sendVoiceNote(strconv.Itoa(from.id), filename, data)
	log.Info().Str("module", "chat.hub").Int("from", from.id).Int("to", toID).Str("filename", filename).Msg("voice note relayed")
}
