package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// groups holds the named member lists. Member entries are session ids, not
// session pointers: delivery resolves each id through the hub at send time,
// so a torn-down session is skipped and pruned without teardown ever
// walking the group lists.
//
// One lock serializes every mutating operation including group fan-out, so
// members of a group observe a consistent ordering of its messages relative
// to joins.
type groups struct {
	mu     sync.Mutex
	byName map[string][]int
}

func newGroups() *groups {
	return &groups{byName: make(map[string][]int)}
}

// CreateGroup registers a fresh group with the creator as first member.
func (h *Hub) CreateGroup(name string, creator *Session) {
	g := h.groups
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.byName[name]; exists {
		creator.sendLine(fmt.Sprintf("El grupo '%s' ya existe.", name))
		return
	}
	g.byName[name] = []int{creator.id}
	creator.sendLine(fmt.Sprintf("✓ Grupo '%s' creado exitosamente.", name))
	creator.sendLine("Otros usuarios pueden unirse con: /joinGroup " + name)
	log.Info().Str("module", "chat.groups").Str("group", name).Int("sid", creator.id).Msg("group created")
}

// JoinGroup appends the session to an existing group and notifies the other
// members. Joining a group twice yields the idempotent notice.
func (h *Hub) JoinGroup(name string, s *Session) {
	g := h.groups
	g.mu.Lock()
	defer g.mu.Unlock()
	members, exists := g.byName[name]
	if !exists {
		s.sendLine(fmt.Sprintf("El grupo '%s' no existe.", name))
		return
	}
	for _, id := range members {
		if id == s.id {
			s.sendLine(fmt.Sprintf("Ya estás en el grupo '%s'.", name))
			return
		}
	}
	g.byName[name] = append(members, s.id)
	s.sendLine(fmt.Sprintf("Te has unido al grupo '%s'.", name))
	for _, id := range members {
		if member, ok := h.Lookup(id); ok {
			member.sendLine(fmt.Sprintf("[Sistema] El usuario %d se ha unido al grupo", s.id))
		}
	}
	log.Info().Str("module", "chat.groups").Str("group", name).Int("sid", s.id).Msg("member joined")
}

// ListGroups replies with one frame describing every group.
func (h *Hub) ListGroups(s *Session) {
	g := h.groups
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.byName) == 0 {
		s.sendLine("No hay grupos existentes. Crea uno con /createGroup <nombre>")
		return
	}
	names := make([]string, 0, len(g.byName))
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("--- GRUPOS DISPONIBLES ---\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s (%d miembros)\n", name, len(g.byName[name]))
	}
	sb.WriteString("Únete con: /joinGroup <nombre>")
	s.sendLine(sb.String())
}

// SendGroup fans text out to every member except the sender. Exactly one
// history line is appended per accepted message.
func (h *Hub) SendGroup(name string, from *Session, text string) {
	g := h.groups
	g.mu.Lock()
	defer g.mu.Unlock()
	members, exists := g.byName[name]
	if !exists {
		from.sendLine(fmt.Sprintf("Group '%s' does not exist.", name))
		return
	}
	if len(members) == 0 {
		from.sendLine(fmt.Sprintf("Group '%s' has no members.", name))
		return
	}
	h.history.LogGroupText(name, from.id, text)
	frame := fmt.Sprintf("[%s] Usuario %d: %s", name, from.id, text)
	g.byName[name] = h.fanOut(members, from.id, func(member *Session) {
		member.sendLine(frame)
	})
}

// SendVoiceGroup persists the payload, then fans it out.
func (h *Hub) SendVoiceGroup(from *Session, name, filename string, data []byte) {
	g := h.groups
	g.mu.Lock()
	defer g.mu.Unlock()
	members, exists := g.byName[name]
	if !exists || len(members) == 0 {
		from.sendLine(fmt.Sprintf("Grupo no encontrado o vacío: %s", name))
		return
	}
	h.history.LogGroupVoice(name, from.id, filename, data)
	header := fmt.Sprintf("Grupo:%s de %d", name, from.id)
	g.byName[name] = h.fanOut(members, from.id, func(member *Session) {
		member.sendVoiceNote(header, filename, data)
	})
	log.Info().Str("module", "chat.groups").Str("group", name).Int("from", from.id).Str("filename", filename).Msg("group voice note relayed")
}

// fanOut delivers to every live member except the sender and returns the
// member list with stale ids pruned. Send errors stay per-destination; one
// dead peer never aborts the rest of the fan-out.
func (h *Hub) fanOut(members []int, fromID int, deliver func(*Session)) []int {
	live := members[:0]
	for _, id := range members {
		member, ok := h.Lookup(id)
		if !ok {
			continue
		}
		live = append(live, id)
		if id != fromID {
			deliver(member)
		}
	}
	return live
}
