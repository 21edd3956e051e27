package chat

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Session owns one client connection: a buffered reader running the command
// loop and a mutex-serialized writer. Every outbound frame goes through the
// writer mutex, so a voice-note header, length line and body always reach
// the peer contiguously even while other senders target the same session.
type Session struct {
	id   int
	conn net.Conn
	r    *bufio.Reader
	hub  *Hub

	udpPort  int
	maxVoice int64

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewSession(conn net.Conn, hub *Hub, udpPort int, maxVoice int64) *Session {
	return &Session{
		conn:     conn,
		hub:      hub,
		r:        bufio.NewReader(conn),
		udpPort:  udpPort,
		maxVoice: maxVoice,
	}
}

func (s *Session) ID() int { return s.id }

// Run drives the session until the peer disconnects, the stream errors, or
// the client sends BYE. Teardown closes the stream and removes the session
// from the hub exactly once.
func (s *Session) Run() {
	defer s.teardown()

	if err := s.greet(); err != nil {
		return
	}

	for {
		line, err := s.r.ReadString('\n')
		if len(strings.TrimSpace(line)) > 0 {
			if done := s.dispatch(strings.TrimSpace(line)); done {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) greet() error {
	if err := s.sendLine(fmt.Sprintf("Conectado al servidor. Tu id es %d.", s.id)); err != nil {
		return err
	}
	return s.sendLine(fmt.Sprintf("Audio UDP puerto servidor: %d", s.udpPort))
}

// dispatch handles one trimmed, non-empty command line. It returns true
// when the session must end: either the client asked for it (BYE) or the
// decoder lost framing on a voice-note body.
func (s *Session) dispatch(line string) bool {
	switch {
	case line == "BYE":
		log.Info().Str("module", "chat.session").Int("sid", s.id).Msg("client sent BYE")
		return true

	case strings.HasPrefix(line, "/createGroup "):
		name := strings.TrimSpace(line[len("/createGroup "):])
		if name == "" {
			s.sendLine("Usage: /createGroup <groupName>")
			return false
		}
		s.hub.CreateGroup(name, s)

	case strings.HasPrefix(line, "/joinGroup "):
		name := strings.TrimSpace(line[len("/joinGroup "):])
		s.hub.JoinGroup(name, s)

	case line == "/listGroups":
		s.hub.ListGroups(s)

	case strings.HasPrefix(line, "/msg "):
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			s.sendLine("Usage: /msg <userId> <message>")
			return false
		}
		toID, err := strconv.Atoi(parts[1])
		if err != nil {
			s.sendLine("Invalid user ID format.")
			return false
		}
		s.hub.SendPrivate(s, toID, parts[2])

	case strings.HasPrefix(line, "/msgGroup "):
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			s.sendLine("Usage: /msgGroup <groupName> <message>")
			return false
		}
		s.hub.SendGroup(parts[1], s, parts[2])

	case strings.HasPrefix(line, "voicenoteUser:"):
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			s.sendLine("Formato inválido. Usa: voicenoteUser:<userId>:<filename>")
			return false
		}
		data, err := s.readVoiceBody()
		if err != nil {
			log.Warn().Err(err).Str("module", "chat.session").Int("sid", s.id).Msg("voice note body")
			return true
		}
		toID, err := strconv.Atoi(parts[1])
		if err != nil {
			s.sendLine("Invalid user ID format.")
			return false
		}
		s.hub.SendVoiceUser(s, toID, parts[2], data)

	case strings.HasPrefix(line, "voicenoteGroup:"):
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			s.sendLine("Formato inválido. Usa: voicenoteGroup:<groupName>:<filename>")
			return false
		}
		data, err := s.readVoiceBody()
		if err != nil {
			log.Warn().Err(err).Str("module", "chat.session").Int("sid", s.id).Msg("voice note body")
			return true
		}
		s.hub.SendVoiceGroup(s, parts[1], parts[2], data)

	default:
		// Unknown verbs are ignored to tolerate protocol drift.
	}
	return false
}

// readVoiceBody switches the decoder from line mode to a raw body of
// exactly <len> octets: one decimal length line, then the payload. Any
// framing violation is unrecoverable and ends the session.
func (s *Session) readVoiceBody() ([]byte, error) {
	header, err := s.r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read length line: %w", err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad length line %q: %w", strings.TrimSpace(header), err)
	}
	if n < 0 || n > s.maxVoice {
		return nil, fmt.Errorf("voice note length %d out of bounds (max %d)", n, s.maxVoice)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(s.r, data); err != nil {
		return nil, fmt.Errorf("read %d body bytes: %w", n, err)
	}
	return data, nil
}

func (s *Session) sendLine(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write([]byte(msg + "\n"))
	return err
}

// sendVoiceNote writes header, length and body under one mutex hold so the
// frame is never interleaved with another sender's output.
func (s *Session) sendVoiceNote(from, filename string, data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	header := fmt.Sprintf("INCOMING_VOICENOTE:%s:%s\n%d\n", from, filename, len(data))
	if _, err := s.conn.Write([]byte(header)); err != nil {
		log.Debug().Err(err).Str("module", "chat.session").Int("sid", s.id).Msg("voice note header write")
		return
	}
	if _, err := s.conn.Write(data); err != nil {
		log.Debug().Err(err).Str("module", "chat.session").Int("sid", s.id).Msg("voice note body write")
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		s.hub.Deregister(s.id)
		log.Info().Str("module", "chat.session").Int("sid", s.id).Msg("session closed")
	})
}
