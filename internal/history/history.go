// Package history keeps an append-only on-disk record of every relayed
// message. Each conversation gets one UTF-8 log file under the base
// directory; voice payloads are stored verbatim as sibling files in a
// per-conversation voice directory.
//
// Logging is best effort: an I/O failure is reported to the server console
// and never reaches the protocol layer.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const timeLayout = "2006-01-02 15:04:05"

type Store struct {
	dir string

	// One lock per log file so concurrent sessions appending to different
	// conversations do not serialize against each other.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the base directory eagerly and returns the store.
func New(dir string) *Store {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Str("module", "history").Str("dir", dir).Msg("create history dir")
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) Dir() string { return s.dir }

// PrivateKey is the undirected conversation key for a user pair.
func PrivateKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("user-%d_%d", a, b)
}

// GroupKey is the conversation key for a named group.
func GroupKey(name string) string {
	return "group-" + name
}

func (s *Store) LogPrivateText(from, to int, text string) {
	key := PrivateKey(from, to)
	s.appendLine(key, fmt.Sprintf("user-%d -> user-%d | %s", from, to, text))
}

func (s *Store) LogGroupText(group string, from int, text string) {
	s.appendLine(GroupKey(group), fmt.Sprintf("user-%d @%s | %s", from, group, text))
}

func (s *Store) LogPrivateVoice(from, to int, filename string, data []byte) {
	key := PrivateKey(from, to)
	s.saveVoice(key, filename, data)
	s.appendLine(key, fmt.Sprintf("user-%d -> user-%d | [voice] %s", from, to, filename))
}

func (s *Store) LogGroupVoice(group string, from int, filename string, data []byte) {
	key := GroupKey(group)
	s.saveVoice(key, filename, data)
	s.appendLine(key, fmt.Sprintf("user-%d @%s | [voice] %s", from, group, filename))
}

// saveVoice writes the payload under <key>_voice/<filename>. A repeated
// filename within a conversation overwrites the earlier payload; callers
// treat filenames as opaque.
func (s *Store) saveVoice(key, filename string, data []byte) {
	dir := filepath.Join(s.dir, key+"_voice")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Str("module", "history").Str("dir", dir).Msg("create voice dir")
		return
	}
	// Strip any path components from the caller-supplied name.
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error().Err(err).Str("module", "history").Str("path", path).Msg("write voice payload")
	}
}

func (s *Store) appendLine(key, line string) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(s.dir, key+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Str("module", "history").Str("path", path).Msg("open log")
		return
	}
	defer f.Close()

	stamp := time.Now().Format(timeLayout)
	if _, err := fmt.Fprintf(f, "[%s] %s\n", stamp, line); err != nil {
		log.Error().Err(err).Str("module", "history").Str("path", path).Msg("append log line")
	}
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}
