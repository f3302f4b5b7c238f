// Package history is a file-backed, append-only conversation history.
//
// The whole history lives in one JSON document mapping a conversation key to
// its turns. Append serializes its read-modify-write cycle with a mutex, so
// correctness depends on a single process owning the file; running more than
// one instance against the same path requires swapping in a shared
// transactional store.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/domain"
)

// DefaultMax is the read-window size when none is configured.
const DefaultMax = 10

const anonymousUser = "anonymous"

// Key builds the composite history key for a bot/user pair. A missing user id
// maps to a shared sentinel so the bot still accumulates context.
func Key(botID, userID string) string {
	if strings.TrimSpace(userID) == "" {
		userID = anonymousUser
	}
	return botID + ":" + userID
}

type Store struct {
	path   string
	max    int
	keep   int
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a Store persisting to path. max is the read-window size, keep
// the storage ceiling; keep defaults to max(4*max, 40) and is never allowed
// below max.
func New(path string, max, keep int, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history: path must not be empty")
	}
	if max <= 0 {
		max = DefaultMax
	}
	if keep <= 0 {
		keep = 4 * max
		if keep < 40 {
			keep = 40
		}
	}
	if keep < max {
		keep = max
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, max: max, keep: keep, logger: logger}, nil
}

// Recent returns the most recent max turns for key, oldest first. Unknown
// keys and read failures both yield an empty slice; failures are logged.
func (s *Store) Recent(key string) []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readAll()
	if err != nil {
		s.logger.Error("history read failed", "key", key, "err", err)
		return nil
	}
	turns := doc[key]
	if len(turns) > s.max {
		turns = turns[len(turns)-s.max:]
	}
	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// Append normalizes the turn and persists it at the tail of the key's
// sequence, trimming storage to the keep ceiling. A turn whose content is
// empty after trimming is discarded without touching the file. Appends are
// strictly serialized; two concurrent calls never lose each other's write.
func (s *Store) Append(key string, turn domain.ConversationTurn) error {
	t := normalizeTurn(turn)
	if t.Content == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readAll()
	if err != nil {
		return err
	}
	turns := append(doc[key], t)
	if len(turns) > s.keep {
		turns = turns[len(turns)-s.keep:]
	}
	doc[key] = turns
	return s.writeAll(doc)
}

func normalizeTurn(t domain.ConversationTurn) domain.ConversationTurn {
	if t.Role != domain.RoleAssistant {
		t.Role = domain.RoleUser
	}
	t.Content = strings.TrimSpace(t.Content)
	if t.TS == 0 {
		t.TS = time.Now().UnixMilli()
	}
	return t
}

// readAll loads the whole document. A missing or empty file reads as an empty
// mapping. An unparsable file is backed up to a timestamped side-file and
// reset so corruption is recoverable, never fatal.
func (s *Store) readAll() (map[string][]domain.ConversationTurn, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]domain.ConversationTurn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", s.path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string][]domain.ConversationTurn{}, nil
	}

	var doc map[string][]domain.ConversationTurn
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.backupCorrupt(raw, err)
		return map[string][]domain.ConversationTurn{}, nil
	}
	if doc == nil {
		doc = map[string][]domain.ConversationTurn{}
	}
	return doc, nil
}

func (s *Store) backupCorrupt(raw []byte, cause error) {
	backup := fmt.Sprintf("%s.broken.%d", s.path, time.Now().UnixMilli())
	if err := os.WriteFile(backup, raw, 0o644); err != nil {
		s.logger.Error("history corrupt-document backup failed", "path", backup, "err", err)
	} else {
		s.logger.Warn("history document corrupt, backed up and reset", "backup", backup, "err", cause)
	}
	if err := s.writeAll(map[string][]domain.ConversationTurn{}); err != nil {
		s.logger.Error("history reset failed", "err", err)
	}
}

func (s *Store) writeAll(doc map[string][]domain.ConversationTurn) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("history: create parent dir: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode document: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("history: write %s: %w", s.path, err)
	}
	return nil
}
