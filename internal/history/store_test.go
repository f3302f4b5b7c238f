package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func newTestStore(t *testing.T, max, keep int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := New(path, max, keep, nil)
	require.NoError(t, err)
	return s, path
}

func userTurn(content string) domain.ConversationTurn {
	return domain.ConversationTurn{Role: domain.RoleUser, Content: content}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("  ", 10, 40, nil)
	require.Error(t, err)

	s, err := New(filepath.Join(t.TempDir(), "h.json"), 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultMax, s.max)
	require.Equal(t, 40, s.keep)

	// keep never drops below max
	s, err = New(filepath.Join(t.TempDir(), "h.json"), 50, 10, nil)
	require.NoError(t, err)
	require.Equal(t, 50, s.keep)
}

func TestKey(t *testing.T) {
	require.Equal(t, "bot1:u1", Key("bot1", "u1"))
	require.Equal(t, "bot1:anonymous", Key("bot1", ""))
	require.Equal(t, "bot1:anonymous", Key("bot1", "  "))
}

func TestRecent_UnknownKey(t *testing.T) {
	s, _ := newTestStore(t, 10, 40)
	require.Empty(t, s.Recent("bot1:u1"))
}

func TestAppendAndRecent_ReadWindow(t *testing.T) {
	s, _ := newTestStore(t, 10, 40)

	for i := 0; i < 13; i++ {
		require.NoError(t, s.Append("bot1:u1", userTurn(fmt.Sprintf("msg-%d", i))))
	}

	got := s.Recent("bot1:u1")
	require.Len(t, got, 10)
	require.Equal(t, "msg-3", got[0].Content)
	require.Equal(t, "msg-12", got[9].Content)
}

func TestAppend_TrimsToKeepCeiling(t *testing.T) {
	s, path := newTestStore(t, 10, 40)

	for i := 0; i < 45; i++ {
		require.NoError(t, s.Append("bot1:u1", userTurn(fmt.Sprintf("msg-%d", i))))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string][]domain.ConversationTurn
	require.NoError(t, json.Unmarshal(raw, &doc))
	stored := doc["bot1:u1"]
	require.Len(t, stored, 40)
	require.Equal(t, "msg-5", stored[0].Content)
	require.Equal(t, "msg-44", stored[39].Content)
}

func TestAppend_EmptyContentIsNoOp(t *testing.T) {
	s, path := newTestStore(t, 10, 40)
	require.NoError(t, s.Append("bot1:u1", userTurn("real")))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Append("bot1:u1", userTurn("   ")))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Len(t, s.Recent("bot1:u1"), 1)
}

func TestAppend_Normalization(t *testing.T) {
	s, _ := newTestStore(t, 10, 40)
	require.NoError(t, s.Append("k", domain.ConversationTurn{Role: "weird", Content: "  hi  "}))

	got := s.Recent("k")
	require.Len(t, got, 1)
	require.Equal(t, domain.RoleUser, got[0].Role)
	require.Equal(t, "hi", got[0].Content)
	require.NotZero(t, got[0].TS)
}

func TestAppend_PreservesProvidedTimestamp(t *testing.T) {
	s, _ := newTestStore(t, 10, 40)
	require.NoError(t, s.Append("k", domain.ConversationTurn{Role: domain.RoleAssistant, Content: "hi", TS: 12345}))
	require.Equal(t, int64(12345), s.Recent("k")[0].TS)
}

func TestAppend_ConcurrentWritersLoseNothing(t *testing.T) {
	s, _ := newTestStore(t, 100, 200)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.Append("bot1:u1", userTurn(fmt.Sprintf("msg-%d", i))))
		}(i)
	}
	wg.Wait()

	got := s.Recent("bot1:u1")
	require.Len(t, got, 20)
	seen := map[string]bool{}
	for _, turn := range got {
		seen[turn.Content] = true
	}
	require.Len(t, seen, 20)
}

func TestAppend_IsolatesKeys(t *testing.T) {
	s, _ := newTestStore(t, 10, 40)
	require.NoError(t, s.Append("bot1:u1", userTurn("for u1")))
	require.NoError(t, s.Append("bot1:u2", userTurn("for u2")))

	require.Len(t, s.Recent("bot1:u1"), 1)
	require.Equal(t, "for u2", s.Recent("bot1:u2")[0].Content)
}

func TestCorruptDocument_BackedUpAndReset(t *testing.T) {
	s, path := newTestStore(t, 10, 40)
	corrupt := []byte(`{"bot1:u1": [broken`)
	require.NoError(t, os.WriteFile(path, corrupt, 0o644))

	// First read after corruption recovers to an empty mapping.
	require.Empty(t, s.Recent("bot1:u1"))

	// Original bytes preserved in a timestamped side-file.
	matches, err := filepath.Glob(path + ".broken.*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	saved, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Equal(t, corrupt, saved)

	// Document reset; subsequent operations work normally.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string][]domain.ConversationTurn
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Empty(t, doc)

	require.NoError(t, s.Append("bot1:u1", userTurn("fresh start")))
	require.Len(t, s.Recent("bot1:u1"), 1)
}

func TestEmptyFile_ReadsAsEmptyMapping(t *testing.T) {
	s, path := newTestStore(t, 10, 40)
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	require.Empty(t, s.Recent("any"))

	// No backup side-file for a merely empty document.
	matches, err := filepath.Glob(path + ".broken.*")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestAppend_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "history.json")
	s, err := New(path, 10, 40, nil)
	require.NoError(t, err)

	require.NoError(t, s.Append("k", userTurn("hello")))
	_, err = os.Stat(path)
	require.NoError(t, err)
}
