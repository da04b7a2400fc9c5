// Package store persists sessions and their transcripts as JSON files under
// a single state root (~/.seam by default). It is the only writer; the hub
// mutates it and everything else reads through it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	root string
	mu   sync.RWMutex
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	s := &Store{root: dir}
	for _, d := range []string{dir, s.sessionsDir(), s.messagesDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	return s, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) sessionsDir() string { return filepath.Join(s.root, "sessions") }
func (s *Store) messagesDir() string { return filepath.Join(s.root, "messages") }

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

func (s *Store) sessionMessagesDir(sessionID string) string {
	return filepath.Join(s.messagesDir(), sessionID)
}

// Sessions

// CreateSession allocates an id, stamps timestamps, and persists the session.
func (s *Store) CreateSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Mode == "" {
		sess.Mode = ModeBuild
	}
	sess.Created = time.Now().UTC()
	sess.Updated = sess.Created
	return s.writeJSON(s.sessionPath(sess.ID), sess)
}

// GetSession loads one session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	if err := s.readJSON(s.sessionPath(id), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns all sessions sorted by creation time ascending, so
// the order is stable across calls.
func (s *Store) ListSessions() ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []Session
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var sess Session
		if err := s.readJSON(filepath.Join(s.sessionsDir(), e.Name()), &sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Created.Equal(sessions[j].Created) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Created.Before(sessions[j].Created)
	})
	return sessions, nil
}

// UpdateSessionName renames a session.
func (s *Store) UpdateSessionName(id, name string) error {
	return s.mutateSession(id, func(sess *Session) {
		sess.Name = name
	})
}

// UpdateSessionModel pins (or with nil clears) a session's model.
func (s *Store) UpdateSessionModel(id string, model *ModelRef) error {
	return s.mutateSession(id, func(sess *Session) {
		sess.Model = model
	})
}

// UpdateSessionMode changes the session's operating mode.
func (s *Store) UpdateSessionMode(id, mode string) error {
	return s.mutateSession(id, func(sess *Session) {
		sess.Mode = mode
	})
}

// BindBackendSession records the backend-assigned conversation id.
func (s *Store) BindBackendSession(id, backendSessionID string) error {
	return s.mutateSession(id, func(sess *Session) {
		sess.BackendSessionID = backendSessionID
	})
}

// ArchiveWorkspaceSessions marks every session of a workspace archived.
// Used when the worktree itself goes away.
func (s *Store) ArchiveWorkspaceSessions(workspaceID string) (int, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return 0, err
	}
	archived := 0
	for i := range sessions {
		if sessions[i].WorkspaceID != workspaceID || sessions[i].Archived {
			continue
		}
		if err := s.mutateSession(sessions[i].ID, func(sess *Session) {
			sess.Archived = true
		}); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func (s *Store) mutateSession(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess Session
	if err := s.readJSON(s.sessionPath(id), &sess); err != nil {
		return err
	}
	fn(&sess)
	sess.Updated = time.Now().UTC()
	return s.writeJSON(s.sessionPath(id), &sess)
}

// Messages

// CreateMessage appends a transcript entry for a session.
func (s *Store) CreateMessage(sessionID, role, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionMessagesDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        s.nextID(dir),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Created:   time.Now().UTC(),
	}
	if err := s.writeJSON(filepath.Join(dir, fmt.Sprintf("%d.json", msg.ID)), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a session's transcript in insertion order.
func (s *Store) ListMessages(sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.sessionMessagesDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var msgs []Message
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var msg Message
		if err := s.readJSON(filepath.Join(dir, e.Name()), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// GetLastMessage returns the most recent transcript entry, or nil when the
// session has none.
func (s *Store) GetLastMessage(sessionID string) (*Message, error) {
	msgs, err := s.ListMessages(sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

// ErrNotFound reports a missing session or message file.
var ErrNotFound = errors.New("not found")

// Helpers

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) nextID(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	maxID := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if id, err := strconv.Atoi(name); err == nil && id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}
