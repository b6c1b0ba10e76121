// Package filestore is the canonical file-based implementation of
// session.Store: one directory per session, atomic-replace writes, and a
// per-session advisory lock for cross-process coordination.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
)

// Store is the file-backed session.Store. Root is the directory under
// which `session_<id>/` subdirectories are created.
type Store struct {
	Root string

	mu    sync.Mutex // guards in-process access; advisory flock guards cross-process
	locks map[string]*flock.Flock
}

// New constructs a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: creating root %q: %w", root, err)
	}
	return &Store{Root: root, locks: make(map[string]*flock.Flock)}, nil
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.Root, "session_"+id)
}

func (s *Store) lockFor(id string) (*flock.Flock, func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = flock.New(filepath.Join(s.sessionDir(id), ".lock"))
		s.locks[id] = l
	}
	s.mu.Unlock()

	if err := l.Lock(); err != nil {
		return nil, nil, fmt.Errorf("filestore: acquiring lock for session %q: %w", id, err)
	}
	return l, func() { _ = l.Unlock() }, nil
}

// Create writes a new session directory with the initial session record.
func (s *Store) Create(sess session.Session) error {
	dir := s.sessionDir(sess.ID)
	if err := os.MkdirAll(filepath.Join(dir, "agents"), 0o755); err != nil {
		return fmt.Errorf("filestore: creating session directory: %w", err)
	}
	_, release, err := s.lockFor(sess.ID)
	if err != nil {
		return err
	}
	defer release()
	return atomicWriteJSON(filepath.Join(dir, "session.json"), sess)
}

// Get loads a session record.
func (s *Store) Get(id string) (session.Session, error) {
	var sess session.Session
	data, err := os.ReadFile(filepath.Join(s.sessionDir(id), "session.json"))
	if err != nil {
		return sess, fmt.Errorf("filestore: loading session %q: %w", id, err)
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return sess, fmt.Errorf("filestore: decoding session %q: %w", id, err)
	}
	return sess, nil
}

// Update overwrites a session record via atomic replace.
func (s *Store) Update(sess session.Session) error {
	_, release, err := s.lockFor(sess.ID)
	if err != nil {
		return err
	}
	defer release()
	return atomicWriteJSON(filepath.Join(s.sessionDir(sess.ID), "session.json"), sess)
}

// List returns every session whose Status matches statusFilter, or every
// session when statusFilter is empty.
func (s *Store) List(statusFilter session.Status) ([]session.Session, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("filestore: listing sessions: %w", err)
	}
	var out []session.Session
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "session_") {
			continue
		}
		id := strings.TrimPrefix(e.Name(), "session_")
		sess, err := s.Get(id)
		if err != nil {
			continue
		}
		if statusFilter == "" || sess.Status == statusFilter {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes a session's entire directory.
func (s *Store) Delete(id string) error {
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("filestore: deleting session %q: %w", id, err)
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// SavePatternState atomically replaces the pattern-state record.
func (s *Store) SavePatternState(sessionID string, state session.PatternState) error {
	return atomicWriteJSON(filepath.Join(s.sessionDir(sessionID), "pattern_state.json"), state)
}

// LoadPatternState loads the pattern-state record.
func (s *Store) LoadPatternState(sessionID string) (session.PatternState, error) {
	var state session.PatternState
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), "pattern_state.json"))
	if err != nil {
		return state, fmt.Errorf("filestore: loading pattern state for %q: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("filestore: decoding pattern state for %q: %w", sessionID, err)
	}
	return state, nil
}

// SaveSpecSnapshot writes the verbatim spec bytes as spec_snapshot.yaml. The
// caller supplies YAML bytes directly; this does not re-encode.
func (s *Store) SaveSpecSnapshot(sessionID string, specYAML []byte) error {
	return atomicWriteBytes(filepath.Join(s.sessionDir(sessionID), "spec_snapshot.yaml"), specYAML)
}

// LoadSpecSnapshot reads back the verbatim spec bytes.
func (s *Store) LoadSpecSnapshot(sessionID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), "spec_snapshot.yaml"))
	if err != nil {
		return nil, fmt.Errorf("filestore: loading spec snapshot for %q: %w", sessionID, err)
	}
	return data, nil
}

// AppendMessage writes message_<index>.json under the agent's messages
// subdirectory via atomic replace, so a crash mid-write never leaves a
// half-written message file observable.
func (s *Store) AppendMessage(sessionID, agentID string, index int, message modelclient.Message) error {
	dir := filepath.Join(s.sessionDir(sessionID), "agents", agentID, "messages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: creating messages directory: %w", err)
	}
	path := filepath.Join(dir, "message_"+strconv.Itoa(index)+".json")
	return atomicWriteJSON(path, message)
}

// LoadMessages reads back every message file for one agent, ordered by
// message index.
func (s *Store) LoadMessages(sessionID, agentID string) ([]modelclient.Message, error) {
	dir := filepath.Join(s.sessionDir(sessionID), "agents", agentID, "messages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: listing messages for agent %q: %w", agentID, err)
	}

	type indexed struct {
		index   int
		message modelclient.Message
	}
	var loaded []indexed
	for _, e := range entries {
		name := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "message_"), ".json")
		idx, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("filestore: reading %q: %w", e.Name(), err)
		}
		var m modelclient.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("filestore: decoding %q: %w", e.Name(), err)
		}
		loaded = append(loaded, indexed{index: idx, message: m})
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].index < loaded[j].index })

	out := make([]modelclient.Message, len(loaded))
	for i, l := range loaded {
		out[i] = l.message
	}
	return out, nil
}

// Cleanup removes sessions whose UpdatedAt is older than olderThan (an
// RFC3339 timestamp), optionally skipping completed sessions.
func (s *Store) Cleanup(olderThan string, preserveCompleted bool) (int, error) {
	threshold, err := time.Parse(time.RFC3339, olderThan)
	if err != nil {
		return 0, fmt.Errorf("filestore: parsing cleanup threshold: %w", err)
	}
	sessions, err := s.List("")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sess := range sessions {
		if preserveCompleted && sess.Status == session.StatusCompleted {
			continue
		}
		updated, err := time.Parse(time.RFC3339, sess.UpdatedAt)
		if err != nil || !updated.Before(threshold) {
			continue
		}
		if err := s.Delete(sess.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// atomicWriteJSON marshals v and replaces path in one rename, so readers
// never observe a partially written file.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encoding %q: %w", path, err)
	}
	return atomicWriteBytes(path, data)
}

func atomicWriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: creating temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: writing %q: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: syncing %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: closing %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("filestore: replacing %q: %w", path, err)
	}
	return nil
}

var _ = yaml.Marshal // spec_snapshot.yaml bytes are supplied pre-encoded by the caller
