// Package session keeps per-conversation state: message history for the
// LLM's context window and the sticky backend used by anaphora routing.
// Turns are appended to a JSONL file so history survives restarts.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles stored in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxHistory bounds the messages kept in memory per session; the JSONL log
// keeps everything.
const maxHistory = 40

// Message is one turn of a conversation.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Ts      time.Time `json:"ts"`
}

// Session is one conversation.
type Session struct {
	ID          string    `json:"id"`
	Messages    []Message `json:"messages"`
	LastBackend string    `json:"last_backend,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// logRecord is one line of the JSONL persistence log.
type logRecord struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

// Store owns all sessions. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	logPath string
	logMu   sync.Mutex
	logger  *slog.Logger
}

// NewStore creates a store persisting turns to logPath. Existing log lines
// are replayed so sessions resume across restarts; unreadable lines are
// skipped.
func NewStore(logPath string) (*Store, error) {
	s := &Store{
		sessions: map[string]*Session{},
		logPath:  logPath,
		logger:   slog.Default(),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open session log: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	skipped := 0
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		sess := s.sessions[rec.SessionID]
		if sess == nil {
			sess = &Session{ID: rec.SessionID, CreatedAt: rec.Message.Ts}
			s.sessions[rec.SessionID] = sess
		}
		sess.Messages = appendBounded(sess.Messages, rec.Message)
		sess.UpdatedAt = rec.Message.Ts
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read session log: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("Skipped unreadable session log lines", "count", skipped)
	}
	return nil
}

// Create starts a new session and returns it.
func (s *Store) Create() *Session {
	now := time.Now()
	sess := &Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session or nil.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// GetOrCreate returns the session with the given id, creating it when the
// id is empty or unknown.
func (s *Store) GetOrCreate(id string) *Session {
	if id != "" {
		if sess := s.Get(id); sess != nil {
			return sess
		}
	}
	if id == "" {
		return s.Create()
	}
	now := time.Now()
	sess := &Session{ID: id, CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// Append records a turn in memory and on disk.
func (s *Store) Append(sessionID, role, content string) error {
	msg := Message{Role: role, Content: content, Ts: time.Now()}

	s.mu.Lock()
	sess := s.sessions[sessionID]
	if sess == nil {
		s.mu.Unlock()
		return fmt.Errorf("unknown session %q", sessionID)
	}
	sess.Messages = appendBounded(sess.Messages, msg)
	sess.UpdatedAt = msg.Ts
	s.mu.Unlock()

	return s.appendLog(logRecord{SessionID: sessionID, Message: msg})
}

// History returns a copy of the session's messages, newest last.
func (s *Store) History(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.sessions[sessionID]
	if sess == nil {
		return nil
	}
	out := make([]Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// UpdateLastBackend records the backend of the turn for anaphora routing.
func (s *Store) UpdateLastBackend(sessionID, backendID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.sessions[sessionID]; sess != nil {
		sess.LastBackend = backendID
		sess.UpdatedAt = time.Now()
	}
}

// LastBackend returns the sticky backend of the session, or "".
func (s *Store) LastBackend(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.sessions[sessionID]; sess != nil {
		return sess.LastBackend
	}
	return ""
}

func (s *Store) appendLog(rec logRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	s.logMu.Lock()
	defer s.logMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return fmt.Errorf("create session log directory: %w", err)
	}
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

func appendBounded(msgs []Message, msg Message) []Message {
	msgs = append(msgs, msg)
	if len(msgs) > maxHistory {
		msgs = msgs[len(msgs)-maxHistory:]
	}
	return msgs
}
