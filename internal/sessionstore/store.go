// SPDX-License-Identifier: AGPL-3.0-only

// Package sessionstore persists chat sessions to disk: one JSON
// metadata document plus one append-only JSONL event log per session
// id, with a SQLite-backed secondary index for fast by-user and
// retention queries. Grounded on ebrakke-gopherclaw's
// internal/state/session.go (JSON document, atomic write) and
// internal/state/event.go (per-session mutex over an append-only
// JSONL log), generalized to also mirror into internal/store's SQL
// index the way the teacher's task/result persistence does.
package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/store"
)

// SQLIndex is the subset of internal/store.SQLiteStore that the
// session store needs, kept narrow so tests can fake it.
type SQLIndex interface {
	UpsertSessionMeta(sess *chatmodel.Session) error
	DeleteSessionMeta(sessionID string) error
	ListSessionsByUser(userID string) ([]store.SessionMeta, error)
	ListExpiredSessions(cutoff time.Time) ([]store.SessionMeta, error)
}

// Store is the on-disk session store described in §4.7: two file
// classes per session id under root/<id>/ (meta.json and
// events.jsonl), an in-memory per-session mutex registry so writes to
// different sessions never block each other, a bounded LRU cache of
// recently-touched sessions, and a SQL index kept in sync on every
// write.
type Store struct {
	root string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cache *lruCache

	index SQLIndex
	log   *logging.Logger

	parseErrors atomic.Int64
}

// New creates a Store rooted at root, caching up to cacheCap sessions
// in memory. index may be nil, in which case the SQL mirror is
// skipped (used by tests that only exercise the file layer).
func New(root string, cacheCap int, index SQLIndex) *Store {
	if cacheCap <= 0 {
		cacheCap = 256
	}
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
		cache: newLRUCache(cacheCap),
		index: index,
		log:   logging.GetDefaultLogger().WithField("component", "sessionstore"),
	}
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, "sessions", sessionID)
}

// ParseErrorCount reports how many log lines have failed to parse
// since the store was created, per §4.7's read-discipline requirement
// that parse failures be counted rather than silently dropped or
// turned into request failures.
func (s *Store) ParseErrorCount() int64 {
	return s.parseErrors.Load()
}

// Create persists a brand-new session's metadata document, starts its
// event log, and mirrors it into the SQL index.
func (s *Store) Create(sess *chatmodel.Session) error {
	lock := s.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.sessionDir(sess.ID), 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := s.writeMetadataLocked(sess); err != nil {
		return err
	}
	s.cache.put(sess.ID, sess)
	if s.index != nil {
		if err := s.index.UpsertSessionMeta(sess); err != nil {
			s.log.Warnf("failed to index new session %s: %v", sess.ID, err)
		}
	}
	return nil
}

// Get loads a session by id, preferring the in-memory cache and
// falling back to the metadata document on disk (§4.7's read
// discipline: the log is replayed only on request, not on every
// load).
func (s *Store) Get(sessionID string) (*chatmodel.Session, error) {
	if sess, ok := s.cache.get(sessionID); ok {
		return sess, nil
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.readMetadataLocked(sessionID)
	if err != nil {
		return nil, err
	}
	s.cache.put(sessionID, sess)
	return sess, nil
}

// AppendMessage records a new message on the session: it appends the
// message to the JSONL event log, updates and rewrites the metadata
// document, refreshes the cache entry, and mirrors LastActivity into
// the SQL index. All of this happens under the session's own mutex,
// so concurrent writers to other sessions are never blocked.
func (s *Store) AppendMessage(sessionID string, msg chatmodel.Message) (*chatmodel.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.readMetadataLocked(sessionID)
	if err != nil {
		return nil, err
	}

	sess.Append(msg)

	if err := s.appendLogRecord(sessionID, LogRecord{
		Seq:     int64(len(sess.Messages)),
		At:      sess.LastActivity,
		Message: &msg,
	}); err != nil {
		return nil, err
	}
	if err := s.writeMetadataLocked(sess); err != nil {
		return nil, err
	}

	s.cache.put(sessionID, sess)
	if s.index != nil {
		if err := s.index.UpsertSessionMeta(sess); err != nil {
			s.log.Warnf("failed to index session %s after append: %v", sessionID, err)
		}
	}
	return sess, nil
}

// Close marks a session closed, persists the state change, and
// records it in the log as a state-change record rather than a
// message.
func (s *Store) Close(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.readMetadataLocked(sessionID)
	if err != nil {
		return err
	}
	sess.State = chatmodel.SessionClosed
	sess.LastActivity = time.Now()

	if err := s.appendLogRecord(sessionID, LogRecord{
		Seq:   int64(len(sess.Messages)) + 1,
		At:    sess.LastActivity,
		State: string(sess.State),
	}); err != nil {
		return err
	}
	if err := s.writeMetadataLocked(sess); err != nil {
		return err
	}

	s.cache.put(sessionID, sess)
	if s.index != nil {
		if err := s.index.UpsertSessionMeta(sess); err != nil {
			s.log.Warnf("failed to index session %s after close: %v", sessionID, err)
		}
	}
	return nil
}

// Delete removes a session's on-disk files, cache entry, and SQL
// index row. Used both by explicit deletion and by the retention
// sweep.
func (s *Store) Delete(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	s.cache.remove(sessionID)
	if s.index != nil {
		if err := s.index.DeleteSessionMeta(sessionID); err != nil {
			s.log.Warnf("failed to remove session %s from index: %v", sessionID, err)
		}
	}
	return nil
}

// Replay reads the full event log for a session, applying
// ParseErrorCount() bookkeeping to any line that fails to parse
// instead of failing the call.
func (s *Store) Replay(sessionID string) ([]LogRecord, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.readLogRecords(sessionID)
}
