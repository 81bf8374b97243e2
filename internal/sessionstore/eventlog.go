// SPDX-License-Identifier: AGPL-3.0-only
package sessionstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// LogRecord is one line of a session's append-only event log. Exactly
// one of Message or State is set: a message record captures an
// appended chat message, a state record captures a lifecycle
// transition (e.g. session closed).
type LogRecord struct {
	Seq     int64              `json:"seq"`
	At      time.Time          `json:"at"`
	Message *chatmodel.Message `json:"message,omitempty"`
	State   string             `json:"state,omitempty"`
}

func (s *Store) eventLogPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "events.jsonl")
}

// appendLogRecord writes one record to the session's JSONL log.
// Callers must already hold the session's mutex. A record is a single
// write of a whole JSON line, so partial writes cannot split a
// record.
func (s *Store) appendLogRecord(sessionID string, rec LogRecord) error {
	f, err := os.OpenFile(s.eventLogPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	return nil
}

// readLogRecords reads the full event log for a session. Callers must
// already hold the session's mutex. A line that fails to parse is
// skipped and counted via ParseErrorCount rather than failing the
// whole read, per §4.7's read discipline.
func (s *Store) readLogRecords(sessionID string) ([]LogRecord, error) {
	f, err := os.Open(s.eventLogPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var records []LogRecord
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		var rec LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.parseErrors.Add(1)
			s.log.Warnf("failed to parse event log line for session %s: %v", sessionID, err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return records, nil
}
