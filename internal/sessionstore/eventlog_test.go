// SPDX-License-Identifier: AGPL-3.0-only
package sessionstore

import (
	"os"
	"testing"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

func TestReplayCountsUnparsableLinesWithoutFailing(t *testing.T) {
	s := newTestStore(t)
	sess := chatmodel.NewSession("user-1")
	if err := s.Create(sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.AppendMessage(sess.ID, chatmodel.NewMessage(chatmodel.RoleUser, "hi")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	f, err := os.OpenFile(s.eventLogPath(sess.ID), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log for corruption: %v", err)
	}
	f.WriteString("not valid json\n")
	f.Close()

	lock := s.sessionLock(sess.ID)
	lock.Lock()
	err = s.appendLogRecord(sess.ID, LogRecord{Seq: 2, Message: &chatmodel.Message{ID: "m2"}})
	lock.Unlock()
	if err != nil {
		t.Fatalf("append trailing record: %v", err)
	}

	records, err := s.Replay(sess.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 valid records surviving the corrupt line, got %d", len(records))
	}
	if s.ParseErrorCount() != 1 {
		t.Errorf("ParseErrorCount() = %d, want 1", s.ParseErrorCount())
	}
}
