// SPDX-License-Identifier: AGPL-3.0-only
package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

func (s *Store) metadataPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "meta.json")
}

// readMetadataLocked reads the metadata document; callers must
// already hold the session's mutex.
func (s *Store) readMetadataLocked(sessionID string) (*chatmodel.Session, error) {
	data, err := os.ReadFile(s.metadataPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}
	var sess chatmodel.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session metadata: %w", err)
	}
	return &sess, nil
}

// writeMetadataLocked writes the metadata document atomically
// (temp file plus rename, mirroring how internal/config writes its
// defaults file); callers must already hold the session's mutex.
func (s *Store) writeMetadataLocked(sess *chatmodel.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	path := s.metadataPath(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session metadata: %w", err)
	}
	return nil
}
