// SPDX-License-Identifier: AGPL-3.0-only
package sessionstore

import (
	"context"
	"time"
)

// RunRetentionSweep runs once, deleting every session whose
// last_activity (as recorded in the SQL index) is older than ttl. It
// returns the number of sessions deleted. Safe to call with a nil
// index (returns 0, nil).
func (s *Store) RunRetentionSweep(ttl time.Duration) (int, error) {
	if s.index == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-ttl)
	expired, err := s.index.ListExpiredSessions(cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, meta := range expired {
		if err := s.Delete(meta.ID); err != nil {
			s.log.Warnf("retention sweep failed to delete session %s: %v", meta.ID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// StartRetentionLoop runs RunRetentionSweep on the given period until
// ctx is cancelled, logging (not panicking) on sweep errors. period is
// the "configurable" cadence named in §4.7.
func (s *Store) StartRetentionLoop(ctx context.Context, period, ttl time.Duration) {
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.RunRetentionSweep(ttl)
				if err != nil {
					s.log.Warnf("retention sweep failed: %v", err)
					continue
				}
				if deleted > 0 {
					s.log.Infof("retention sweep deleted %d expired sessions", deleted)
				}
			}
		}
	}()
}
