package indengine

import (
	"context"
	"time"
)

// snapshotLoop checkpoints the engine on the configured interval.
func (s *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.SnapshotIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.saveSnapshot(ctx)
		}
	}
}

// saveSnapshot writes the engine state to every snapshot store. A
// failed store is logged and skipped; losing a snapshot only costs a
// longer replay after the next restart.
func (s *Service) saveSnapshot(ctx context.Context) {
	s.mu.Lock()
	ids := make(map[string]string, len(s.streamIDs))
	for k, v := range s.streamIDs {
		ids[k] = v
	}
	s.mu.Unlock()

	snap := s.engine.Snapshot(ids)
	data, err := snap.Marshal()
	if err != nil {
		s.log.Error("snapshot encode failed", "err", err)
		return
	}

	saved := 0
	for _, store := range s.stores {
		saveCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := store.SaveSnapshotJSON(saveCtx, data); err != nil {
			s.log.Warn("snapshot save failed", "err", err)
		} else {
			saved++
		}
		cancel()
	}
	if saved > 0 {
		s.m.SnapshotSaves.Inc()
		s.log.Debug("checkpoint saved", "pairs", len(snap.Buffers), "stores", saved)
	}
}
