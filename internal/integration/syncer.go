package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/storage"
)

// SnapshotSource publishes engine snapshots
type SnapshotSource interface {
	Snapshot() *models.Snapshot
}

// Syncer periodically upserts the access points and clients of the latest snapshot
type Syncer struct {
	store    storage.Store
	source   SnapshotSource
	interval time.Duration

	last time.Time
}

// NewSyncer creates a snapshot syncer
func NewSyncer(store storage.Store, source SnapshotSource, interval time.Duration) *Syncer {
	return &Syncer{store: store, source: source, interval: interval}
}

// Run syncs every interval and once more on shutdown
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 退出前最后同步一次
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.Sync(flushCtx); err != nil {
				log.Error().Err(err).Msg("Final snapshot sync failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Sync(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Snapshot sync failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("rows", n).Msg("Snapshot synced")
			}
		}
	}
}

// Sync writes entities seen since the previous sync in one transaction and returns the row count
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	snap := s.source.Snapshot()
	if snap == nil {
		return 0, nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sync: %w", err)
	}

	rows := 0
	newest := s.last
	for i := range snap.AccessPoints {
		ap := &snap.AccessPoints[i]
		if !ap.LastSeen.After(s.last) {
			continue
		}
		if err := tx.UpsertAccessPoint(ctx, ap); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sync access point %s: %w", ap.BSSID, err)
		}
		rows++
		if ap.LastSeen.After(newest) {
			newest = ap.LastSeen
		}
	}

	for i := range snap.Clients {
		c := &snap.Clients[i]
		if !c.LastSeen.After(s.last) {
			continue
		}
		if err := tx.UpsertClient(ctx, c); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sync client %s: %w", c.MAC, err)
		}
		rows++
		if c.LastSeen.After(newest) {
			newest = c.LastSeen
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sync: %w", err)
	}
	s.last = newest
	return rows, nil
}
