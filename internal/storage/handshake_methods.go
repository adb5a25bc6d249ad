package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// SaveHandshake stores a completed capture. One row is kept per (bssid, client, kind);
// a later capture of the same pair refreshes it.
func (s *SQLStore) SaveHandshake(ctx context.Context, h *models.HandshakeSession) error {
	if !h.Complete || h.CaptureKind == "" {
		return ErrInvalidData
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}

	var completedAt *time.Time
	if h.CompletedAt != nil {
		t := h.CompletedAt.UTC()
		completedAt = &t
	}

	query := `
        INSERT INTO handshakes (
            id, bssid, client_mac, ssid, capture_kind, messages,
            started_at, last_activity, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (bssid, client_mac, capture_kind) DO UPDATE SET
            ssid = CASE WHEN excluded.ssid <> '' THEN excluded.ssid ELSE handshakes.ssid END,
            messages = excluded.messages,
            last_activity = excluded.last_activity,
            completed_at = excluded.completed_at`

	_, err := s.exec(ctx, query,
		h.ID.String(), h.BSSID, h.ClientMAC, h.SSID, string(h.CaptureKind),
		encodeMessages(h.Messages), h.StartedAt.UTC(), h.LastActivity.UTC(), completedAt,
	)
	return err
}

// ListHandshakes lists captures, newest first
func (s *SQLStore) ListHandshakes(ctx context.Context, bssid *dot11.MAC, limit, offset int) ([]*models.HandshakeSession, int64, error) {
	where := ""
	var args []interface{}
	if bssid != nil {
		where = " WHERE bssid = ?"
		args = append(args, *bssid)
	}

	var count int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM handshakes"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, bssid, client_mac, ssid, capture_kind, messages,
               started_at, last_activity, completed_at
        FROM handshakes` + where + `
        ORDER BY completed_at DESC` + limitClause(limit, offset)

	rows, err := s.query(ctx, query, append(args, limitArgs(limit, offset)...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*models.HandshakeSession
	for rows.Next() {
		h := &models.HandshakeSession{Complete: true}
		var id, kind, messages string
		err := rows.Scan(
			&id, &h.BSSID, &h.ClientMAC, &h.SSID, &kind, &messages,
			&h.StartedAt, &h.LastActivity, &h.CompletedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		if h.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, ErrInvalidData
		}
		h.CaptureKind = models.CaptureKind(kind)
		h.Messages = decodeMessages(messages)
		sessions = append(sessions, h)
	}
	return sessions, count, rows.Err()
}

func encodeMessages(msgs []uint8) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = strconv.Itoa(int(m))
	}
	return strings.Join(parts, ",")
}

func decodeMessages(s string) []uint8 {
	if s == "" {
		return nil
	}
	var out []uint8
	for _, p := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 4 {
			out = append(out, uint8(n))
		}
	}
	return out
}
