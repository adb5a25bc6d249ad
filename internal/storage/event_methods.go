package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/internal/models"
)

// CreateEventLog creates an event log entry
func (s *SQLStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (
            id, created_at, bssid, client_mac, type, level, code, description, details
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		event.ID.String(), event.CreatedAt.UTC(), event.BSSID, event.ClientMAC,
		string(event.Type), string(event.Level), event.Code, event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists event logs with filters
func (s *SQLStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM event_logs WHERE 1=1"
	args := []interface{}{}

	if filters.BSSID != nil {
		query += " AND bssid = ?"
		args = append(args, *filters.BSSID)
	}

	if filters.ClientMAC != nil {
		query += " AND client_mac = ?"
		args = append(args, *filters.ClientMAC)
	}

	if filters.Type != nil {
		query += " AND type = ?"
		args = append(args, string(*filters.Type))
	}

	if filters.Level != nil {
		query += " AND level = ?"
		args = append(args, string(*filters.Level))
	}

	if filters.StartTime != nil {
		query += " AND created_at >= ?"
		args = append(args, filters.StartTime.UTC())
	}

	if filters.EndTime != nil {
		query += " AND created_at <= ?"
		args = append(args, filters.EndTime.UTC())
	}

	// Get count
	var count int64
	err := s.queryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, bssid, client_mac, type, level, code, description, details", 1)
	selectQuery += " ORDER BY created_at DESC" + limitClause(limit, offset)
	args = append(args, limitArgs(limit, offset)...)

	rows, err := s.query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		var id, eventType, level string

		err := rows.Scan(
			&id, &event.CreatedAt, &event.BSSID, &event.ClientMAC,
			&eventType, &level, &event.Code, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}

		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, ErrInvalidData
		}
		event.Type = models.EventType(eventType)
		event.Level = models.EventLevel(level)

		events = append(events, event)
	}

	return events, count, rows.Err()
}
