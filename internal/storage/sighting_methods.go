package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// ========== Access Point Methods ==========

// UpsertAccessPoint inserts or refreshes an access point.
// A stored SSID is never replaced by an empty one.
func (s *SQLStore) UpsertAccessPoint(ctx context.Context, ap *models.AccessPoint) error {
	if !ap.BSSID.IsUnicast() {
		return ErrInvalidData
	}

	query := `
        INSERT INTO access_points (
            bssid, ssid, channel, signal_dbm, security, hidden, beacons, first_seen, last_seen
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (bssid) DO UPDATE SET
            ssid = CASE WHEN excluded.ssid <> '' THEN excluded.ssid ELSE access_points.ssid END,
            channel = excluded.channel,
            signal_dbm = excluded.signal_dbm,
            security = excluded.security,
            hidden = excluded.hidden,
            beacons = excluded.beacons,
            last_seen = excluded.last_seen`

	_, err := s.exec(ctx, query,
		ap.BSSID, ap.SSID, ap.Channel, ap.Signal, string(ap.Security), ap.Hidden,
		ap.Beacons, ap.FirstSeen.UTC(), ap.LastSeen.UTC(),
	)
	return err
}

// GetAccessPoint gets an access point by BSSID
func (s *SQLStore) GetAccessPoint(ctx context.Context, bssid dot11.MAC) (*models.AccessPoint, error) {
	query := `
        SELECT bssid, ssid, channel, signal_dbm, security, hidden, beacons, first_seen, last_seen
        FROM access_points WHERE bssid = ?`

	ap, err := scanAccessPoint(s.queryRow(ctx, query, bssid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	clients, _, err := s.ListClients(ctx, &bssid, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		ap.Clients = append(ap.Clients, c.MAC)
	}
	return ap, nil
}

// ListAccessPoints lists access points, strongest first
func (s *SQLStore) ListAccessPoints(ctx context.Context, limit, offset int) ([]*models.AccessPoint, int64, error) {
	var count int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM access_points").Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT bssid, ssid, channel, signal_dbm, security, hidden, beacons, first_seen, last_seen
        FROM access_points
        ORDER BY signal_dbm DESC, bssid` + limitClause(limit, offset)

	rows, err := s.query(ctx, query, limitArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var aps []*models.AccessPoint
	for rows.Next() {
		ap, err := scanAccessPoint(rows)
		if err != nil {
			return nil, 0, err
		}
		aps = append(aps, ap)
	}
	return aps, count, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccessPoint(row scanner) (*models.AccessPoint, error) {
	ap := &models.AccessPoint{}
	var security string
	err := row.Scan(
		&ap.BSSID, &ap.SSID, &ap.Channel, &ap.Signal, &security, &ap.Hidden,
		&ap.Beacons, &ap.FirstSeen, &ap.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	ap.Security = dot11.Security(security)
	return ap, nil
}

// ========== Client Methods ==========

// UpsertClient inserts or refreshes a client
func (s *SQLStore) UpsertClient(ctx context.Context, c *models.Client) error {
	if !c.MAC.IsUnicast() {
		return ErrInvalidData
	}

	query := `
        INSERT INTO clients (
            mac, associated_bssid, probed_ssids, signal_dbm, frames, first_seen, last_seen
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (mac) DO UPDATE SET
            associated_bssid = COALESCE(excluded.associated_bssid, clients.associated_bssid),
            probed_ssids = excluded.probed_ssids,
            signal_dbm = excluded.signal_dbm,
            frames = excluded.frames,
            last_seen = excluded.last_seen`

	_, err := s.exec(ctx, query,
		c.MAC, c.AssociatedBSSID, strings.Join(c.ProbedSSIDs, "\n"), c.Signal,
		c.Frames, c.FirstSeen.UTC(), c.LastSeen.UTC(),
	)
	return err
}

// GetClient gets a client by MAC
func (s *SQLStore) GetClient(ctx context.Context, mac dot11.MAC) (*models.Client, error) {
	query := `
        SELECT mac, associated_bssid, probed_ssids, signal_dbm, frames, first_seen, last_seen
        FROM clients WHERE mac = ?`

	c, err := scanClient(s.queryRow(ctx, query, mac))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListClients lists clients, optionally only those associated with bssid
func (s *SQLStore) ListClients(ctx context.Context, bssid *dot11.MAC, limit, offset int) ([]*models.Client, int64, error) {
	where := ""
	var args []interface{}
	if bssid != nil {
		where = " WHERE associated_bssid = ?"
		args = append(args, *bssid)
	}

	var count int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM clients"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT mac, associated_bssid, probed_ssids, signal_dbm, frames, first_seen, last_seen
        FROM clients` + where + `
        ORDER BY last_seen DESC, mac` + limitClause(limit, offset)

	rows, err := s.query(ctx, query, append(args, limitArgs(limit, offset)...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		clients = append(clients, c)
	}
	return clients, count, rows.Err()
}

func scanClient(row scanner) (*models.Client, error) {
	c := &models.Client{}
	var probed string
	err := row.Scan(
		&c.MAC, &c.AssociatedBSSID, &probed, &c.Signal, &c.Frames, &c.FirstSeen, &c.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	if probed != "" {
		c.ProbedSSIDs = strings.Split(probed, "\n")
	}
	return c, nil
}

// ========== Probe Methods ==========

// CreateProbe appends a probe sighting
func (s *SQLStore) CreateProbe(ctx context.Context, p *models.ProbeSighting) error {
	if p.SSID == "" || !p.ClientMAC.IsUnicast() {
		return ErrInvalidData
	}

	_, err := s.exec(ctx,
		"INSERT INTO probes (client_mac, ssid, signal_dbm, seen_at) VALUES (?, ?, ?, ?)",
		p.ClientMAC, p.SSID, p.Signal, p.Timestamp.UTC(),
	)
	return err
}

// ListProbes returns the newest probe sightings, newest first
func (s *SQLStore) ListProbes(ctx context.Context, client *dot11.MAC, limit int) ([]*models.ProbeSighting, error) {
	query := "SELECT client_mac, ssid, signal_dbm, seen_at FROM probes"
	var args []interface{}
	if client != nil {
		query += " WHERE client_mac = ?"
		args = append(args, *client)
	}
	query += " ORDER BY seen_at DESC" + limitClause(limit, 0)

	rows, err := s.query(ctx, query, append(args, limitArgs(limit, 0)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var probes []*models.ProbeSighting
	for rows.Next() {
		p := &models.ProbeSighting{}
		if err := rows.Scan(&p.ClientMAC, &p.SSID, &p.Signal, &p.Timestamp); err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, rows.Err()
}

// limitClause pages a query; limit <= 0 returns every row
func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT ? OFFSET ?"
}

func limitArgs(limit, offset int) []interface{} {
	if limit <= 0 {
		return nil
	}
	return []interface{}{limit, offset}
}
