package storage

import (
	"context"
	"errors"
	"time"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Migrate creates the schema if it does not exist
	Migrate(ctx context.Context) error

	// Access point methods
	UpsertAccessPoint(ctx context.Context, ap *models.AccessPoint) error
	GetAccessPoint(ctx context.Context, bssid dot11.MAC) (*models.AccessPoint, error)
	ListAccessPoints(ctx context.Context, limit, offset int) ([]*models.AccessPoint, int64, error)

	// Client methods
	UpsertClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, mac dot11.MAC) (*models.Client, error)
	ListClients(ctx context.Context, bssid *dot11.MAC, limit, offset int) ([]*models.Client, int64, error)

	// Probe methods
	CreateProbe(ctx context.Context, probe *models.ProbeSighting) error
	ListProbes(ctx context.Context, client *dot11.MAC, limit int) ([]*models.ProbeSighting, error)

	// Handshake methods
	SaveHandshake(ctx context.Context, session *models.HandshakeSession) error
	ListHandshakes(ctx context.Context, bssid *dot11.MAC, limit, offset int) ([]*models.HandshakeSession, int64, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	BSSID     *dot11.MAC
	ClientMAC *dot11.MAC
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
