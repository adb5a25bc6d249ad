package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	BSSID     *dot11.MAC `json:"bssid,omitempty" db:"bssid"`
	ClientMAC *dot11.MAC `json:"clientMac,omitempty" db:"client_mac"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Capture events
	EventTypeHandshake EventType = "HANDSHAKE"
	EventTypePMKID     EventType = "PMKID"
	EventTypeDeauth    EventType = "DEAUTH"

	// Controller events
	EventTypeStateChange EventType = "STATE_CHANGE"
	EventTypeCommand     EventType = "COMMAND"
	EventTypeWarning     EventType = "WARNING"
	EventTypeError       EventType = "ERROR"

	// System events
	EventTypeAPICall     EventType = "API_CALL"
	EventTypeIntegration EventType = "INTEGRATION"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
	EventLevelFatal   EventLevel = "FATAL"
)
