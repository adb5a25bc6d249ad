package recon

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

type sessionKey struct {
	bssid  dot11.MAC
	client dot11.MAC
}

type session struct {
	models.HandshakeSession
	seen [5]bool
}

// HandshakeTracker follows EAPOL exchanges per (bssid, client) pair
type HandshakeTracker struct {
	inactivity time.Duration
	sessions   map[sessionKey]*session
	captures   []models.HandshakeSession
}

// NewHandshakeTracker creates a tracker; sessions idle for longer than inactivity are purged
func NewHandshakeTracker(inactivity time.Duration) *HandshakeTracker {
	return &HandshakeTracker{
		inactivity: inactivity,
		sessions:   make(map[sessionKey]*session),
	}
}

// Observe records one EAPOL message. The completed session is returned exactly once,
// on the message that makes it complete.
func (t *HandshakeTracker) Observe(ev Eapol, ssid string, at time.Time) (models.HandshakeSession, bool) {
	if ev.MessageNo < 1 || ev.MessageNo > 4 {
		return models.HandshakeSession{}, false
	}

	key := sessionKey{bssid: ev.BSSID, client: ev.ClientMAC}
	s, ok := t.sessions[key]
	if !ok {
		s = &session{HandshakeSession: models.HandshakeSession{
			ID:           uuid.New(),
			BSSID:        ev.BSSID,
			ClientMAC:    ev.ClientMAC,
			SSID:         ssid,
			StartedAt:    at,
			LastActivity: at,
		}}
		t.sessions[key] = s
	}
	if s.SSID == "" {
		s.SSID = ssid
	}

	// duplicates are retransmissions, not new evidence
	if s.seen[ev.MessageNo] {
		return models.HandshakeSession{}, false
	}
	s.seen[ev.MessageNo] = true
	s.Messages = append(s.Messages, ev.MessageNo)
	s.LastActivity = at

	if s.Complete {
		return models.HandshakeSession{}, false
	}

	switch {
	case ev.MessageNo == 1 && ev.PMKID:
		s.CaptureKind = models.CapturePMKID
	case (s.seen[1] || s.seen[2]) && (s.seen[3] || s.seen[4]):
		s.CaptureKind = models.CaptureHandshake
	default:
		return models.HandshakeSession{}, false
	}

	completed := at
	s.Complete = true
	s.CompletedAt = &completed

	done := s.Clone()
	t.captures = append(t.captures, done)
	return done.Clone(), true
}

// Sweep purges sessions idle for the inactivity window and returns the incomplete ones it abandoned.
// Completed sessions linger until then so retransmissions cannot complete them twice.
func (t *HandshakeTracker) Sweep(now time.Time) []models.HandshakeSession {
	var abandoned []models.HandshakeSession
	for key, s := range t.sessions {
		if now.Sub(s.LastActivity) < t.inactivity {
			continue
		}
		delete(t.sessions, key)
		if !s.Complete {
			abandoned = append(abandoned, s.Clone())
		}
	}
	sortSessions(abandoned)
	return abandoned
}

// AbandonTarget drops every incomplete session of bssid
func (t *HandshakeTracker) AbandonTarget(bssid dot11.MAC) []models.HandshakeSession {
	var abandoned []models.HandshakeSession
	for key, s := range t.sessions {
		if key.bssid != bssid || s.Complete {
			continue
		}
		delete(t.sessions, key)
		abandoned = append(abandoned, s.Clone())
	}
	sortSessions(abandoned)
	return abandoned
}

// Session returns a copy of the live session for the pair
func (t *HandshakeTracker) Session(bssid, client dot11.MAC) (models.HandshakeSession, bool) {
	s, ok := t.sessions[sessionKey{bssid: bssid, client: client}]
	if !ok {
		return models.HandshakeSession{}, false
	}
	return s.Clone(), true
}

// Active returns copies of the incomplete sessions, oldest first
func (t *HandshakeTracker) Active() []models.HandshakeSession {
	out := make([]models.HandshakeSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		if !s.Complete {
			out = append(out, s.Clone())
		}
	}
	sortSessions(out)
	return out
}

// Captures returns every completed session of the run in completion order
func (t *HandshakeTracker) Captures() []models.HandshakeSession {
	out := make([]models.HandshakeSession, len(t.captures))
	for i := range t.captures {
		out[i] = t.captures[i].Clone()
	}
	return out
}

// Captured reports whether bssid has a completed capture
func (t *HandshakeTracker) Captured(bssid dot11.MAC) bool {
	for _, c := range t.captures {
		if c.BSSID == bssid {
			return true
		}
	}
	return false
}

func sortSessions(sessions []models.HandshakeSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		if sessions[i].BSSID != sessions[j].BSSID {
			return bytes.Compare(sessions[i].BSSID[:], sessions[j].BSSID[:]) < 0
		}
		return bytes.Compare(sessions[i].ClientMAC[:], sessions[j].ClientMAC[:]) < 0
	})
}
