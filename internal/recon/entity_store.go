package recon

import (
	"bytes"
	"math"
	"sort"
	"time"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// APSighting is one observation of an access point from a beacon or probe response
type APSighting struct {
	BSSID    dot11.MAC
	SSID     string
	Channel  int
	Signal   Signal
	Security dot11.Security
	Beacon   bool
	Seen     time.Time
}

// ClientSighting is one frame sent by a station
type ClientSighting struct {
	MAC    dot11.MAC
	BSSID  *dot11.MAC // set when the frame proves association
	Signal Signal
	Seen   time.Time
}

type apEntry struct {
	ap      models.AccessPoint
	signal  float64
	sampled bool
	clients map[dot11.MAC]struct{}
}

type clientEntry struct {
	client  models.Client
	signal  float64
	sampled bool
	probed  map[string]struct{}
}

// EntityStore aggregates access points, clients and probe sightings.
// It is owned by the control loop and is not safe for concurrent use.
type EntityStore struct {
	alpha      float64
	probeLimit int

	aps        map[dot11.MAC]*apEntry
	clients    map[dot11.MAC]*clientEntry
	probes     []models.ProbeSighting
	probeTotal int
}

// NewEntityStore creates a store; alpha weights new signal samples, probeLimit bounds the probe log
func NewEntityStore(alpha float64, probeLimit int) *EntityStore {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &EntityStore{
		alpha:      alpha,
		probeLimit: probeLimit,
		aps:        make(map[dot11.MAC]*apEntry),
		clients:    make(map[dot11.MAC]*clientEntry),
	}
}

// ObserveAccessPoint upserts an access point.
// A non-empty SSID fills the entry and clears hidden; an empty one never erases a known SSID.
func (s *EntityStore) ObserveAccessPoint(o APSighting) models.AccessPoint {
	e, ok := s.aps[o.BSSID]
	if !ok {
		e = &apEntry{
			ap: models.AccessPoint{
				BSSID:     o.BSSID,
				Hidden:    true,
				FirstSeen: o.Seen,
				LastSeen:  o.Seen,
			},
			clients: make(map[dot11.MAC]struct{}),
		}
		s.aps[o.BSSID] = e
		s.adoptClients(e)
	}

	if o.SSID != "" {
		e.ap.SSID = o.SSID
		e.ap.Hidden = false
	}
	if o.Channel > 0 {
		e.ap.Channel = o.Channel
	}
	if o.Security.Valid() {
		e.ap.Security = o.Security
	}
	if o.Beacon {
		e.ap.Beacons++
	}
	if o.Signal.Valid {
		e.signal, e.sampled = s.smooth(e.signal, e.sampled, o.Signal.DBM)
		e.ap.Signal = int(math.Round(e.signal))
	}
	if o.Seen.After(e.ap.LastSeen) {
		e.ap.LastSeen = o.Seen
	}

	return e.snapshot()
}

// RevealSSID fills the SSID of a known access point. It reports whether a hidden entry was revealed.
func (s *EntityStore) RevealSSID(bssid dot11.MAC, ssid string, seen time.Time) bool {
	e, ok := s.aps[bssid]
	if !ok || ssid == "" {
		return false
	}

	revealed := e.ap.Hidden
	e.ap.SSID = ssid
	e.ap.Hidden = false
	if seen.After(e.ap.LastSeen) {
		e.ap.LastSeen = seen
	}
	return revealed
}

// ObserveClient upserts a station and moves it between access point client sets
func (s *EntityStore) ObserveClient(o ClientSighting) {
	if !o.MAC.IsUnicast() {
		return
	}
	// an access point transmitting is not a client
	if _, isAP := s.aps[o.MAC]; isAP {
		return
	}

	e := s.client(o.MAC, o.Seen)
	e.client.Frames++

	if o.BSSID != nil && o.BSSID.IsUnicast() {
		prev := e.client.AssociatedBSSID
		if prev == nil || *prev != *o.BSSID {
			if prev != nil {
				if old, ok := s.aps[*prev]; ok {
					delete(old.clients, o.MAC)
				}
			}
			bssid := *o.BSSID
			e.client.AssociatedBSSID = &bssid
		}
		if ap, ok := s.aps[*o.BSSID]; ok {
			ap.clients[o.MAC] = struct{}{}
		}
	}

	if o.Signal.Valid {
		e.signal, e.sampled = s.smooth(e.signal, e.sampled, o.Signal.DBM)
		e.client.Signal = int(math.Round(e.signal))
	}
	if o.Seen.After(e.client.LastSeen) {
		e.client.LastSeen = o.Seen
	}
}

// ObserveProbe records a probe request. Wildcard probes only refresh the client.
// It reports whether the client probed this SSID for the first time.
func (s *EntityStore) ObserveProbe(ev ProbeRequest, seen time.Time) bool {
	s.ObserveClient(ClientSighting{MAC: ev.ClientMAC, Signal: ev.Signal, Seen: seen})

	e, ok := s.clients[ev.ClientMAC]
	if !ok || ev.SSID == "" {
		return false
	}

	s.probes = append(s.probes, models.ProbeSighting{
		ClientMAC: ev.ClientMAC,
		SSID:      ev.SSID,
		Signal:    ev.Signal.DBM,
		Timestamp: seen,
	})
	s.probeTotal++
	if s.probeLimit > 0 && len(s.probes) > s.probeLimit {
		drop := len(s.probes) - s.probeLimit
		s.probes = append(s.probes[:0:0], s.probes[drop:]...)
	}

	if _, dup := e.probed[ev.SSID]; dup {
		return false
	}
	e.probed[ev.SSID] = struct{}{}
	e.client.ProbedSSIDs = append(e.client.ProbedSSIDs, ev.SSID)
	return true
}

func (s *EntityStore) client(mac dot11.MAC, seen time.Time) *clientEntry {
	e, ok := s.clients[mac]
	if !ok {
		e = &clientEntry{
			client: models.Client{
				MAC:       mac,
				FirstSeen: seen,
				LastSeen:  seen,
			},
			probed: make(map[string]struct{}),
		}
		s.clients[mac] = e
	}
	return e
}

// adoptClients links clients that were seen associating before the AP itself was heard
func (s *EntityStore) adoptClients(e *apEntry) {
	for mac, c := range s.clients {
		if c.client.AssociatedBSSID != nil && *c.client.AssociatedBSSID == e.ap.BSSID {
			e.clients[mac] = struct{}{}
		}
	}
}

func (s *EntityStore) smooth(prev float64, sampled bool, sample int) (float64, bool) {
	if !sampled {
		return float64(sample), true
	}
	return s.alpha*float64(sample) + (1-s.alpha)*prev, true
}

// AccessPoint returns a copy of the access point
func (s *EntityStore) AccessPoint(bssid dot11.MAC) (models.AccessPoint, bool) {
	e, ok := s.aps[bssid]
	if !ok {
		return models.AccessPoint{}, false
	}
	return e.snapshot(), true
}

// Client returns a copy of the client
func (s *EntityStore) Client(mac dot11.MAC) (models.Client, bool) {
	e, ok := s.clients[mac]
	if !ok {
		return models.Client{}, false
	}
	return e.client.Clone(), true
}

// AccessPoints returns filtered, sorted copies
func (s *EntityStore) AccessPoints(q APQuery) []models.AccessPoint {
	out := make([]models.AccessPoint, 0, len(s.aps))
	for _, e := range s.aps {
		out = append(out, e.snapshot())
	}
	return q.Apply(out)
}

// Clients returns copies sorted by signal, strongest first
func (s *EntityStore) Clients() []models.Client {
	out := make([]models.Client, 0, len(s.clients))
	for _, e := range s.clients {
		out = append(out, e.client.Clone())
	}
	SortClients(out)
	return out
}

// Probes returns the newest limit sightings, oldest first; limit <= 0 returns the whole log
func (s *EntityStore) Probes(limit int) []models.ProbeSighting {
	start := 0
	if limit > 0 && len(s.probes) > limit {
		start = len(s.probes) - limit
	}
	return append([]models.ProbeSighting(nil), s.probes[start:]...)
}

// ProbeCount is the number of directed probes ever recorded
func (s *EntityStore) ProbeCount() int {
	return s.probeTotal
}

// Counts returns the number of access points and clients
func (s *EntityStore) Counts() (aps, clients int) {
	return len(s.aps), len(s.clients)
}

// RecentClient returns the most recently seen client of bssid
func (s *EntityStore) RecentClient(bssid dot11.MAC) (dot11.MAC, bool) {
	e, ok := s.aps[bssid]
	if !ok || len(e.clients) == 0 {
		return dot11.MAC{}, false
	}

	var best *clientEntry
	for mac := range e.clients {
		c, ok := s.clients[mac]
		if !ok {
			continue
		}
		if best == nil || c.client.LastSeen.After(best.client.LastSeen) {
			best = c
		}
	}
	if best == nil {
		return dot11.MAC{}, false
	}
	return best.client.MAC, true
}

func (e *apEntry) snapshot() models.AccessPoint {
	ap := e.ap
	ap.Clients = make([]dot11.MAC, 0, len(e.clients))
	for mac := range e.clients {
		ap.Clients = append(ap.Clients, mac)
	}
	sort.Slice(ap.Clients, func(i, j int) bool {
		return bytes.Compare(ap.Clients[i][:], ap.Clients[j][:]) < 0
	})
	return ap
}
