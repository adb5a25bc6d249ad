package recon

import (
	"fmt"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// Event is the closed set of classified frame events
type Event interface {
	event()
}

// Signal is an optional RSSI reading in dBm
type Signal struct {
	DBM   int
	Valid bool
}

// Beacon advertises an access point
type Beacon struct {
	BSSID    dot11.MAC
	SSID     string
	Hidden   bool
	Channel  int
	Signal   Signal
	Security dot11.Security
}

// ProbeRequest is sent by a client looking for networks; an empty SSID is a wildcard probe
type ProbeRequest struct {
	ClientMAC dot11.MAC
	SSID      string
	Signal    Signal
}

// ProbeResponse answers a probe and always carries the real SSID
type ProbeResponse struct {
	BSSID     dot11.MAC
	ClientMAC dot11.MAC
	SSID      string
	Channel   int
	Signal    Signal
	Security  dot11.Security
}

// Association covers (re)association requests and responses
type Association struct {
	ClientMAC dot11.MAC
	BSSID     dot11.MAC
	SSID      string
	Signal    Signal
	Response  bool
}

// Deauth is an observed deauthentication or disassociation
type Deauth struct {
	Source         dot11.MAC
	Destination    dot11.MAC
	BSSID          dot11.MAC
	Reason         uint16
	Disassociation bool
}

// Eapol is one message of a pairwise key exchange
type Eapol struct {
	BSSID         dot11.MAC
	ClientMAC     dot11.MAC
	MessageNo     uint8
	PMKID         bool
	ReplayCounter uint64
	FromClient    bool
	Signal        Signal
}

// DataFrame is client traffic to or from an access point
type DataFrame struct {
	BSSID      dot11.MAC
	ClientMAC  dot11.MAC
	FromClient bool
	Signal     Signal
}

func (Beacon) event()        {}
func (ProbeRequest) event()  {}
func (ProbeResponse) event() {}
func (Association) event()   {}
func (Deauth) event()        {}
func (Eapol) event()         {}
func (DataFrame) event()     {}

// Classify maps a decoded frame onto an Event
func Classify(f *dot11.Frame) (Event, error) {
	if f == nil {
		return nil, ErrMalformedFrame
	}

	sig := Signal{DBM: f.Signal, Valid: f.HasSignal}

	switch f.Type {
	case dot11.FrameBeacon:
		bssid := f.Addr3
		if !bssid.IsUnicast() {
			bssid = f.Addr2
		}
		if !bssid.IsUnicast() {
			return nil, fmt.Errorf("%w: beacon bssid %s", ErrMalformedFrame, bssid)
		}
		return Beacon{
			BSSID:    bssid,
			SSID:     f.SSID,
			Hidden:   f.HiddenSSID(),
			Channel:  f.APChannel(),
			Signal:   sig,
			Security: f.Security(),
		}, nil

	case dot11.FrameProbeRequest:
		if !f.Addr2.IsUnicast() {
			return nil, fmt.Errorf("%w: probe source %s", ErrMalformedFrame, f.Addr2)
		}
		return ProbeRequest{ClientMAC: f.Addr2, SSID: f.SSID, Signal: sig}, nil

	case dot11.FrameProbeResponse:
		if !f.Addr3.IsUnicast() {
			return nil, fmt.Errorf("%w: probe response bssid %s", ErrMalformedFrame, f.Addr3)
		}
		return ProbeResponse{
			BSSID:     f.Addr3,
			ClientMAC: f.Addr1,
			SSID:      f.SSID,
			Channel:   f.APChannel(),
			Signal:    sig,
			Security:  f.Security(),
		}, nil

	case dot11.FrameAssociationRequest, dot11.FrameReassociationRequest:
		if !f.Addr2.IsUnicast() || !f.Addr3.IsUnicast() {
			return nil, fmt.Errorf("%w: association addresses", ErrMalformedFrame)
		}
		return Association{ClientMAC: f.Addr2, BSSID: f.Addr3, SSID: f.SSID, Signal: sig}, nil

	case dot11.FrameAssociationResponse:
		if !f.Addr1.IsUnicast() || !f.Addr2.IsUnicast() {
			return nil, fmt.Errorf("%w: association addresses", ErrMalformedFrame)
		}
		return Association{ClientMAC: f.Addr1, BSSID: f.Addr2, SSID: f.SSID, Response: true}, nil

	case dot11.FrameDeauthentication, dot11.FrameDisassociation:
		return Deauth{
			Source:         f.Addr2,
			Destination:    f.Addr1,
			BSSID:          f.Addr3,
			Reason:         f.Reason,
			Disassociation: f.Type == dot11.FrameDisassociation,
		}, nil

	case dot11.FrameData:
		return classifyData(f, sig)
	}

	return nil, ErrUnrecognizedFrame
}

func classifyData(f *dot11.Frame, sig Signal) (Event, error) {
	// WDS and IBSS traffic is not tied to a single AP/client pair
	if f.ToDS == f.FromDS && f.EAPOL == nil {
		return nil, ErrUnrecognizedFrame
	}

	bssid, station := f.BSSIDAndStation()
	if !bssid.IsUnicast() || !station.IsUnicast() {
		if f.EAPOL != nil {
			return nil, fmt.Errorf("%w: eapol addresses", ErrMalformedFrame)
		}
		return nil, ErrUnrecognizedFrame
	}

	fromClient := station == f.Addr2
	if f.EAPOL == nil {
		return DataFrame{BSSID: bssid, ClientMAC: station, FromClient: fromClient, Signal: sig}, nil
	}

	msg := f.EAPOL.MessageNumber()
	if msg == 0 {
		// group key handshake and non-pairwise descriptors
		return nil, ErrUnrecognizedFrame
	}

	return Eapol{
		BSSID:         bssid,
		ClientMAC:     station,
		MessageNo:     msg,
		PMKID:         msg == 1 && f.EAPOL.HasPMKID(),
		ReplayCounter: f.EAPOL.ReplayCounter,
		FromClient:    fromClient,
		Signal:        sig,
	}, nil
}
