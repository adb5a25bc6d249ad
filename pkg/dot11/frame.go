package dot11

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Parse errors
var (
	ErrTruncated       = errors.New("truncated frame")
	ErrMalformed       = errors.New("malformed frame")
	ErrUnsupportedLink = errors.New("unsupported link type")
)

// FrameType is the subset of 802.11 frame kinds the engine looks at
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameBeacon
	FrameProbeRequest
	FrameProbeResponse
	FrameAssociationRequest
	FrameReassociationRequest
	FrameAssociationResponse
	FrameDeauthentication
	FrameDisassociation
	FrameData
	FrameControl
)

var frameTypeNames = map[FrameType]string{
	FrameUnknown:              "unknown",
	FrameBeacon:               "beacon",
	FrameProbeRequest:         "probe_request",
	FrameProbeResponse:        "probe_response",
	FrameAssociationRequest:   "association_request",
	FrameReassociationRequest: "reassociation_request",
	FrameAssociationResponse:  "association_response",
	FrameDeauthentication:     "deauthentication",
	FrameDisassociation:       "disassociation",
	FrameData:                 "data",
	FrameControl:              "control",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

// Frame holds the layer-2 fields of one captured frame
type Frame struct {
	Type FrameType

	Addr1 MAC
	Addr2 MAC
	Addr3 MAC

	ToDS      bool
	FromDS    bool
	Protected bool

	// RadioTap metadata
	Signal    int
	HasSignal bool
	Channel   int

	// Management body
	Capability uint16
	SSID       string
	HasSSID    bool
	DSChannel  int
	HasRSN     bool
	HasWPA     bool
	SAE        bool
	Reason     uint16

	EAPOL *EAPOLKey
}

// Privacy reports the capability privacy bit
func (f *Frame) Privacy() bool {
	return f.Capability&CapabilityPrivacy != 0
}

// Security classifies the advertised protection of a beacon or probe response
func (f *Frame) Security() Security {
	return ClassifySecurity(f.Privacy(), f.HasRSN, f.HasWPA, f.SAE)
}

// HiddenSSID is true when the SSID element is missing, empty or NUL-padded
func (f *Frame) HiddenSSID() bool {
	return !f.HasSSID || f.SSID == ""
}

// APChannel prefers the DS parameter set over the tuned channel
func (f *Frame) APChannel() int {
	if f.DSChannel > 0 {
		return f.DSChannel
	}
	return f.Channel
}

// BSSIDAndStation resolves the AP and station addresses from the DS bits
func (f *Frame) BSSIDAndStation() (bssid, station MAC) {
	switch {
	case f.FromDS && !f.ToDS:
		return f.Addr2, f.Addr1
	case f.ToDS && !f.FromDS:
		return f.Addr1, f.Addr2
	}

	bssid = f.Addr3
	if f.Addr2 != bssid {
		return bssid, f.Addr2
	}
	return bssid, f.Addr1
}

// Parse decodes a captured frame. RadioTap and bare 802.11 link types are supported.
func Parse(data []byte, link layers.LinkType) (*Frame, error) {
	f := &Frame{}
	payload := data
	hasFCS := false

	switch link {
	case layers.LinkTypeIEEE80211Radio:
		var rt layers.RadioTap
		if err := rt.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: radiotap: %v", ErrMalformed, err)
		}
		if int(rt.Length) > len(data) {
			return nil, fmt.Errorf("%w: radiotap length %d", ErrTruncated, rt.Length)
		}
		if rt.Present.DBMAntennaSignal() {
			f.Signal = int(rt.DBMAntennaSignal)
			f.HasSignal = true
		}
		if rt.Present.Channel() {
			f.Channel = ChannelFromFrequency(int(rt.ChannelFrequency))
		}
		hasFCS = rt.Present.Flags() && rt.Flags.FCS()
		payload = data[rt.Length:]
	case layers.LinkTypeIEEE802_11:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLink, link)
	}

	if len(payload) < 10 {
		return nil, ErrTruncated
	}

	// the Dot11 decoder always strips a trailing FCS
	if !hasFCS {
		buf := make([]byte, len(payload), len(payload)+4)
		copy(buf, payload)
		payload = append(buf, 0, 0, 0, 0)
	}

	pkt := gopacket.NewPacket(payload, layers.LayerTypeDot11, gopacket.DecodeOptions{NoCopy: true})
	d11, ok := pkt.Layer(layers.LayerTypeDot11).(*layers.Dot11)
	if !ok {
		if el := pkt.ErrorLayer(); el != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, el.Error())
		}
		return nil, ErrMalformed
	}

	f.Addr1, _ = FromHardwareAddr(d11.Address1)
	f.Addr2, _ = FromHardwareAddr(d11.Address2)
	f.Addr3, _ = FromHardwareAddr(d11.Address3)
	f.ToDS = d11.Flags.ToDS()
	f.FromDS = d11.Flags.FromDS()
	f.Protected = d11.Flags.WEP()
	f.Type = frameType(d11.Type)

	switch f.Type {
	case FrameBeacon:
		if l, ok := pkt.Layer(layers.LayerTypeDot11MgmtBeacon).(*layers.Dot11MgmtBeacon); ok {
			f.Capability = l.Flags
		}
	case FrameProbeResponse:
		if l, ok := pkt.Layer(layers.LayerTypeDot11MgmtProbeResp).(*layers.Dot11MgmtProbeResp); ok {
			f.Capability = l.Flags
		}
	case FrameAssociationRequest:
		if l, ok := pkt.Layer(layers.LayerTypeDot11MgmtAssociationReq).(*layers.Dot11MgmtAssociationReq); ok {
			f.Capability = l.CapabilityInfo
		}
	case FrameReassociationRequest:
		if l, ok := pkt.Layer(layers.LayerTypeDot11MgmtReassociationReq).(*layers.Dot11MgmtReassociationReq); ok {
			f.Capability = l.CapabilityInfo
		}
	case FrameDeauthentication:
		l, ok := pkt.Layer(layers.LayerTypeDot11MgmtDeauthentication).(*layers.Dot11MgmtDeauthentication)
		if !ok {
			return nil, fmt.Errorf("%w: deauthentication body", ErrTruncated)
		}
		f.Reason = uint16(l.Reason)
	case FrameDisassociation:
		if l, ok := pkt.Layer(layers.LayerTypeDot11MgmtDisassociation).(*layers.Dot11MgmtDisassociation); ok {
			f.Reason = uint16(l.Reason)
		}
	case FrameData:
		if l, ok := pkt.Layer(layers.LayerTypeEAPOLKey).(*layers.EAPOLKey); ok {
			f.EAPOL = &EAPOLKey{
				Pairwise:      l.KeyType == layers.EAPOLKeyTypePairwise,
				Install:       l.Install,
				ACK:           l.KeyACK,
				MIC:           l.KeyMIC,
				Secure:        l.Secure,
				ReplayCounter: l.ReplayCounter,
				KeyData:       append([]byte(nil), l.EncryptedKeyData...),
			}
		}
	}

	if isManagement(f.Type) {
		f.readElements(pkt)
	}

	return f, nil
}

// readElements walks the tagged parameters of a management body
func (f *Frame) readElements(pkt gopacket.Packet) {
	for _, l := range pkt.Layers() {
		ie, ok := l.(*layers.Dot11InformationElement)
		if !ok || len(ie.Contents) < 2 {
			continue
		}
		body := ie.Contents[2:]

		switch ie.ID {
		case IESSID:
			// the first SSID element wins
			if f.HasSSID {
				continue
			}
			f.HasSSID = true
			if !allZero(body) {
				f.SSID = strings.ToValidUTF8(string(body), "?")
			}
		case IEDSParamSet:
			if len(body) >= 1 {
				f.DSChannel = int(body[0])
			}
		case IERSN:
			f.HasRSN = true
			if rsnHasSAE(body) {
				f.SAE = true
			}
		case IEVendor:
			if isWPAVendorIE(body) {
				f.HasWPA = true
			}
		}
	}
}

func isManagement(t FrameType) bool {
	switch t {
	case FrameBeacon, FrameProbeRequest, FrameProbeResponse,
		FrameAssociationRequest, FrameReassociationRequest, FrameAssociationResponse:
		return true
	}
	return false
}

func frameType(t layers.Dot11Type) FrameType {
	switch t {
	case layers.Dot11TypeMgmtBeacon:
		return FrameBeacon
	case layers.Dot11TypeMgmtProbeReq:
		return FrameProbeRequest
	case layers.Dot11TypeMgmtProbeResp:
		return FrameProbeResponse
	case layers.Dot11TypeMgmtAssociationReq:
		return FrameAssociationRequest
	case layers.Dot11TypeMgmtReassociationReq:
		return FrameReassociationRequest
	case layers.Dot11TypeMgmtAssociationResp, layers.Dot11TypeMgmtReassociationResp:
		return FrameAssociationResponse
	case layers.Dot11TypeMgmtDeauthentication:
		return FrameDeauthentication
	case layers.Dot11TypeMgmtDisassociation:
		return FrameDisassociation
	}

	switch t.MainType() {
	case layers.Dot11TypeData:
		return FrameData
	case layers.Dot11TypeCtrl:
		return FrameControl
	}
	return FrameUnknown
}
