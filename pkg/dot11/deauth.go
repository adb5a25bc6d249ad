package dot11

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ReasonClass3FromNonAssoc is "class 3 frame received from nonassociated STA"
const ReasonClass3FromNonAssoc uint16 = 7

// minimal RadioTap header: version 0, length 8, no fields present
var radioTapHeader = []byte{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}

// BuildDeauth serializes a deauthentication frame from src to dst within bssid
func BuildDeauth(dst, src, bssid MAC, reason uint16, seq uint16) ([]byte, error) {
	hdr := &layers.Dot11{
		Type:           layers.Dot11TypeMgmtDeauthentication,
		Address1:       dst.HardwareAddr(),
		Address2:       src.HardwareAddr(),
		Address3:       bssid.HardwareAddr(),
		SequenceNumber: seq & 0x0fff,
	}
	body := &layers.Dot11MgmtDeauthentication{
		Reason: layers.Dot11Reason(reason),
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, hdr, body); err != nil {
		return nil, fmt.Errorf("serialize deauth: %w", err)
	}

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// WithRadioTap prefixes a bare 802.11 frame for injection on a RadioTap interface
func WithRadioTap(frame []byte) []byte {
	out := make([]byte, 0, len(radioTapHeader)+len(frame))
	out = append(out, radioTapHeader...)
	return append(out, frame...)
}
