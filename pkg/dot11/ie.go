package dot11

import (
	"bytes"
	"encoding/binary"
)

// Information element IDs
const (
	IESSID       = 0
	IERates      = 1
	IEDSParamSet = 3
	IETIM        = 5
	IECountry    = 7
	IERSN        = 48
	IEVendor     = 221
)

// Capability information bits
const (
	CapabilityESS     = 0x0001
	CapabilityPrivacy = 0x0010
)

// AKM suite types under the IEEE OUI
const (
	AKMPSK       = 2
	AKMSAE       = 8
	AKMFTSAE     = 9
	AKMOWE       = 18
	AKMSAEExtKey = 24
)

// kdePMKID is the key data encapsulation type of a PMKID
const kdePMKID = 4

var (
	ouiIEEE      = []byte{0x00, 0x0f, 0xac}
	wpaVendorOUI = []byte{0x00, 0x50, 0xf2, 0x01}
)

// Security is the advertised protection of a network
type Security string

const (
	SecurityOpen Security = "OPEN"
	SecurityWEP  Security = "WEP"
	SecurityWPA  Security = "WPA"
	SecurityWPA2 Security = "WPA2"
	SecurityWPA3 Security = "WPA3"
)

// Valid reports whether s is one of the known values
func (s Security) Valid() bool {
	switch s {
	case SecurityOpen, SecurityWEP, SecurityWPA, SecurityWPA2, SecurityWPA3:
		return true
	}
	return false
}

// ClassifySecurity derives the protection level from capability and IE flags.
// OPEN is the default when no cipher element is present.
func ClassifySecurity(privacy, rsn, wpa, sae bool) Security {
	switch {
	case rsn && sae:
		return SecurityWPA3
	case rsn:
		return SecurityWPA2
	case wpa:
		return SecurityWPA
	case privacy:
		return SecurityWEP
	}
	return SecurityOpen
}

// rsnHasSAE walks the AKM suite list of an RSN element body
func rsnHasSAE(body []byte) bool {
	// version(2) group cipher(4)
	off := 6
	if len(body) < off+2 {
		return false
	}

	pairwise := int(binary.LittleEndian.Uint16(body[off:]))
	off += 2 + pairwise*4
	if len(body) < off+2 {
		return false
	}

	akms := int(binary.LittleEndian.Uint16(body[off:]))
	off += 2
	for i := 0; i < akms; i++ {
		if len(body) < off+4 {
			return false
		}
		suite := body[off : off+4]
		if bytes.Equal(suite[:3], ouiIEEE) {
			switch suite[3] {
			case AKMSAE, AKMFTSAE, AKMSAEExtKey:
				return true
			}
		}
		off += 4
	}
	return false
}

func isWPAVendorIE(body []byte) bool {
	return bytes.HasPrefix(body, wpaVendorOUI)
}

// allZero is true for empty or NUL-only bytes, which is how hidden SSIDs are advertised
func allZero(body []byte) bool {
	for _, b := range body {
		if b != 0 {
			return false
		}
	}
	return true
}
