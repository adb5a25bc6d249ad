package dot11

import "bytes"

// EAPOLKey carries the 802.1X key-frame fields the tracker needs
type EAPOLKey struct {
	Pairwise      bool
	Install       bool
	ACK           bool
	MIC           bool
	Secure        bool
	ReplayCounter uint64
	KeyData       []byte
}

// MessageNumber identifies the 4-way handshake message from key-info flags.
// Zero means the frame is not part of a pairwise 4-way exchange.
func (k *EAPOLKey) MessageNumber() uint8 {
	if k == nil || !k.Pairwise {
		return 0
	}

	switch {
	case k.ACK && !k.MIC:
		return 1
	case !k.ACK && k.MIC && !k.Secure:
		return 2
	case k.ACK && k.MIC && (k.Install || k.Secure):
		return 3
	case !k.ACK && k.MIC && k.Secure:
		return 4
	}
	return 0
}

// PMKID returns the PMKID carried in the key data of message 1, if any
func (k *EAPOLKey) PMKID() []byte {
	if k == nil {
		return nil
	}
	return findPMKID(k.KeyData)
}

// HasPMKID reports a non-zero PMKID KDE in message 1
func (k *EAPOLKey) HasPMKID() bool {
	return k.MessageNumber() == 1 && k.PMKID() != nil
}

// findPMKID scans key data KDEs: dd len 00-0f-ac 04 <16 bytes>
func findPMKID(data []byte) []byte {
	for off := 0; off+2 <= len(data); {
		typ := data[off]
		length := int(data[off+1])
		body := data[off+2:]
		if length > len(body) {
			return nil
		}
		body = body[:length]

		if typ == IEVendor && length >= 20 && bytes.Equal(body[:3], ouiIEEE) && body[3] == kdePMKID {
			pmkid := body[4:20]
			if !allZero(pmkid) {
				out := make([]byte, len(pmkid))
				copy(out, pmkid)
				return out
			}
		}

		// a zero type with zero length is padding
		if typ == 0 && length == 0 {
			return nil
		}
		off += 2 + length
	}
	return nil
}
