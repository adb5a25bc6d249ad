package recon

import (
	"encoding/binary"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/momo-shadow/shadow-engine/internal/radio"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

var (
	apMAC      = dot11.MustParseMAC("aa:bb:cc:dd:ee:01")
	apMAC2     = dot11.MustParseMAC("aa:bb:cc:dd:ee:02")
	clientMAC  = dot11.MustParseMAC("11:22:33:44:55:66")
	clientMAC2 = dot11.MustParseMAC("11:22:33:44:55:77")
)

// key-info values for the four pairwise messages (HMAC-SHA1 AES, pairwise)
const (
	keyInfoM1 uint16 = 0x008a
	keyInfoM2 uint16 = 0x010a
	keyInfoM3 uint16 = 0x13ca
	keyInfoM4 uint16 = 0x030a
)

func hdr(fc0, fc1 byte, a1, a2, a3 dot11.MAC) []byte {
	b := []byte{fc0, fc1, 0x00, 0x00}
	b = append(b, a1[:]...)
	b = append(b, a2[:]...)
	b = append(b, a3[:]...)
	return append(b, 0x10, 0x00)
}

func ie(id byte, body []byte) []byte {
	return append([]byte{id, byte(len(body))}, body...)
}

func rsnIE() []byte {
	return ie(dot11.IERSN, []byte{
		0x01, 0x00,
		0x00, 0x0f, 0xac, 0x04,
		0x01, 0x00, 0x00, 0x0f, 0xac, 0x04,
		0x01, 0x00, 0x00, 0x0f, 0xac, dot11.AKMPSK,
		0x00, 0x00,
	})
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// beaconBytes builds a WPA2 beacon, or an open one when protected is false
func beaconBytes(bssid dot11.MAC, ssid string, channel int, protected bool) []byte {
	capability := uint16(dot11.CapabilityESS)
	if protected {
		capability |= dot11.CapabilityPrivacy
	}
	b := hdr(0x80, 0x00, dot11.BroadcastMAC, bssid, bssid)
	b = append(b, make([]byte, 8)...)
	b = append(b, 0x64, 0x00)
	b = append(b, le16(capability)...)
	b = append(b, ie(dot11.IESSID, []byte(ssid))...)
	b = append(b, ie(dot11.IEDSParamSet, []byte{byte(channel)})...)
	if protected {
		b = append(b, rsnIE()...)
	}
	return b
}

func probeRequestBytes(client dot11.MAC, ssid string) []byte {
	b := hdr(0x40, 0x00, dot11.BroadcastMAC, client, dot11.BroadcastMAC)
	return append(b, ie(dot11.IESSID, []byte(ssid))...)
}

func probeResponseBytes(bssid, client dot11.MAC, ssid string, channel int) []byte {
	b := hdr(0x50, 0x00, client, bssid, bssid)
	b = append(b, make([]byte, 8)...)
	b = append(b, 0x64, 0x00)
	b = append(b, le16(dot11.CapabilityESS|dot11.CapabilityPrivacy)...)
	b = append(b, ie(dot11.IESSID, []byte(ssid))...)
	b = append(b, ie(dot11.IEDSParamSet, []byte{byte(channel)})...)
	return append(b, rsnIE()...)
}

func assocRequestBytes(client, bssid dot11.MAC, ssid string) []byte {
	b := hdr(0x00, 0x00, bssid, client, bssid)
	b = append(b, le16(dot11.CapabilityESS|dot11.CapabilityPrivacy)...)
	b = append(b, 0x0a, 0x00)
	return append(b, ie(dot11.IESSID, []byte(ssid))...)
}

// eapolBytes builds message msg of a 4-way handshake in the direction the message travels
func eapolBytes(bssid, client dot11.MAC, msg int, pmkid bool) []byte {
	var (
		info uint16
		b    []byte
	)
	switch msg {
	case 1:
		info = keyInfoM1
	case 2:
		info = keyInfoM2
	case 3:
		info = keyInfoM3
	default:
		info = keyInfoM4
	}
	if msg == 1 || msg == 3 {
		b = hdr(0x08, 0x02, client, bssid, bssid)
	} else {
		b = hdr(0x08, 0x01, bssid, client, bssid)
	}
	b = append(b, 0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00, 0x88, 0x8e)

	var keyData []byte
	if pmkid {
		keyData = []byte{0xdd, 0x14, 0x00, 0x0f, 0xac, 0x04}
		for i := 0; i < 16; i++ {
			keyData = append(keyData, byte(0xa0+i))
		}
	}

	key := make([]byte, 95)
	key[0] = 0x02
	binary.BigEndian.PutUint16(key[1:3], info)
	binary.BigEndian.PutUint16(key[3:5], 16)
	binary.BigEndian.PutUint64(key[5:13], uint64(msg))
	binary.BigEndian.PutUint16(key[93:95], uint16(len(keyData)))
	key = append(key, keyData...)

	eapol := []byte{0x02, 0x03, 0x00, 0x00}
	binary.BigEndian.PutUint16(eapol[2:4], uint16(len(key)))
	b = append(b, eapol...)
	return append(b, key...)
}

func dataBytes(bssid, client dot11.MAC, fromClient bool) []byte {
	b := hdr(0x08, 0x02, client, bssid, bssid)
	if fromClient {
		b = hdr(0x08, 0x01, bssid, client, bssid)
	}
	return append(b, 0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00, 0x86, 0xdd, 0x60, 0x00)
}

func rawFrame(data []byte) radio.Frame {
	return radio.Frame{Data: data, LinkType: layers.LinkTypeIEEE802_11, Timestamp: time.Now()}
}

func mustParse(data []byte) *dot11.Frame {
	f, err := dot11.Parse(data, layers.LinkTypeIEEE802_11)
	if err != nil {
		panic(err)
	}
	return f
}
