package dot11

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func keyFromInfo(info uint16, data []byte) *EAPOLKey {
	return &EAPOLKey{
		Pairwise: info&0x0008 != 0,
		Install:  info&0x0040 != 0,
		ACK:      info&0x0080 != 0,
		MIC:      info&0x0100 != 0,
		Secure:   info&0x0200 != 0,
		KeyData:  data,
	}
}

func TestEAPOLKey_MessageNumber(t *testing.T) {
	tests := []struct {
		name string
		info uint16
		want uint8
	}{
		{"message 1", keyInfoM1, 1},
		{"message 2", keyInfoM2, 2},
		{"message 3", keyInfoM3, 3},
		{"message 4", keyInfoM4, 4},
		{"group key", 0x0382, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keyFromInfo(tt.info, nil).MessageNumber())
		})
	}

	var nilKey *EAPOLKey
	assert.Equal(t, uint8(0), nilKey.MessageNumber())
}

func TestEAPOLKey_PMKID(t *testing.T) {
	assert.True(t, keyFromInfo(keyInfoM1, pmkidKDE()).HasPMKID())
	assert.False(t, keyFromInfo(keyInfoM1, nil).HasPMKID())

	// only message 1 carries a usable PMKID
	assert.False(t, keyFromInfo(keyInfoM3, pmkidKDE()).HasPMKID())

	zero := []byte{0xdd, 0x14, 0x00, 0x0f, 0xac, 0x04}
	zero = append(zero, make([]byte, 16)...)
	assert.False(t, keyFromInfo(keyInfoM1, zero).HasPMKID(), "all-zero PMKID is not evidence")

	// PMKID after another KDE
	gtk := []byte{0xdd, 0x06, 0x00, 0x0f, 0xac, 0x01, 0x00, 0x00}
	assert.True(t, keyFromInfo(keyInfoM1, append(gtk, pmkidKDE()...)).HasPMKID())

	// truncated KDE
	assert.Nil(t, findPMKID([]byte{0xdd, 0x14, 0x00, 0x0f}))
}
