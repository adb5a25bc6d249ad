package dot11

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
)

// MAC represents a 48-bit IEEE 802 hardware address
type MAC [6]byte

// BroadcastMAC is the all-stations address
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses colon, dash, dot or bare hex notation
func ParseMAC(s string) (MAC, error) {
	var m MAC
	s = strings.TrimSpace(s)

	if len(s) == 12 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return m, fmt.Errorf("invalid MAC %q: %w", s, err)
		}
		copy(m[:], b)
		return m, nil
	}

	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, fmt.Errorf("invalid MAC %q: %w", s, err)
	}
	if len(hw) != 6 {
		return m, fmt.Errorf("invalid MAC %q: want 6 bytes, got %d", s, len(hw))
	}

	copy(m[:], hw)
	return m, nil
}

// MustParseMAC is ParseMAC for constants and tests
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromHardwareAddr converts a decoded address; ok is false unless it is 6 bytes long
func FromHardwareAddr(hw net.HardwareAddr) (MAC, bool) {
	var m MAC
	if len(hw) != 6 {
		return m, false
	}
	copy(m[:], hw)
	return m, true
}

// String returns the lower-case colon notation
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// HardwareAddr returns a copy usable by gopacket layers
func (m MAC) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, 6)
	copy(hw, m[:])
	return hw
}

func (m MAC) IsZero() bool {
	return m == MAC{}
}

func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast reports the group bit, broadcast included
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 == 0x01
}

// IsUnicast is true for a non-zero individual address
func (m MAC) IsUnicast() bool {
	return !m.IsZero() && !m.IsMulticast()
}

// MarshalJSON implements json.Marshaler
func (m MAC) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (m *MAC) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseMAC(s)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer interface
func (m MAC) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner interface
func (m *MAC) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = MAC{}
		return nil
	case string:
		return m.UnmarshalText([]byte(v))
	case []byte:
		return m.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into MAC", value)
	}
}
