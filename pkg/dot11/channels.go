package dot11

// Default channel plans
var (
	Channels24 = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	Channels5  = []int{36, 40, 44, 48, 52, 56, 60, 64, 100, 104, 108, 112, 116, 120, 124, 128, 132, 136, 140, 149, 153, 157, 161, 165}
)

// ChannelFromFrequency maps a centre frequency in MHz to a channel number, 0 if unknown
func ChannelFromFrequency(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472:
		return (mhz - 2407) / 5
	case mhz >= 5160 && mhz <= 5885:
		return (mhz - 5000) / 5
	case mhz >= 5955 && mhz <= 7115:
		return (mhz - 5950) / 5
	}
	return 0
}

// FrequencyFromChannel is the inverse of ChannelFromFrequency for 2.4 and 5 GHz
func FrequencyFromChannel(ch int) int {
	switch {
	case ch == 14:
		return 2484
	case ch >= 1 && ch <= 13:
		return 2407 + ch*5
	case ch >= 32 && ch <= 177:
		return 5000 + ch*5
	}
	return 0
}

// Band returns "2.4GHz", "5GHz" or "" for a channel
func Band(ch int) string {
	switch {
	case ch >= 1 && ch <= 14:
		return "2.4GHz"
	case ch >= 32 && ch <= 177:
		return "5GHz"
	}
	return ""
}

// ValidChannel reports whether ch belongs to a known band
func ValidChannel(ch int) bool {
	return Band(ch) != ""
}
