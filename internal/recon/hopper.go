package recon

import (
	"math/rand"
	"time"
)

// HopMode selects the order channels are visited in
type HopMode string

const (
	HopSequential HopMode = "sequential"
	HopRandom     HopMode = "random"
)

// Hopper decides when and to which channel the radio moves.
// It never touches the driver; the controller issues the channel change.
type Hopper struct {
	channels []int
	mode     HopMode
	interval time.Duration
	rng      *rand.Rand

	idx     int
	current int
	pinned  bool
	hops    uint64
}

// NewHopper creates a hopper over channels; duplicates are dropped, order is kept
func NewHopper(channels []int, mode HopMode, interval time.Duration, rng *rand.Rand) *Hopper {
	seen := make(map[int]bool, len(channels))
	set := make([]int, 0, len(channels))
	for _, ch := range channels {
		if ch > 0 && !seen[ch] {
			seen[ch] = true
			set = append(set, ch)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Hopper{
		channels: set,
		mode:     mode,
		interval: interval,
		rng:      rng,
		idx:      -1,
	}
}

// Next advances to the next channel. It returns false while pinned or when there is nowhere to go.
func (h *Hopper) Next() (int, bool) {
	if h.pinned || len(h.channels) == 0 {
		return 0, false
	}

	if h.mode == HopRandom {
		h.idx = h.randomIndex()
	} else {
		h.idx = (h.idx + 1) % len(h.channels)
	}

	h.current = h.channels[h.idx]
	h.hops++
	return h.current, true
}

// randomIndex draws uniformly, excluding the current channel when there is a choice
func (h *Hopper) randomIndex() int {
	n := len(h.channels)
	cur := h.indexOf(h.current)
	if n == 1 || cur < 0 {
		return h.rng.Intn(n)
	}
	i := h.rng.Intn(n - 1)
	if i >= cur {
		i++
	}
	return i
}

func (h *Hopper) indexOf(ch int) int {
	for i, c := range h.channels {
		if c == ch {
			return i
		}
	}
	return -1
}

// Pin holds the radio on channel and suspends hopping
func (h *Hopper) Pin(channel int) {
	h.pinned = true
	if channel > 0 {
		h.current = channel
	}
}

// Release resumes hopping from where the sequence left off
func (h *Hopper) Release() {
	h.pinned = false
}

func (h *Hopper) Pinned() bool            { return h.pinned }
func (h *Hopper) Current() int            { return h.current }
func (h *Hopper) Hops() uint64            { return h.hops }
func (h *Hopper) Interval() time.Duration { return h.interval }

// Channels returns a copy of the hop set
func (h *Hopper) Channels() []int {
	return append([]int(nil), h.channels...)
}
