package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/rs/zerolog/log"
)

// consecutive read failures tolerated before the stream is declared dead
const maxReadErrors = 10

// PcapRadio 监听模式网卡，使用 libpcap 抓包和注入
type PcapRadio struct {
	iface  string
	handle *pcap.Handle
	frames chan Frame

	writeMu sync.Mutex
	channel atomic.Int64
	closed  atomic.Bool
	done    chan struct{}
}

// OpenLive opens a monitor-mode interface for capture and injection
func OpenLive(iface string, snaplen, buffer int) (*PcapRadio, error) {
	handle, err := pcap.OpenLive(iface, int32(snaplen), true, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}

	r := &PcapRadio{
		iface:  iface,
		handle: handle,
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}

	log.Info().
		Str("interface", iface).
		Str("linkType", handle.LinkType().String()).
		Msg("Monitor interface opened")

	go r.readLoop()
	return r, nil
}

// Frames returns the capture stream; it is closed when the interface goes away
func (r *PcapRadio) Frames() <-chan Frame {
	return r.frames
}

// readLoop 持续读取数据包
func (r *PcapRadio) readLoop() {
	defer close(r.frames)

	link := r.handle.LinkType()
	failures := 0
	for {
		data, ci, err := r.handle.ReadPacketData()
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			if r.closed.Load() {
				return
			}
			continue
		case errors.Is(err, io.EOF), r.closed.Load():
			return
		default:
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("读取数据包失败")
			if failures >= maxReadErrors {
				log.Error().Str("interface", r.iface).Msg("Capture stream lost")
				return
			}
			continue
		}

		frame := Frame{
			Data:      data,
			LinkType:  link,
			Timestamp: ci.Timestamp,
			Channel:   int(r.channel.Load()),
		}

		select {
		case r.frames <- frame:
		case <-r.done:
			return
		}
	}
}

// SetChannel tunes the interface through iw
func (r *PcapRadio) SetChannel(ctx context.Context, channel int) error {
	if r.closed.Load() {
		return ErrClosed
	}

	cmd := exec.CommandContext(ctx, "iw", "dev", r.iface, "set", "channel", strconv.Itoa(channel))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("iw set channel %d: %w: %s", channel, err, out)
	}

	r.channel.Store(int64(channel))
	return nil
}

// SendFrame injects a RadioTap-prefixed frame
func (r *PcapRadio) SendFrame(ctx context.Context, data []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.handle.WritePacketData(data); err != nil {
		return fmt.Errorf("inject frame: %w", err)
	}
	return nil
}

// Close releases the pcap handle
func (r *PcapRadio) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)

	r.writeMu.Lock()
	r.handle.Close()
	r.writeMu.Unlock()
	return nil
}

// EnableMonitorMode switches iface to monitor mode with ip and iw
func EnableMonitorMode(ctx context.Context, iface string) error {
	commands := [][]string{
		{"ip", "link", "set", iface, "down"},
		{"iw", "dev", iface, "set", "type", "monitor"},
		{"ip", "link", "set", iface, "up"},
	}
	for _, args := range commands {
		if out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput(); err != nil {
			return fmt.Errorf("monitor setup %v: %w: %s", args, err, out)
		}
	}

	log.Info().Str("interface", iface).Msg("Monitor mode enabled")
	return nil
}
