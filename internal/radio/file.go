package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog/log"
)

// FileRadio replays a capture file. Transmissions are counted and discarded.
type FileRadio struct {
	path   string
	file   *os.File
	reader *pcapgo.Reader
	delay  time.Duration
	frames chan Frame

	channel atomic.Int64
	sent    atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	finished  chan struct{}
}

// OpenFile opens a pcap file for replay; delay spaces consecutive frames
func OpenFile(path string, delay time.Duration, buffer int) (*FileRadio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	r := &FileRadio{
		path:     path,
		file:     f,
		reader:   reader,
		delay:    delay,
		frames:   make(chan Frame, buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go r.replay()
	return r, nil
}

// Frames stays open after the file is exhausted so a finished replay is not a driver failure
func (r *FileRadio) Frames() <-chan Frame {
	return r.frames
}

// Finished is closed once every frame of the file has been delivered
func (r *FileRadio) Finished() <-chan struct{} {
	return r.finished
}

func (r *FileRadio) replay() {
	defer close(r.finished)

	link := r.reader.LinkType()
	count := 0
	for {
		data, ci, err := r.reader.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("file", r.path).Msg("Replay stopped on read error")
			}
			break
		}

		select {
		case r.frames <- Frame{Data: data, LinkType: link, Timestamp: ci.Timestamp, Channel: int(r.channel.Load())}:
			count++
		case <-r.done:
			return
		}

		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-r.done:
				return
			}
		}
	}

	log.Info().Int("frames", count).Str("file", r.path).Msg("回放完成")
}

// SetChannel records the channel; nothing is tuned
func (r *FileRadio) SetChannel(_ context.Context, channel int) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	r.channel.Store(int64(channel))
	return nil
}

// SendFrame discards the frame
func (r *FileRadio) SendFrame(_ context.Context, data []byte) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	r.sent.Add(1)
	log.Trace().Int("len", len(data)).Msg("Replay radio dropped transmitted frame")
	return nil
}

// Sent returns the number of frames handed to SendFrame
func (r *FileRadio) Sent() uint64 {
	return r.sent.Load()
}

// Channel returns the last channel set
func (r *FileRadio) Channel() int {
	return int(r.channel.Load())
}

// Close stops the replay and closes the frame stream
func (r *FileRadio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		<-r.finished
		close(r.frames)
		err = r.file.Close()
	})
	return err
}
