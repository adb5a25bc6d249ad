package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/momo-shadow/shadow-engine/internal/config"
)

// ErrClosed 射频源已关闭或不可用
var ErrClosed = errors.New("radio closed")

// Frame is one raw capture from the monitor interface
type Frame struct {
	Data      []byte
	LinkType  layers.LinkType
	Timestamp time.Time
	Channel   int // tuned channel when the frame was read, 0 if unknown
}

// Radio is the driver collaborator: a frame stream plus two fallible commands
type Radio interface {
	Frames() <-chan Frame
	SetChannel(ctx context.Context, channel int) error
	SendFrame(ctx context.Context, data []byte) error
	Close() error
}

// New opens the frame source selected by radio.source
func New(cfg config.RadioConfig) (Radio, error) {
	switch cfg.Source {
	case "file":
		return OpenFile(cfg.ReplayFile, cfg.ReplayDelay, cfg.FrameBuffer)
	case "live", "":
		if cfg.MonitorSetup {
			if err := EnableMonitorMode(context.Background(), cfg.Interface); err != nil {
				return nil, err
			}
		}
		return OpenLive(cfg.Interface, cfg.SnapLen, cfg.FrameBuffer)
	}
	return nil, fmt.Errorf("unknown radio source: %s", cfg.Source)
}
