// Package speaker is the system audio output, backed by oto.
package speaker

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/play"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process
var (
	contextOnce sync.Once
	otoCtx      *oto.Context
	otoFormat   audio.Format
	contextErr  error
)

// Speaker implements play.Output on the default output device
type Speaker struct {
	ctx    *oto.Context
	format audio.Format
}

// Open initialises the output device. Later calls return a speaker on the
// first context even if they ask for a different rate or channel count.
func Open(sampleRate, channels int, bufferMillis int) (*Speaker, error) {
	contextOnce.Do(func() {
		otoFormat = audio.Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16}
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		}
		if bufferMillis > 0 {
			op.BufferSize = time.Duration(bufferMillis) * time.Millisecond
		}

		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			contextErr = fmt.Errorf("failed to create audio output: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		slog.Info("Audio output initialized", "sample_rate", sampleRate, "channels", channels)
	})
	if contextErr != nil {
		return nil, contextErr
	}

	if otoFormat.SampleRate != sampleRate || otoFormat.Channels != channels {
		slog.Warn("Audio output already initialized with a different format, reusing it",
			"requested", audio.Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16}.String(),
			"active", otoFormat.String())
	}
	return &Speaker{ctx: otoCtx, format: otoFormat}, nil
}

func (s *Speaker) Format() audio.Format {
	return s.format
}

func (s *Speaker) NewPlayer(r io.Reader) play.Player {
	return s.ctx.NewPlayer(r)
}
