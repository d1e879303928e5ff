package audio

import (
	"fmt"
)

// Format describes a linear PCM sample stream
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels" mapstructure:"channels"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth" mapstructure:"bit_depth"`
}

// DefaultFormat is 44.1 kHz mono 16-bit, the capture format of the deployment
var DefaultFormat = Format{SampleRate: 44100, Channels: 1, BitDepth: 16}

// FrameSize returns the number of bytes for one sample on every channel
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate returns the number of payload bytes per second
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// BufferSize returns the read size for roughly ms milliseconds of audio,
// rounded down to a whole number of frames and never below one frame.
func (f Format) BufferSize(ms int) int {
	frame := f.FrameSize()
	if frame <= 0 {
		return 0
	}
	size := f.ByteRate() * ms / 1000
	size -= size % frame
	if size < frame {
		size = frame
	}
	return size
}

// Validate checks that the format can be captured and encoded
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit depth must be 8, 16, 24 or 32, got %d", f.BitDepth)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}
