package audio

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestFormat_BufferSize(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		ms     int
		want   int
	}{
		{"mono 16-bit 40ms", DefaultFormat, 40, 3528},
		{"stereo 16-bit 10ms", Format{SampleRate: 48000, Channels: 2, BitDepth: 16}, 10, 1920},
		{"never below one frame", DefaultFormat, 0, 2},
		{"aligned to frame", Format{SampleRate: 44100, Channels: 2, BitDepth: 24}, 1, 264},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.format.BufferSize(tt.ms)
			if got != tt.want {
				t.Errorf("Expected buffer size %d, got %d", tt.want, got)
			}
			if got%tt.format.FrameSize() != 0 {
				t.Errorf("Buffer size %d is not a multiple of frame size %d", got, tt.format.FrameSize())
			}
		})
	}
}

func TestFormat_Validate(t *testing.T) {
	if err := DefaultFormat.Validate(); err != nil {
		t.Errorf("Expected default format to be valid, got: %v", err)
	}

	invalid := []Format{
		{SampleRate: 0, Channels: 1, BitDepth: 16},
		{SampleRate: 44100, Channels: 3, BitDepth: 16},
		{SampleRate: 44100, Channels: 1, BitDepth: 12},
	}
	for _, f := range invalid {
		if err := f.Validate(); err == nil {
			t.Errorf("Expected error for format %+v", f)
		}
	}
}

func TestLevel(t *testing.T) {
	silence := make([]byte, 1024)
	if got := Level(silence, 16); got != 0 {
		t.Errorf("Expected level 0 for silence, got %d", got)
	}

	full := make([]byte, 1024)
	for i := 0; i < len(full); i += 2 {
		v := int16(32767)
		if (i/2)%2 == 1 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(full[i:], uint16(v))
	}
	if got := Level(full, 16); got != 100 {
		t.Errorf("Expected level 100 for full scale square wave, got %d", got)
	}

	// -20 dBFS sits two thirds up the 60 dB meter
	quiet := make([]byte, 1024)
	for i := 0; i < len(quiet); i += 2 {
		v := int16(3277)
		if (i/2)%2 == 1 {
			v = -3277
		}
		binary.LittleEndian.PutUint16(quiet[i:], uint16(v))
	}
	if got := Level(quiet, 16); got < 65 || got > 68 {
		t.Errorf("Expected level around 67 for -20 dBFS, got %d", got)
	}

	if got := Level([]byte{1}, 16); got != 0 {
		t.Errorf("Expected level 0 for a partial sample, got %d", got)
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		backend BackendType
		device  string
		want    string
	}{
		{BackendTypePulse, "", "--raw --format=s16le --rate=44100 --channels=1"},
		{BackendTypePulse, "alsa_input.usb", "--raw --format=s16le --rate=44100 --channels=1 --device=alsa_input.usb"},
		{BackendTypePipeWire, "", "--format s16 --rate 44100 --channels 1 -"},
		{BackendTypeALSA, "hw:1,0", "-q -t raw -f S16_LE -r 44100 -c 1 -D hw:1,0"},
	}

	for _, tt := range tests {
		args, err := commandArgs(tt.backend, tt.device, DefaultFormat)
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", tt.backend, err)
		}
		if got := strings.Join(args, " "); got != tt.want {
			t.Errorf("Expected args %q for %s, got %q", tt.want, tt.backend, got)
		}
	}

	if _, err := commandArgs("sox", "", DefaultFormat); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}

func TestDetermineBackend_Explicit(t *testing.T) {
	tests := map[string]BackendType{
		"parec":      BackendTypePulse,
		"pulse":      BackendTypePulse,
		"PipeWire":   BackendTypePipeWire,
		"alsa":       BackendTypeALSA,
		" arecord ":  BackendTypeALSA,
		"pw-record":  BackendTypePipeWire,
		"pulseaudio": BackendTypePulse,
	}

	for name, want := range tests {
		got, err := determineBackend(name)
		if err != nil {
			t.Errorf("Unexpected error for %q: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("Expected backend %s for %q, got %s", want, name, got)
		}
	}

	if _, err := determineBackend("jack"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
