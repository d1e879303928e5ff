package session

import (
	"errors"

	"github.com/audiolibrelab/jamdeck/internal/focus"
)

var (
	// ErrFocusDenied is returned when the arbiter refuses a focus request
	ErrFocusDenied = errors.New("audio focus denied")
	// ErrDeviceInit is returned when the capture source cannot be opened
	ErrDeviceInit = errors.New("audio device init failed")
	// ErrCaptureRead is reported when the capture source fails mid-recording
	ErrCaptureRead = errors.New("capture read error")
	// ErrPreparationFailed is reported when a playlist item cannot be opened or decoded
	ErrPreparationFailed = errors.New("playback preparation failed")
	// ErrClosed is returned by commands issued after Close
	ErrClosed = errors.New("session coordinator closed")
)

// RecordState is the state of the record session
type RecordState int

const (
	RecordIdle RecordState = iota
	RecordAcquiringFocus
	Recording
	RecordStopping
)

func (s RecordState) String() string {
	switch s {
	case RecordAcquiringFocus:
		return "acquiring-focus"
	case Recording:
		return "recording"
	case RecordStopping:
		return "stopping"
	default:
		return "idle"
	}
}

func (s RecordState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PlaybackState is the state of the playback session
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackAcquiringFocus
	Playing
	Paused
	Ducked
	Advancing
	PlaybackStopping
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackAcquiringFocus:
		return "acquiring-focus"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ducked:
		return "ducked"
	case Advancing:
		return "advancing"
	case PlaybackStopping:
		return "stopping"
	default:
		return "idle"
	}
}

func (s PlaybackState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the state-changed notification. IsRecording, IsPlaying and
// VolumeScale are the observable summary; the other fields add detail.
type Snapshot struct {
	Seq         uint64  `json:"seq"`
	Take        uint64  `json:"take"`
	IsRecording bool    `json:"is_recording"`
	IsPlaying   bool    `json:"is_playing"`
	VolumeScale float64 `json:"volume_scale"`

	Record        RecordState   `json:"record_state"`
	Playback      PlaybackState `json:"playback_state"`
	Focus         focus.Kind    `json:"focus"`
	OutputPath    string        `json:"output_path,omitempty"`
	FramesWritten int64         `json:"frames_written"`
	Level         int           `json:"level"`
	CurrentIndex  int           `json:"current_index"`
	PlaylistLen   int           `json:"playlist_len"`
	Current       string        `json:"current,omitempty"`

	// Take numbers recordings and changes when a start is accepted.
	// Cause names the command or signal behind the transition
	Cause string `json:"cause,omitempty"`
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}
