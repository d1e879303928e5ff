package audio

import (
	"context"
	"io"
)

// Source is a blocking pull of raw capture bytes. Close must unblock a
// pending Read.
type Source interface {
	io.ReadCloser
}

// Capturer opens capture sources
type Capturer interface {
	Open(ctx context.Context, format Format) (Source, error)
}

// Item is one entry of a playlist
type Item struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Track is a prepared playlist item bound to the output device
type Track interface {
	Play()
	Pause()
	SetVolume(volume float64)

	// Done is closed once the item has played to the end or the track is closed
	Done() <-chan struct{}

	Close() error
}

// Renderer prepares items for playback. Prepare may block on file I/O and
// decoding; callers run it off their control path.
type Renderer interface {
	Prepare(ctx context.Context, item Item) (Track, error)
}
