package session

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/focus"
)

type playbackSession struct {
	state    PlaybackState
	playlist []audio.Item
	index    int
	volume   float64
	track    audio.Track

	// gen tags prepare and completion results so stale ones are dropped
	gen          uint64
	resumeOnGain bool
	finished     bool
}

type prepared struct {
	gen   uint64
	track audio.Track
	err   error
}

type completed struct {
	gen uint64
}

func (c *Coordinator) setPlaylist(items []audio.Item) error {
	c.pb.playlist = append([]audio.Item(nil), items...)
	c.pb.index = -1
	slog.Info("Playlist set", "items", len(items))

	if len(items) == 0 {
		if !c.stopPlayback("set-playlist", nil, true) {
			c.emit("set-playlist", nil)
		}
		return nil
	}
	return c.playItem(0, "set-playlist")
}

func (c *Coordinator) playItem(index int, cause string) error {
	if index < 0 || index >= len(c.pb.playlist) {
		slog.Debug("Playlist index out of range, ignoring", "index", index, "items", len(c.pb.playlist))
		return nil
	}
	if c.renderer == nil {
		return fmt.Errorf("%w: no renderer configured", ErrPreparationFailed)
	}

	prev := c.pb.state
	c.pb.state = PlaybackAcquiringFocus
	c.emit(cause, nil)

	if c.arbiter.Request(focus.Playback, c.listener(focus.Playback)) == focus.Denied {
		slog.Warn("Playback focus denied", "index", index)
		if prev != PlaybackIdle {
			c.pb.state = prev
		} else {
			c.pb.state = PlaybackIdle
			c.arbiter.Release(focus.Playback)
		}
		c.emit("focus-denied", nil)
		return nil
	}

	c.releaseTrack()
	c.pb.gen++
	c.pb.index = index
	c.pb.state = Playing
	c.pb.volume = 1.0
	c.pb.resumeOnGain = false
	c.pb.finished = false
	if mode, active := c.arbiter.Interrupted(); active && mode == focus.Duckable {
		c.pb.state = Ducked
		c.pb.volume = c.duckVolume
	}

	item := c.pb.playlist[index]
	gen := c.pb.gen
	go c.prepare(gen, item)

	slog.Info("Playing item", "index", index, "name", item.Name)
	c.emit(cause, nil)
	return nil
}

func (c *Coordinator) prepare(gen uint64, item audio.Item) {
	track, err := c.renderer.Prepare(c.ctx, item)
	if !c.post(prepared{gen: gen, track: track, err: err}, nil) && track != nil {
		track.Close()
	}
}

func (c *Coordinator) onPrepared(ev prepared) {
	if ev.gen != c.pb.gen || c.pb.state == PlaybackIdle {
		if ev.track != nil {
			ev.track.Close()
		}
		return
	}

	if ev.err != nil {
		name := c.pb.playlist[c.pb.index].Name
		err := fmt.Errorf("%w: %s: %v", ErrPreparationFailed, name, ev.err)
		slog.Error("Failed to prepare item", "index", c.pb.index, "name", name, "error", ev.err)
		c.stopPlayback("preparation-failed", err, true)
		return
	}

	c.pb.track = ev.track
	ev.track.SetVolume(c.pb.volume)
	if c.pb.state == Playing || c.pb.state == Ducked {
		ev.track.Play()
	}
	go c.watchCompletion(ev.gen, ev.track)
}

func (c *Coordinator) watchCompletion(gen uint64, track audio.Track) {
	select {
	case <-track.Done():
		c.post(completed{gen: gen}, nil)
	case <-c.quit:
	}
}

func (c *Coordinator) onCompleted(ev completed) {
	if ev.gen != c.pb.gen {
		return
	}
	switch c.pb.state {
	case Playing, Ducked:
		c.advance("item-completed")
	case Paused:
		// advance once focus comes back
		c.pb.finished = true
	}
}

// advance moves to the next item, or stops at the end of the playlist
func (c *Coordinator) advance(cause string) {
	c.releaseTrack()
	c.pb.state = Advancing
	c.emit(cause, nil)

	if c.pb.index+1 < len(c.pb.playlist) {
		if err := c.playItem(c.pb.index+1, cause); err != nil {
			c.stopPlayback(cause, err, true)
		}
		return
	}
	slog.Info("Playlist finished")
	c.stopPlayback("playlist-finished", nil, true)
}

func (c *Coordinator) playNext() error {
	if len(c.pb.playlist) == 0 {
		return nil
	}
	if c.pb.index+1 < len(c.pb.playlist) {
		return c.playItem(c.pb.index+1, "play-next")
	}
	c.stopPlayback("play-next", nil, true)
	return nil
}

// stopPlayback returns false when there was nothing to stop
func (c *Coordinator) stopPlayback(cause string, err error, notify bool) bool {
	if c.pb.state == PlaybackIdle && c.pb.track == nil {
		return false
	}

	c.pb.state = PlaybackStopping
	if notify {
		c.emit(cause, nil)
	}

	c.releaseTrack()
	c.pb.gen++
	c.arbiter.Release(focus.Playback)
	c.pb.state = PlaybackIdle
	c.pb.volume = 1.0
	c.pb.resumeOnGain = false
	c.pb.finished = false

	slog.Info("Playback stopped", "cause", cause)
	if notify {
		c.emit(cause, err)
	}
	return true
}

func (c *Coordinator) releaseTrack() {
	if c.pb.track == nil {
		return
	}
	if err := c.pb.track.Close(); err != nil {
		slog.Debug("Error closing track", "error", err)
	}
	c.pb.track = nil
}

func (c *Coordinator) setVolume(v float64) {
	c.pb.volume = v
	if c.pb.track != nil {
		c.pb.track.SetVolume(v)
	}
}

func (c *Coordinator) onPlaybackNotice(n focus.Notice) {
	switch n {
	case focus.LostPermanent:
		c.stopPlayback("focus-lost-permanent", nil, true)

	case focus.LostTransient:
		if c.pb.state != Playing && c.pb.state != Ducked {
			return
		}
		if c.pb.track != nil {
			c.pb.track.Pause()
		}
		c.pb.state = Paused
		c.pb.resumeOnGain = true
		c.emit("focus-lost-transient", nil)

	case focus.LostTransientDuckable:
		if c.pb.state != Playing {
			return
		}
		c.setVolume(c.duckVolume)
		c.pb.state = Ducked
		c.emit("focus-lost-duckable", nil)

	case focus.Gained:
		switch {
		case c.pb.state == Paused && c.pb.resumeOnGain:
			c.pb.resumeOnGain = false
			c.setVolume(1.0)
			if c.pb.finished {
				c.pb.state = Playing
				c.advance("focus-gained")
				return
			}
			if c.pb.track != nil {
				c.pb.track.Play()
			}
			c.pb.state = Playing
			c.emit("focus-gained", nil)
		case c.pb.state == Ducked:
			c.setVolume(1.0)
			c.pb.state = Playing
			c.emit("focus-gained", nil)
		}
	}
}
