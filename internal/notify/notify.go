// Package notify shows desktop notifications for session activity.
package notify

import (
	"log/slog"
	"sync"

	"github.com/audiolibrelab/jamdeck/internal/session"
	"github.com/gen2brain/beeep"
)

const appName = "JamDeck"

// Notifier shows notifications to the user
type Notifier interface {
	Notify(title string, message string)
}

// DesktopNotifier sends notifications through the desktop notification daemon
type DesktopNotifier struct {
	send func(title, message, appIcon string) error
}

func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{send: beeep.Notify}
}

func (n *DesktopNotifier) Notify(title string, message string) {
	if err := n.send(title, message, ""); err != nil {
		slog.Debug("Failed to send desktop notification", "title", title, "error", err)
	}
}

// Activity turns state changes into "Recording..." and "Playing audio..."
// notices. Each fires once per transition into the active state.
type Activity struct {
	notifier Notifier
	enabled  func() bool

	mu        sync.Mutex
	recording bool
	playing   bool
}

// NewActivity returns an observer. enabled is consulted on every snapshot
// so config reloads take effect immediately.
func NewActivity(notifier Notifier, enabled func() bool) *Activity {
	return &Activity{notifier: notifier, enabled: enabled}
}

// Observe handles one snapshot
func (a *Activity) Observe(snap session.Snapshot) {
	a.mu.Lock()
	startedRecording := snap.IsRecording && !a.recording
	startedPlaying := snap.IsPlaying && !a.playing
	a.recording = snap.IsRecording
	a.playing = snap.IsPlaying
	a.mu.Unlock()

	if a.enabled != nil && !a.enabled() {
		return
	}
	if startedRecording {
		a.notifier.Notify(appName, "Recording...")
	}
	if startedPlaying {
		msg := "Playing audio..."
		if snap.Current != "" {
			msg = "Playing " + snap.Current + "..."
		}
		a.notifier.Notify(appName, msg)
	}
	if snap.Error != "" {
		a.notifier.Notify(appName, snap.Error)
	}
}
