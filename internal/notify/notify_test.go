package notify

import (
	"errors"
	"testing"

	"github.com/audiolibrelab/jamdeck/internal/session"
)

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(title, message string) {
	r.messages = append(r.messages, message)
}

func TestActivity_NotifiesOnTransitions(t *testing.T) {
	rec := &recordingNotifier{}
	a := NewActivity(rec, func() bool { return true })

	a.Observe(session.Snapshot{IsRecording: true})
	a.Observe(session.Snapshot{IsRecording: true, Level: 40})
	a.Observe(session.Snapshot{})
	a.Observe(session.Snapshot{IsPlaying: true, Current: "song.wav"})
	a.Observe(session.Snapshot{Error: "focus denied"})

	want := []string{"Recording...", "Playing song.wav...", "focus denied"}
	if len(rec.messages) != len(want) {
		t.Fatalf("Expected %d notifications, got %v", len(want), rec.messages)
	}
	for i := range want {
		if rec.messages[i] != want[i] {
			t.Errorf("Expected notification %q, got %q", want[i], rec.messages[i])
		}
	}
}

func TestActivity_Disabled(t *testing.T) {
	rec := &recordingNotifier{}
	enabled := false
	a := NewActivity(rec, func() bool { return enabled })

	a.Observe(session.Snapshot{IsRecording: true})
	if len(rec.messages) != 0 {
		t.Errorf("Expected no notifications while disabled, got %v", rec.messages)
	}

	// state is still tracked while disabled
	enabled = true
	a.Observe(session.Snapshot{IsRecording: true})
	if len(rec.messages) != 0 {
		t.Errorf("Expected no notification for an ongoing recording, got %v", rec.messages)
	}
}

func TestDesktopNotifier_SwallowsErrors(t *testing.T) {
	var got string
	n := &DesktopNotifier{send: func(title, message, icon string) error {
		got = title + ": " + message
		return errors.New("no notification daemon")
	}}
	n.Notify("JamDeck", "Recording...")
	if got != "JamDeck: Recording..." {
		t.Errorf("Expected message to be sent, got %q", got)
	}
}
