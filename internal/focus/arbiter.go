// Package focus arbitrates exclusive use of the audio device between the
// record and playback sessions and external consumers.
package focus

import (
	"log/slog"
	"sync"
)

// Kind identifies a focus holder
type Kind int

const (
	None Kind = iota
	Record
	Playback
)

func (k Kind) String() string {
	switch k {
	case Record:
		return "record"
	case Playback:
		return "playback"
	default:
		return "none"
	}
}

// MarshalText renders the kind by name in JSON and YAML
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notice is delivered to the current holder when focus changes
type Notice int

const (
	Gained Notice = iota
	LostPermanent
	LostTransient
	LostTransientDuckable
)

func (n Notice) String() string {
	switch n {
	case Gained:
		return "gained"
	case LostPermanent:
		return "lost-permanent"
	case LostTransient:
		return "lost-transient"
	case LostTransientDuckable:
		return "lost-transient-duckable"
	default:
		return "unknown"
	}
}

// Outcome is the synchronous answer to a focus request
type Outcome int

const (
	Granted Outcome = iota
	Denied
)

func (o Outcome) String() string {
	if o == Granted {
		return "granted"
	}
	return "denied"
}

// Mode describes how an external consumer takes the device
type Mode int

const (
	// Exclusive is a transient interruption such as a phone call. New
	// requests are denied until it ends.
	Exclusive Mode = iota
	// Duckable is a short overlay such as a notification sound
	Duckable
	// Permanent is another media application taking over
	Permanent
)

func (m Mode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case Duckable:
		return "duckable"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name to a Mode
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "exclusive", "transient", "call":
		return Exclusive, true
	case "duckable", "duck":
		return Duckable, true
	case "permanent":
		return Permanent, true
	}
	return 0, false
}

// Listener receives notices for the holder that registered it. Listeners
// are called without the arbiter lock held and may call back into it.
type Listener func(Notice)

// Arbiter is the single authority over the audio device. At most one of
// Record and Playback holds focus at any time.
type Arbiter struct {
	mu       sync.Mutex
	holder   Kind
	listener Listener

	external     bool
	externalMode Mode
}

// NewArbiter returns an arbiter with no holder
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Holder returns the current focus holder
func (a *Arbiter) Holder() Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}

// Interrupted reports whether an external consumer currently holds the device
func (a *Arbiter) Interrupted() (Mode, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.externalMode, a.external
}

// Request asks for focus on behalf of kind. A holder of the other kind is
// sent LostPermanent and has returned from its listener before the grant is
// returned. A request by the current holder replaces its listener.
func (a *Arbiter) Request(kind Kind, l Listener) Outcome {
	if kind == None {
		return Denied
	}

	a.mu.Lock()
	if a.external && a.externalMode == Exclusive {
		a.mu.Unlock()
		slog.Debug("Focus request denied during exclusive interruption", "kind", kind)
		return Denied
	}

	prev, prevListener := a.holder, a.listener
	if prev != None && prev != kind {
		a.holder = None
		a.listener = nil
		a.mu.Unlock()

		slog.Debug("Focus preempted", "from", prev, "to", kind)
		if prevListener != nil {
			prevListener(LostPermanent)
		}

		a.mu.Lock()
	}

	a.holder = kind
	a.listener = l
	a.mu.Unlock()

	slog.Debug("Focus granted", "kind", kind)
	return Granted
}

// Release gives up focus if kind holds it
func (a *Arbiter) Release(kind Kind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder != kind || kind == None {
		return
	}
	a.holder = None
	a.listener = nil
	slog.Debug("Focus released", "kind", kind)
}

// Interrupt records an external consumer taking the device and notifies
// the current holder. A permanent interruption revokes the grant.
func (a *Arbiter) Interrupt(mode Mode) {
	a.mu.Lock()
	holder, l := a.holder, a.listener

	var notice Notice
	switch mode {
	case Permanent:
		notice = LostPermanent
		a.holder = None
		a.listener = nil
		a.external = false
	case Duckable:
		notice = LostTransientDuckable
		a.external = true
		a.externalMode = mode
	default:
		notice = LostTransient
		a.external = true
		a.externalMode = Exclusive
	}
	a.mu.Unlock()

	slog.Info("External audio interruption", "mode", mode, "holder", holder)
	if holder != None && l != nil {
		l(notice)
	}
}

// EndInterrupt clears an external interruption and sends Gained to the holder
func (a *Arbiter) EndInterrupt() {
	a.mu.Lock()
	if !a.external {
		a.mu.Unlock()
		return
	}
	a.external = false
	holder, l := a.holder, a.listener
	a.mu.Unlock()

	slog.Info("External audio interruption ended", "holder", holder)
	if holder != None && l != nil {
		l(Gained)
	}
}
