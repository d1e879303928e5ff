package focus

import (
	"testing"
)

type recorder struct {
	notices []Notice
}

func (r *recorder) listen(n Notice) {
	r.notices = append(r.notices, n)
}

func TestRequest_GrantAndRelease(t *testing.T) {
	a := NewArbiter()
	rec := &recorder{}

	if got := a.Request(Record, rec.listen); got != Granted {
		t.Fatalf("Expected Granted, got %s", got)
	}
	if a.Holder() != Record {
		t.Errorf("Expected holder record, got %s", a.Holder())
	}

	a.Release(Playback)
	if a.Holder() != Record {
		t.Errorf("Release by non-holder should not change holder, got %s", a.Holder())
	}

	a.Release(Record)
	if a.Holder() != None {
		t.Errorf("Expected no holder after release, got %s", a.Holder())
	}
	if len(rec.notices) != 0 {
		t.Errorf("Expected no notices, got %v", rec.notices)
	}
}

func TestRequest_PreemptsOtherKind(t *testing.T) {
	a := NewArbiter()
	var holderDuringNotice Kind = -1
	var released bool

	a.Request(Record, func(n Notice) {
		if n != LostPermanent {
			t.Errorf("Expected LostPermanent, got %s", n)
		}
		holderDuringNotice = a.Holder()
		a.Release(Record)
		released = true
	})

	if got := a.Request(Playback, func(Notice) {}); got != Granted {
		t.Fatalf("Expected Granted, got %s", got)
	}
	if !released {
		t.Error("Expected record listener to run before the grant returned")
	}
	if holderDuringNotice != None {
		t.Errorf("Expected no holder while previous holder is notified, got %s", holderDuringNotice)
	}
	if a.Holder() != Playback {
		t.Errorf("Expected holder playback, got %s", a.Holder())
	}
}

func TestRequest_SameKindTransfer(t *testing.T) {
	a := NewArbiter()
	first := &recorder{}
	second := &recorder{}

	a.Request(Playback, first.listen)
	if got := a.Request(Playback, second.listen); got != Granted {
		t.Fatalf("Expected Granted, got %s", got)
	}
	if len(first.notices) != 0 {
		t.Errorf("Expected no notice on same-kind transfer, got %v", first.notices)
	}

	a.Interrupt(Duckable)
	if len(second.notices) != 1 || second.notices[0] != LostTransientDuckable {
		t.Errorf("Expected new listener to receive duck notice, got %v", second.notices)
	}
	if len(first.notices) != 0 {
		t.Errorf("Expected replaced listener to receive nothing, got %v", first.notices)
	}
}

func TestInterrupt_ExclusiveDeniesUntilEnd(t *testing.T) {
	a := NewArbiter()
	rec := &recorder{}
	a.Request(Playback, rec.listen)

	a.Interrupt(Exclusive)
	if len(rec.notices) != 1 || rec.notices[0] != LostTransient {
		t.Fatalf("Expected LostTransient, got %v", rec.notices)
	}
	if a.Holder() != Playback {
		t.Errorf("Transient loss should keep the holder, got %s", a.Holder())
	}
	if got := a.Request(Record, func(Notice) {}); got != Denied {
		t.Errorf("Expected Denied during exclusive interruption, got %s", got)
	}
	if mode, active := a.Interrupted(); !active || mode != Exclusive {
		t.Errorf("Expected active exclusive interruption, got %s %v", mode, active)
	}

	a.EndInterrupt()
	if len(rec.notices) != 2 || rec.notices[1] != Gained {
		t.Errorf("Expected Gained after interruption ends, got %v", rec.notices)
	}
	if got := a.Request(Record, func(Notice) {}); got != Granted {
		t.Errorf("Expected Granted after interruption ends, got %s", got)
	}
}

func TestInterrupt_DuckableDoesNotDeny(t *testing.T) {
	a := NewArbiter()
	a.Interrupt(Duckable)
	if got := a.Request(Playback, func(Notice) {}); got != Granted {
		t.Errorf("Expected Granted during duckable interruption, got %s", got)
	}
}

func TestInterrupt_PermanentRevokes(t *testing.T) {
	a := NewArbiter()
	rec := &recorder{}
	a.Request(Record, rec.listen)

	a.Interrupt(Permanent)
	if len(rec.notices) != 1 || rec.notices[0] != LostPermanent {
		t.Fatalf("Expected LostPermanent, got %v", rec.notices)
	}
	if a.Holder() != None {
		t.Errorf("Expected no holder after permanent loss, got %s", a.Holder())
	}
	if _, active := a.Interrupted(); active {
		t.Error("Permanent interruption should not block new requests")
	}

	a.EndInterrupt()
	if len(rec.notices) != 1 {
		t.Errorf("Expected no further notices, got %v", rec.notices)
	}
}

func TestRequest_NoneDenied(t *testing.T) {
	a := NewArbiter()
	if got := a.Request(None, nil); got != Denied {
		t.Errorf("Expected Denied for None, got %s", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"call":      Exclusive,
		"transient": Exclusive,
		"duck":      Duckable,
		"permanent": Permanent,
	}
	for in, want := range tests {
		got, ok := ParseMode(in)
		if !ok || got != want {
			t.Errorf("Expected %s for %q, got %s (ok=%v)", want, in, got, ok)
		}
	}
	if _, ok := ParseMode("loud"); ok {
		t.Error("Expected unknown mode to be rejected")
	}
}
