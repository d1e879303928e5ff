package audio

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestValidateTarget_Success(t *testing.T) {
	mockPorts := []string{"Chrome:output_FL", "alsa_input.usb-scarlett:capture_FL", "alsa_input.usb-scarlett:capture_FR"}

	if err := validateTarget("alsa_input.usb-scarlett", mockPorts); err != nil {
		t.Errorf("Expected no error for valid target, got: %v", err)
	}
}

func TestValidateTarget_NotFound(t *testing.T) {
	mockPorts := []string{"Chrome:output_FL"}

	err := validateTarget("nonexistent", mockPorts)
	if err == nil {
		t.Fatal("Expected error for nonexistent target")
	}
	if !strings.Contains(err.Error(), "capture target not found") {
		t.Errorf("Expected 'capture target not found' error, got: %v", err)
	}
}

func TestValidateTarget_PrefixIsNotAMatch(t *testing.T) {
	mockPorts := []string{"Chrome-2:output_FL"}

	if err := validateTarget("Chrome", mockPorts); err == nil {
		t.Error("Expected Chrome-2 not to match target Chrome")
	}
}

func TestValidateTarget_DuplicateDetection(t *testing.T) {
	mockPorts := []string{
		"Chrome:output_FL",
		"Chrome:output_FL", // second instance with the same node name
		"Chrome-2:output_FL",
	}

	err := validateTarget("Chrome", mockPorts)
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}
}

func TestValidateTarget_Empty(t *testing.T) {
	if err := validateTarget("", nil); err != nil {
		t.Errorf("Expected no error for the default target, got: %v", err)
	}
}

func TestFindPortDuplicates(t *testing.T) {
	ports := []string{"a:1", "a:1", "a:1", "b:1", "b:2"}

	dups := findPortDuplicates(ports)
	if len(dups) != 1 || dups[0] != "a:1" {
		t.Errorf("Expected [a:1], got %v", dups)
	}
	if dups := findPortDuplicates([]string{"x:1", "y:1"}); len(dups) != 0 {
		t.Errorf("Expected no duplicates, got %v", dups)
	}
}

func TestOpen_RejectsMissingPipeWireTarget(t *testing.T) {
	c := &ProcessCapturer{
		backend:   BackendTypePipeWire,
		device:    "scarlett",
		logWriter: io.Discard,
		listPorts: func() ([]string, error) { return []string{"Chrome:output_FL"}, nil },
	}

	_, err := c.Open(context.Background(), Format{SampleRate: 44100, Channels: 1, BitDepth: 16})
	if err == nil || !strings.Contains(err.Error(), "capture target not found") {
		t.Errorf("Expected missing target error, got: %v", err)
	}
}
