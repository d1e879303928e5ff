package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// BackendType represents the capture tool used to pull PCM from the system
type BackendType string

const (
	BackendTypePulse    BackendType = "parec"
	BackendTypePipeWire BackendType = "pw-record"
	BackendTypeALSA     BackendType = "arecord"
	BackendTypeAuto     BackendType = "auto"
)

// preferredBackends is the probe order used by the auto backend
var preferredBackends = []BackendType{BackendTypePulse, BackendTypePipeWire, BackendTypeALSA}

// NewCapturer creates a capturer for the configured backend. device may be
// empty to use the system default source.
func NewCapturer(backend, device string, logWriter io.Writer) (*ProcessCapturer, error) {
	backendType, err := determineBackend(backend)
	if err != nil {
		return nil, err
	}
	if logWriter == nil {
		logWriter = io.Discard
	}
	return &ProcessCapturer{
		backend:   backendType,
		device:    device,
		logWriter: logWriter,
		listPorts: ListPipeWirePorts,
	}, nil
}

// determineBackend resolves a configured backend name to a concrete tool
func determineBackend(name string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(name))) {
	case BackendTypePulse, "pulse", "pulseaudio":
		return BackendTypePulse, nil
	case BackendTypePipeWire, "pipewire":
		return BackendTypePipeWire, nil
	case BackendTypeALSA, "alsa":
		return BackendTypeALSA, nil
	case BackendTypeAuto, "":
		available := GetAvailableBackends()
		if len(available) == 0 {
			return "", fmt.Errorf("no capture tool found (tried: parec, pw-record, arecord)")
		}
		return available[0], nil
	default:
		return "", fmt.Errorf("unknown audio backend: %s", name)
	}
}

// GetAvailableBackends returns the capture tools installed on this system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}
	for _, b := range preferredBackends {
		if _, err := exec.LookPath(string(b)); err == nil {
			backends = append(backends, b)
		}
	}
	return backends
}

// commandArgs builds the capture tool invocation writing raw PCM to stdout
func commandArgs(backend BackendType, device string, format Format) ([]string, error) {
	rate := strconv.Itoa(format.SampleRate)
	channels := strconv.Itoa(format.Channels)

	switch backend {
	case BackendTypePulse:
		args := []string{"--raw", "--format=" + pulseSampleFormat(format.BitDepth), "--rate=" + rate, "--channels=" + channels}
		if device != "" {
			args = append(args, "--device="+device)
		}
		return args, nil
	case BackendTypePipeWire:
		args := []string{"--format", pipewireSampleFormat(format.BitDepth), "--rate", rate, "--channels", channels}
		if device != "" {
			args = append(args, "--target", device)
		}
		return append(args, "-"), nil
	case BackendTypeALSA:
		args := []string{"-q", "-t", "raw", "-f", alsaSampleFormat(format.BitDepth), "-r", rate, "-c", channels}
		if device != "" {
			args = append(args, "-D", device)
		}
		return args, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func pulseSampleFormat(bits int) string {
	switch bits {
	case 8:
		return "u8"
	case 24:
		return "s24le"
	case 32:
		return "s32le"
	default:
		return "s16le"
	}
}

func pipewireSampleFormat(bits int) string {
	switch bits {
	case 8:
		return "u8"
	case 24:
		return "s24"
	case 32:
		return "s32"
	default:
		return "s16"
	}
}

func alsaSampleFormat(bits int) string {
	switch bits {
	case 8:
		return "U8"
	case 24:
		return "S24_3LE"
	case 32:
		return "S32_LE"
	default:
		return "S16_LE"
	}
}
