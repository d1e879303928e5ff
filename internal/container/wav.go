// Package container wraps raw PCM capture files in a RIFF/WAVE header.
package container

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/google/renameio/v2"
)

// HeaderSize is the size of the canonical PCM WAV header
const HeaderSize = 44

// copyBufferSize is the buffered copy size used when streaming the payload
const copyBufferSize = 64 * 1024

// ErrEncodeIO is returned when reading the raw stream or writing the container fails
var ErrEncodeIO = errors.New("container encode I/O error")

// Header is the 44-byte RIFF/WAVE header of a linear PCM file
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // payload length + 36
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // payload length
}

// NewHeader derives every header field from the format and payload length
func NewHeader(format audio.Format, dataLen uint32) Header {
	bits := uint16(format.BitDepth)
	channels := uint16(format.Channels)
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataLen + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate) * uint32(channels) * uint32(bits) / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataLen,
	}
}

// PCMFormat returns the sample format described by the header
func (h Header) PCMFormat() audio.Format {
	return audio.Format{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
		BitDepth:   int(h.BitsPerSample),
	}
}

// Validate checks the fixed fields of a PCM header
func (h Header) Validate() error {
	if string(h.ChunkID[:]) != "RIFF" {
		return fmt.Errorf("invalid chunk ID: expected 'RIFF', got '%s'", string(h.ChunkID[:]))
	}
	if string(h.Format[:]) != "WAVE" {
		return fmt.Errorf("invalid format: expected 'WAVE', got '%s'", string(h.Format[:]))
	}
	if string(h.Subchunk1ID[:]) != "fmt " {
		return fmt.Errorf("invalid format chunk ID: expected 'fmt ', got '%s'", string(h.Subchunk1ID[:]))
	}
	if h.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: expected PCM (1), got %d", h.AudioFormat)
	}
	if string(h.Subchunk2ID[:]) != "data" {
		return fmt.Errorf("invalid data chunk ID: expected 'data', got '%s'", string(h.Subchunk2ID[:]))
	}
	return h.PCMFormat().Validate()
}

// ReadHeader decodes and validates a header from the start of r
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// ReadHeaderFile reads the header of the container at path
func ReadHeaderFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadHeader(f)
}

// Encode wraps the raw sample file at rawPath into a WAV container at
// containerPath and returns the number of bytes written. The payload is
// copied unmodified after a header computed from format and the raw length.
// The container is written to a pending file and only renamed into place
// once complete.
func Encode(rawPath, containerPath string, format audio.Format) (int64, error) {
	if err := format.Validate(); err != nil {
		return 0, fmt.Errorf("invalid format: %w", err)
	}

	raw, err := os.Open(rawPath)
	if err != nil {
		return 0, fmt.Errorf("%w: open raw file: %v", ErrEncodeIO, err)
	}
	defer raw.Close()

	info, err := raw.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat raw file: %v", ErrEncodeIO, err)
	}
	totalAudioLen := info.Size()
	if totalAudioLen > math.MaxUint32-36 {
		return 0, fmt.Errorf("raw file too large for WAV container: %d bytes", totalAudioLen)
	}

	pending, err := renameio.NewPendingFile(containerPath, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("%w: create container: %v", ErrEncodeIO, err)
	}
	defer pending.Cleanup()

	w := bufio.NewWriterSize(pending, copyBufferSize)

	header := NewHeader(format, uint32(totalAudioLen))
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return 0, fmt.Errorf("%w: write header: %v", ErrEncodeIO, err)
	}

	copied, err := io.CopyN(w, bufio.NewReaderSize(raw, copyBufferSize), totalAudioLen)
	if err != nil {
		return 0, fmt.Errorf("%w: copy payload (%d of %d bytes): %v", ErrEncodeIO, copied, totalAudioLen, err)
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flush container: %v", ErrEncodeIO, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("%w: finalize container: %v", ErrEncodeIO, err)
	}

	written := int64(HeaderSize) + copied
	slog.Info("Container encoded", "raw", rawPath, "output", containerPath, "bytes", written, "format", format.String())
	return written, nil
}

// HeaderBytes returns the encoded header for the given format and length
func HeaderBytes(format audio.Format, dataLen uint32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, NewHeader(format, dataLen))
	return buf.Bytes()
}
