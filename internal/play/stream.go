package play

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/container"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/thoas/go-funk"
)

// ErrUnsupported is returned for files no decoder handles
var ErrUnsupported = errors.New("unsupported audio file")

// Extensions lists the file types Open can decode
var Extensions = []string{".wav", ".mp3", ".flac"}

// Supported reports whether path has a decodable extension
func Supported(path string) bool {
	return funk.ContainsString(Extensions, strings.ToLower(filepath.Ext(path)))
}

// sampleSource yields interleaved signed 16-bit samples
type sampleSource interface {
	ReadSamples(dst []int16) (int, error)
}

// Stream is an open, decoded audio file
type Stream struct {
	src    sampleSource
	format audio.Format
	file   *os.File
}

// Format is the native rate and channel count, always at 16 bits
func (s *Stream) Format() audio.Format {
	return s.format
}

// ReadSamples reads interleaved samples in the native format
func (s *Stream) ReadSamples(dst []int16) (int, error) {
	return s.src.ReadSamples(dst)
}

func (s *Stream) Close() error {
	return s.file.Close()
}

// Open decodes the file at path, choosing the decoder by extension
func Open(path string) (*Stream, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupported, ext, strings.Join(Extensions, ", "))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	var s *Stream
	switch ext {
	case ".wav":
		s, err = openWAV(f)
	case ".mp3":
		s, err = openMP3(f)
	case ".flac":
		s, err = openFLAC(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	slog.Debug("Opened audio file", "path", path, "format", s.format.String())
	return s, nil
}

func openWAV(f *os.File) (*Stream, error) {
	r := bufio.NewReader(f)
	h, err := container.ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV: %w", err)
	}
	native := h.PCMFormat()
	return &Stream{
		src:    newPCMSource(io.LimitReader(r, int64(h.Subchunk2Size)), native.BitDepth),
		format: audio.Format{SampleRate: native.SampleRate, Channels: native.Channels, BitDepth: 16},
		file:   f,
	}, nil
}

func openMP3(f *os.File) (*Stream, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	// the decoder always produces 16-bit stereo
	return &Stream{
		src:    newPCMSource(dec, 16),
		format: audio.Format{SampleRate: dec.SampleRate(), Channels: 2, BitDepth: 16},
		file:   f,
	}, nil
}

func openFLAC(f *os.File) (*Stream, error) {
	stream, err := flac.New(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	info := stream.Info
	if info.NChannels == 0 || info.SampleRate == 0 {
		return nil, fmt.Errorf("failed to decode FLAC: invalid stream info")
	}
	return &Stream{
		src: &flacSource{
			stream:   stream,
			channels: int(info.NChannels),
			bitDepth: int(info.BitsPerSample),
		},
		format: audio.Format{SampleRate: int(info.SampleRate), Channels: int(info.NChannels), BitDepth: 16},
		file:   f,
	}, nil
}

// pcmSource reads little-endian PCM of any supported width
type pcmSource struct {
	r    io.Reader
	size int
	buf  []byte
}

func newPCMSource(r io.Reader, bitDepth int) *pcmSource {
	return &pcmSource{r: r, size: bitDepth / 8}
}

func (s *pcmSource) ReadSamples(dst []int16) (int, error) {
	need := len(dst) * s.size
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	n, err := io.ReadFull(s.r, s.buf[:need])
	count := n / s.size
	for i := 0; i < count; i++ {
		dst[i] = pcmTo16(s.buf[i*s.size:], s.size)
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return count, err
}

// pcmTo16 keeps the most significant 16 bits of one sample
func pcmTo16(b []byte, size int) int16 {
	switch size {
	case 1:
		return int16(int(b[0])-128) << 8
	case 2:
		return int16(binary.LittleEndian.Uint16(b))
	default:
		return int16(binary.LittleEndian.Uint16(b[size-2:]))
	}
}

type flacSource struct {
	stream   *flac.Stream
	channels int
	bitDepth int
	pending  []int16
	buf      []int16
}

func (s *flacSource) ReadSamples(dst []int16) (int, error) {
	for len(s.pending) == 0 {
		frame, err := s.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		s.buf = s.buf[:0]
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < s.channels; ch++ {
				s.buf = append(s.buf, scaleTo16(frame.Subframes[ch].Samples[i], s.bitDepth))
			}
		}
		s.pending = s.buf
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func scaleTo16(v int32, bitDepth int) int16 {
	shift := bitDepth - 16
	if shift > 0 {
		v >>= shift
	} else if shift < 0 {
		v <<= -shift
	}
	return clamp16(v)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
