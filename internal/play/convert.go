package play

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/audiolibrelab/jamdeck/internal/audio"
)

const convertFrames = 1024

// converter maps a decoded stream onto the output device format and
// encodes it as 16-bit little-endian bytes.
type converter struct {
	src   sampleSource
	inCh  int
	outCh int
	rs    *resampler

	in      []int16
	mixed   []int32
	out     []int32
	pending []byte
	err     error
}

func newConverter(src sampleSource, from, to audio.Format) *converter {
	c := &converter{
		src:   src,
		inCh:  from.Channels,
		outCh: to.Channels,
		in:    make([]int16, convertFrames*from.Channels),
	}
	if from.SampleRate != to.SampleRate {
		c.rs = newResampler(from.SampleRate, to.SampleRate, to.Channels)
	}
	return c
}

func (c *converter) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.fill()
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *converter) fill() {
	n, err := c.src.ReadSamples(c.in)
	if err != nil {
		c.err = err
	}
	frames := n / c.inCh
	if frames == 0 {
		return
	}

	c.mixed = mapChannels(c.mixed[:0], c.in[:frames*c.inCh], c.inCh, c.outCh)
	samples := c.mixed
	if c.rs != nil {
		c.out = c.rs.process(c.out[:0], c.mixed)
		samples = c.out
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(clamp16(s)))
	}
	c.pending = buf
}

// mapChannels duplicates mono to stereo, averages down to mono, or keeps
// the leading channels.
func mapChannels(dst []int32, in []int16, inCh, outCh int) []int32 {
	frames := len(in) / inCh
	for f := 0; f < frames; f++ {
		frame := in[f*inCh : (f+1)*inCh]
		switch {
		case inCh == outCh:
			for _, s := range frame {
				dst = append(dst, int32(s))
			}
		case outCh == 1:
			var sum int32
			for _, s := range frame {
				sum += int32(s)
			}
			dst = append(dst, sum/int32(inCh))
		case inCh == 1:
			for ch := 0; ch < outCh; ch++ {
				dst = append(dst, int32(frame[0]))
			}
		default:
			for ch := 0; ch < outCh; ch++ {
				if ch < inCh {
					dst = append(dst, int32(frame[ch]))
				} else {
					dst = append(dst, int32(frame[inCh-1]))
				}
			}
		}
	}
	return dst
}

// resampler converts sample rates by linear interpolation. The last frame
// of each chunk is carried into the next so chunk boundaries are seamless.
type resampler struct {
	ratio    float64
	channels int
	pos      float64
	prev     []int32
	primed   bool
}

func newResampler(inputRate, outputRate, channels int) *resampler {
	return &resampler{
		ratio:    float64(inputRate) / float64(outputRate),
		channels: channels,
		prev:     make([]int32, channels),
	}
}

// process appends the resampled frames of in to dst
func (r *resampler) process(dst, in []int32) []int32 {
	ch := r.channels
	if !r.primed {
		if len(in) < ch {
			return dst
		}
		copy(r.prev, in[:ch])
		in = in[ch:]
		r.primed = true
	}
	frames := len(in) / ch

	// index 0 is the carried frame, index k is in[k-1]
	at := func(k, c int) int32 {
		if k == 0 {
			return r.prev[c]
		}
		return in[(k-1)*ch+c]
	}

	for {
		i := int(r.pos)
		if i >= frames {
			break
		}
		frac := r.pos - float64(i)
		for c := 0; c < ch; c++ {
			a, b := at(i, c), at(i+1, c)
			dst = append(dst, int32(math.Round(float64(a)*(1-frac)+float64(b)*frac)))
		}
		r.pos += r.ratio
	}

	r.pos -= float64(frames)
	if frames > 0 {
		copy(r.prev, in[(frames-1)*ch:frames*ch])
	}
	return dst
}

var _ io.Reader = (*converter)(nil)
