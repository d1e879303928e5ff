package audio

import (
	"encoding/binary"
	"math"
)

// levelFloorDB is the RMS level mapped to 0 on the meter
const levelFloorDB = -60.0

// Level returns the RMS level of a little-endian PCM chunk on a 0-100 scale,
// where 0 is at or below -60 dBFS and 100 is full scale.
func Level(chunk []byte, bitDepth int) int {
	bytesPerSample := bitDepth / 8
	if bytesPerSample <= 0 || len(chunk) < bytesPerSample {
		return 0
	}

	var sum float64
	n := len(chunk) / bytesPerSample
	for i := 0; i < n; i++ {
		s := sampleAt(chunk[i*bytesPerSample:], bytesPerSample)
		sum += s * s
	}

	rms := math.Sqrt(sum / float64(n))
	if rms <= 0 {
		return 0
	}

	db := 20 * math.Log10(rms)
	level := int(math.Round((db - levelFloorDB) / -levelFloorDB * 100))
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// sampleAt decodes one sample normalized to [-1, 1]
func sampleAt(b []byte, size int) float64 {
	switch size {
	case 1:
		return (float64(b[0]) - 128) / 128
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float64(v) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}
