package snd

import (
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the rate the backend expects on the wire.
	SampleRate = 16000
	// Channels is always mono.
	Channels = 1
	// FrameSize is the number of samples per processing frame, about 256ms.
	FrameSize = 4096
	// BytesPerSample of the encoded stream.
	BytesPerSample = 2
)

// Sample converts one float sample to int16 with asymmetric scaling:
// negative values scale by 32768, the rest by 32767, so that -1.0 and 1.0
// map to the full int16 range. Out-of-range input is clamped and NaN is
// treated as silence.
func Sample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Floor(v*32768 + 0.5))
	}
	return int16(math.Floor(v*32767 + 0.5))
}

// Encode turns a frame of float samples into little-endian int16 PCM.
func Encode(samples []float32) []byte {
	return EncodeInto(make([]byte, 0, len(samples)*BytesPerSample), samples)
}

// EncodeInto appends the encoding of samples to dst.
func EncodeInto(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(Sample(s)))
	}
	return dst
}

// DecodeFloat32 reads little-endian float32 samples from b into dst,
// reusing its backing array when it is large enough.
func DecodeFloat32(dst []float32, b []byte) []float32 {
	n := len(b) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return dst
}

// PutFloat32 writes samples into b as little-endian float32.
func PutFloat32(b []byte, samples []float32) {
	for i, s := range samples {
		if (i+1)*4 > len(b) {
			return
		}
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
}
