package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultSampleRate is the pipeline sample rate in Hz.
	DefaultSampleRate = 16000
	// DefaultFrameSize is the number of samples per frame (32 ms at 16 kHz).
	DefaultFrameSize = 512
	// BytesPerSample for signed 16-bit PCM.
	BytesPerSample = 2

	// UnknownSpeaker labels audio that arrived without speaker metadata.
	UnknownSpeaker = "Unknown"
)

// Frame is a fixed-length block of signed 16-bit mono samples.
// Frames are handed from stage to stage; a stage either forwards a frame or drops it.
type Frame struct {
	Samples     []int16
	SampleRate  int
	Seq         uint64
	Timestamp   time.Time
	SpeakerID   string
	SpeakerName string
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the frame as little-endian PCM16.
func (f Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 data length must be even (got %d bytes)", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Float32BytesToSamples decodes little-endian IEEE float32 samples in [-1, 1]
// into PCM16, clamping out-of-range values.
func Float32BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 data length must be a multiple of 4 (got %d bytes)", len(data))
	}
	samples := make([]int16, len(data)/4)
	for i := range samples {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		samples[i] = FloatToSample(float64(v))
	}
	return samples, nil
}

// FloatToSample converts a normalized sample to PCM16.
func FloatToSample(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// RMS returns the root-mean-square energy of samples normalized to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SilentFrame returns a zero-filled frame of the given size.
func SilentFrame(size, sampleRate int) Frame {
	return Frame{
		Samples:    make([]int16, size),
		SampleRate: sampleRate,
		Timestamp:  time.Now(),
	}
}
