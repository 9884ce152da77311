package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestSamplesBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}

	data := SamplesToBytes(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(data))
	}

	decoded, err := BytesToSamples(data)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}

	if _, err := BytesToSamples([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length input")
	}
}

func TestFloat32BytesToSamples(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 2, -3}
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	samples, err := Float32BytesToSamples(data)
	if err != nil {
		t.Fatalf("Float32BytesToSamples failed: %v", err)
	}

	expected := []int16{0, 32767, -32767, 16384, 32767, -32767}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}

	if _, err := Float32BytesToSamples(make([]byte, 6)); err == nil {
		t.Error("Expected error for misaligned input")
	}
}

func TestDownmix(t *testing.T) {
	stereo := []int16{100, 300, -200, 200, 1000, 0}

	mono := Downmix(stereo, 2)
	expected := []int16{200, 0, 500}
	if len(mono) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(mono))
	}
	for i := range expected {
		if mono[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], mono[i])
		}
	}

	if got := Downmix(stereo, 1); len(got) != len(stereo) {
		t.Error("Mono input should pass through unchanged")
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("RMS of empty input should be 0")
	}
	if RMS(make([]int16, 512)) != 0 {
		t.Error("RMS of silence should be 0")
	}

	samples := make([]int16, 512)
	for i := range samples {
		samples[i] = 1639
	}
	if got := RMS(samples); math.Abs(got-0.05002) > 0.0001 {
		t.Errorf("Expected RMS ~0.05002, got %f", got)
	}
}

func TestFrameDuration(t *testing.T) {
	frame := Frame{Samples: make([]int16, DefaultFrameSize), SampleRate: DefaultSampleRate}
	if frame.Duration() != 32*time.Millisecond {
		t.Errorf("Expected 32ms, got %v", frame.Duration())
	}

	if (Frame{Samples: make([]int16, 10)}).Duration() != 0 {
		t.Error("Frame without sample rate should report zero duration")
	}
}
