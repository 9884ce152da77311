package meeting

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
)

func s16Chunk(speakerID, speakerName string, samples []int16, rate, channels int) Chunk {
	return Chunk{
		SessionID:   "s1",
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Format:      FormatS16LE,
		SampleRate:  rate,
		Channels:    channels,
		Data:        audio.SamplesToBytes(samples),
		Timestamp:   time.Unix(1_700_000_000, 0),
	}
}

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i % 1000)
	}
	return s
}

func newConnectedAdapter() *Adapter {
	a := NewAdapter(AdapterConfig{SampleRate: 16000, FrameSize: 512})
	a.Connect("s1")
	return a
}

func TestReframing(t *testing.T) {
	a := newConnectedAdapter()

	frames, err := a.ProcessIncomingAudio(s16Chunk("u1", "Alice", ramp(1300), 16000, 1))
	if err != nil {
		t.Fatalf("ProcessIncomingAudio failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 full frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f.Samples) != 512 || f.SpeakerName != "Alice" || f.SpeakerID != "u1" || f.Seq != uint64(i+1) {
			t.Errorf("Frame %d: unexpected %d samples, speaker %q/%q, seq %d", i, len(f.Samples), f.SpeakerID, f.SpeakerName, f.Seq)
		}
	}
	if frames[1].Timestamp.Sub(frames[0].Timestamp) != 32*time.Millisecond {
		t.Errorf("Expected frames 32ms apart, got %v", frames[1].Timestamp.Sub(frames[0].Timestamp))
	}
	if frames[1].Samples[0] != 512 {
		t.Errorf("Second frame must continue the stream, got first sample %d", frames[1].Samples[0])
	}

	frames, _ = a.ProcessIncomingAudio(s16Chunk("u1", "Alice", ramp(300), 16000, 1))
	if len(frames) != 1 || frames[0].Samples[0] != 24 {
		t.Errorf("Expected one frame continuing from the pending buffer, got %d", len(frames))
	}
}

func TestSpeakerChangeFlushes(t *testing.T) {
	a := newConnectedAdapter()

	a.ProcessIncomingAudio(s16Chunk("u1", "Alice", ramp(600), 16000, 1))
	frames, err := a.ProcessIncomingAudio(s16Chunk("u2", "Bob", ramp(100), 16000, 1))
	if err != nil {
		t.Fatalf("ProcessIncomingAudio failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected the partial Alice frame, got %d frames", len(frames))
	}
	if frames[0].SpeakerName != "Alice" || len(frames[0].Samples) != 88 {
		t.Errorf("Expected 88 samples from Alice, got %d from %s", len(frames[0].Samples), frames[0].SpeakerName)
	}
	if a.GetStats().PendingSamples != 100 {
		t.Errorf("Expected Bob's 100 samples pending, got %d", a.GetStats().PendingSamples)
	}
}

func TestDisconnectFlushesUnknownSpeaker(t *testing.T) {
	a := newConnectedAdapter()
	a.ProcessIncomingAudio(s16Chunk("", "", ramp(200), 16000, 1))

	frames := a.Disconnect()
	if len(frames) != 1 {
		t.Fatalf("Expected one final frame, got %d", len(frames))
	}
	if frames[0].SpeakerName != audio.UnknownSpeaker || len(frames[0].Samples) != 200 {
		t.Errorf("Unexpected final frame: %d samples from %q", len(frames[0].Samples), frames[0].SpeakerName)
	}

	if a.Connected() {
		t.Error("Adapter must be disconnected")
	}
	if frames := a.Disconnect(); frames != nil {
		t.Error("Second Disconnect must return nothing")
	}
	if _, err := a.ProcessIncomingAudio(s16Chunk("", "", ramp(10), 16000, 1)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestFloatStereoInput(t *testing.T) {
	a := newConnectedAdapter()

	// 512 stereo float frames: left 0.5, right -0.25 -> mono 0.125.
	data := make([]byte, 512*2*4)
	for i := 0; i < 512; i++ {
		binary.LittleEndian.PutUint32(data[i*8:], math.Float32bits(0.5))
		binary.LittleEndian.PutUint32(data[i*8+4:], math.Float32bits(-0.25))
	}

	frames, err := a.ProcessIncomingAudio(Chunk{Format: FormatF32LE, SampleRate: 16000, Channels: 2, Data: data})
	if err != nil {
		t.Fatalf("ProcessIncomingAudio failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	want := int16((int32(audio.FloatToSample(0.5)) + int32(audio.FloatToSample(-0.25))) / 2)
	if frames[0].Samples[0] != want {
		t.Errorf("Expected downmixed sample %d, got %d", want, frames[0].Samples[0])
	}
}

func TestResampledInput(t *testing.T) {
	a := newConnectedAdapter()

	// One second at 48 kHz becomes roughly 31 frames at 16 kHz.
	frames, err := a.ProcessIncomingAudio(s16Chunk("u1", "Alice", make([]int16, 48000), 48000, 1))
	if err != nil {
		t.Fatalf("ProcessIncomingAudio failed: %v", err)
	}
	if len(frames) < 30 || len(frames) > 32 {
		t.Errorf("Expected ~31 frames, got %d", len(frames))
	}
}

func TestResampledInputOddChunks(t *testing.T) {
	a := newConnectedAdapter()

	// One second at 48 kHz in 100-sample chunks, which do not divide the 3:1 ratio.
	var frames []audio.Frame
	for i := 0; i < 480; i++ {
		got, err := a.ProcessIncomingAudio(s16Chunk("u1", "Alice", ramp(100), 48000, 1))
		if err != nil {
			t.Fatalf("ProcessIncomingAudio failed: %v", err)
		}
		frames = append(frames, got...)
	}
	frames = append(frames, a.Disconnect()...)

	total := 0
	for _, f := range frames {
		total += len(f.Samples)
	}
	if total < 15999 || total > 16001 {
		t.Errorf("Expected ~16000 samples at 16 kHz, got %d", total)
	}

	last := frames[len(frames)-1]
	end := last.Timestamp.Add(time.Duration(len(last.Samples)) * time.Second / 16000)
	if d := end.Sub(frames[0].Timestamp); d < 999*time.Millisecond || d > 1001*time.Millisecond {
		t.Errorf("Expected frames to span 1s, got %v", d)
	}
}

func TestSpeakerChangeDrainsResampler(t *testing.T) {
	a := newConnectedAdapter()

	frames, _ := a.ProcessIncomingAudio(s16Chunk("u1", "Alice", ramp(300), 48000, 1))
	if len(frames) != 0 {
		t.Fatalf("Expected no full frame yet, got %d", len(frames))
	}

	frames, err := a.ProcessIncomingAudio(s16Chunk("u2", "Bob", ramp(30), 48000, 1))
	if err != nil {
		t.Fatalf("ProcessIncomingAudio failed: %v", err)
	}
	if len(frames) != 1 || frames[0].SpeakerName != "Alice" || len(frames[0].Samples) != 100 {
		t.Fatalf("Expected Alice's 100 resampled samples flushed, got %d frames", len(frames))
	}

	frames = a.Disconnect()
	if len(frames) != 1 || frames[0].SpeakerName != "Bob" || len(frames[0].Samples) != 10 {
		t.Errorf("Expected Bob's 10 samples on disconnect, got %d frames", len(frames))
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"unknown format", Chunk{Format: "opus", SampleRate: 16000, Data: []byte{0, 0}}},
		{"odd s16 length", Chunk{Format: FormatS16LE, SampleRate: 16000, Data: []byte{0, 0, 0}}},
		{"bad f32 length", Chunk{Format: FormatF32LE, SampleRate: 16000, Data: []byte{0, 0, 0, 0, 0}}},
		{"zero rate", Chunk{Format: FormatS16LE, Data: []byte{0, 0}}},
		{"channel mismatch", Chunk{Format: FormatS16LE, SampleRate: 16000, Channels: 2, Data: []byte{0, 0, 0, 0, 0, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newConnectedAdapter()
			if _, err := a.ProcessIncomingAudio(tt.chunk); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
