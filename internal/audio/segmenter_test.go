package audio

import (
	"testing"
	"time"
)

func testFrame(seq uint64, speakerID, speakerName string) Frame {
	samples := make([]int16, DefaultFrameSize)
	for i := range samples {
		samples[i] = 1000
	}
	return Frame{
		Samples:     samples,
		SampleRate:  DefaultSampleRate,
		Seq:         seq,
		Timestamp:   time.Unix(0, 0).Add(time.Duration(seq) * 32 * time.Millisecond),
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
	}
}

func newTestSegmenter() *Segmenter {
	return NewSegmenter(SegmenterConfig{
		SampleRate:         DefaultSampleRate,
		MinSpeechDuration:  500 * time.Millisecond,
		MinSilenceDuration: 300 * time.Millisecond,
		MaxDuration:        10 * time.Second,
	})
}

func TestSegmenterSpeechThenSilence(t *testing.T) {
	seg := newTestSegmenter()

	if seg.State() != StateIdle {
		t.Fatal("New segmenter should be idle")
	}

	seq := uint64(0)
	for i := 0; i < 20; i++ {
		if out := seg.Process(testFrame(seq, "s1", "Alice"), true); out != nil {
			t.Fatalf("Unexpected segment during speech at frame %d", i)
		}
		seq++
	}

	// 300 ms of silence is 4800 samples: the 10th silent frame closes the segment.
	var result *Segment
	for i := 0; i < 10; i++ {
		result = seg.Process(testFrame(seq, "s1", "Alice"), false)
		seq++
		if i < 9 && result != nil {
			t.Fatalf("Segment closed too early at silent frame %d", i)
		}
	}

	if result == nil {
		t.Fatal("Expected segment after trailing silence")
	}
	if len(result.Samples) != 20*DefaultFrameSize {
		t.Errorf("Expected trailing silence trimmed to %d samples, got %d", 20*DefaultFrameSize, len(result.Samples))
	}
	if result.SpeakerName != "Alice" || result.SpeakerID != "s1" {
		t.Errorf("Unexpected speaker on segment: %s/%s", result.SpeakerID, result.SpeakerName)
	}
	if result.Duration != 640*time.Millisecond {
		t.Errorf("Expected 640ms segment, got %v", result.Duration)
	}
	if seg.State() != StateIdle {
		t.Errorf("Expected idle after segment, got %s", seg.State())
	}
}

func TestSegmenterDropsShortSpeech(t *testing.T) {
	seg := newTestSegmenter()

	seq := uint64(0)
	for i := 0; i < 5; i++ {
		seg.Process(testFrame(seq, "", ""), true)
		seq++
	}
	for i := 0; i < 12; i++ {
		if out := seg.Process(testFrame(seq, "", ""), false); out != nil {
			t.Fatal("Short speech burst should not produce a segment")
		}
		seq++
	}

	stats := seg.GetStats()
	if stats.SegmentsDropped != 1 {
		t.Errorf("Expected 1 dropped segment, got %d", stats.SegmentsDropped)
	}
	if stats.SegmentsCreated != 0 {
		t.Errorf("Expected 0 created segments, got %d", stats.SegmentsCreated)
	}
}

func TestSegmenterSpeakerChangeFlushes(t *testing.T) {
	seg := newTestSegmenter()

	for i := 0; i < 20; i++ {
		seg.Process(testFrame(uint64(i), "a", "Alice"), true)
	}

	out := seg.Process(testFrame(20, "b", "Bob"), true)
	if out == nil {
		t.Fatal("Expected speaker change to close Alice's segment")
	}
	if out.SpeakerName != "Alice" {
		t.Errorf("Expected closed segment to belong to Alice, got %s", out.SpeakerName)
	}
	if len(out.Samples) != 20*DefaultFrameSize {
		t.Errorf("Expected %d samples, got %d", 20*DefaultFrameSize, len(out.Samples))
	}

	// Bob has a single frame, below the minimum speech duration.
	if rest := seg.Flush(); rest != nil {
		t.Error("Expected Bob's single frame to be discarded on flush")
	}
}

func TestSegmenterMaxDuration(t *testing.T) {
	seg := NewSegmenter(SegmenterConfig{
		SampleRate:         DefaultSampleRate,
		MinSpeechDuration:  200 * time.Millisecond,
		MinSilenceDuration: 300 * time.Millisecond,
		MaxDuration:        time.Second,
	})

	var out *Segment
	frames := 0
	for out == nil && frames < 100 {
		out = seg.Process(testFrame(uint64(frames), "", ""), true)
		frames++
	}

	if out == nil {
		t.Fatal("Expected forced cut at max duration")
	}
	// 16000 samples needs 32 frames of 512.
	if frames != 32 {
		t.Errorf("Expected cut on frame 32, got %d", frames)
	}
	if out.SpeakerName != UnknownSpeaker {
		t.Errorf("Expected unlabeled segment to be %q, got %q", UnknownSpeaker, out.SpeakerName)
	}
}

func TestSegmenterFlush(t *testing.T) {
	seg := newTestSegmenter()

	if seg.Flush() != nil {
		t.Error("Flush on idle segmenter should return nil")
	}

	for i := 0; i < 30; i++ {
		seg.Process(testFrame(uint64(i), "a", "Alice"), true)
	}

	out := seg.Flush()
	if out == nil {
		t.Fatal("Expected pending speech to be flushed")
	}
	if out.StartSeq != 0 || out.EndSeq != 29 {
		t.Errorf("Expected seq range 0-29, got %d-%d", out.StartSeq, out.EndSeq)
	}
	if seg.GetStats().SegmentsCreated != 1 {
		t.Errorf("Expected 1 created segment, got %d", seg.GetStats().SegmentsCreated)
	}
}
