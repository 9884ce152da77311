package audio

import (
	"fmt"

	"github.com/gopxl/beep"
)

// ResampleQuality is the interpolation quality handed to beep.Resample.
const ResampleQuality = 4

// sourceBlock is the read size of the beep resampler. The source only ever
// hands out whole blocks until it is closed, so the resampler's look-behind
// buffer stays full.
const sourceBlock = 512

// queueStreamer exposes an appendable PCM16 queue as a beep.Streamer.
type queueStreamer struct {
	samples []int16
	closed  bool
}

func (q *queueStreamer) Stream(buf [][2]float64) (int, bool) {
	if len(q.samples) == 0 {
		return 0, !q.closed
	}
	n := len(buf)
	if n > len(q.samples) {
		n = len(q.samples)
	}
	for i := 0; i < n; i++ {
		v := float64(q.samples[i]) / 32768.0
		buf[i][0] = v
		buf[i][1] = v
	}
	q.samples = append(q.samples[:0], q.samples[n:]...)
	return n, true
}

func (q *queueStreamer) Err() error { return nil }

// StreamResampler converts a continuous mono PCM16 stream between sample
// rates across arbitrarily sized writes. Output is held back until the
// interpolation window of every emitted sample is available, so splitting
// the input differently never changes the total length.
type StreamResampler struct {
	from, to int
	ratio    float64

	src       *queueStreamer
	resampler *beep.Resampler
	buf       [][2]float64

	fed      int
	produced int
	flushed  bool
}

// NewStreamResampler creates a resampler for one stream.
func NewStreamResampler(from, to int) (*StreamResampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", from, to)
	}
	s := &StreamResampler{
		from:  from,
		to:    to,
		ratio: float64(from) / float64(to),
		src:   &queueStreamer{},
		buf:   make([][2]float64, sourceBlock),
	}
	if from != to {
		s.resampler = beep.Resample(ResampleQuality, beep.SampleRate(from), beep.SampleRate(to), s.src)
	}
	return s, nil
}

// From returns the input sample rate.
func (s *StreamResampler) From() int { return s.from }

// Write appends input samples and returns every output sample that can be
// computed so far.
func (s *StreamResampler) Write(samples []int16) []int16 {
	if s.flushed || len(samples) == 0 {
		return nil
	}
	if s.resampler == nil {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	s.src.samples = append(s.src.samples, samples...)
	s.fed += len(samples)

	// Output position p reads input up to int(p*ratio)+quality, which must
	// fall inside a block the source can hand out whole.
	limit := (s.fed/sourceBlock)*sourceBlock - ResampleQuality
	target := s.produced
	for int(float64(target)*s.ratio) < limit {
		target++
	}
	return s.pull(target - s.produced)
}

// Flush ends the stream and returns the remaining output. Later writes are
// ignored.
func (s *StreamResampler) Flush() []int16 {
	if s.flushed {
		return nil
	}
	s.flushed = true
	if s.resampler == nil {
		return nil
	}
	s.src.closed = true

	var out []int16
	for {
		n, ok := s.resampler.Stream(s.buf)
		for i := 0; i < n; i++ {
			out = append(out, FloatToSample(s.buf[i][0]))
		}
		s.produced += n
		if !ok || n == 0 {
			break
		}
	}
	return out
}

func (s *StreamResampler) pull(count int) []int16 {
	if count <= 0 {
		return nil
	}
	out := make([]int16, 0, count)
	for count > 0 {
		chunk := s.buf
		if count < len(chunk) {
			chunk = chunk[:count]
		}
		n, ok := s.resampler.Stream(chunk)
		for i := 0; i < n; i++ {
			out = append(out, FloatToSample(chunk[i][0]))
		}
		s.produced += n
		count -= n
		if !ok || n == 0 {
			break
		}
	}
	return out
}

// Resample converts mono PCM16 from one sample rate to another in one pass.
// Equal rates return a copy of the input.
func Resample(samples []int16, from, to int) ([]int16, error) {
	r, err := NewStreamResampler(from, to)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	out := r.Write(samples)
	out = append(out, r.Flush()...)
	if r.resampler != nil {
		if err := r.resampler.Err(); err != nil {
			return nil, fmt.Errorf("resample %d -> %d: %w", from, to, err)
		}
	}
	return out, nil
}
