// Package audio holds the canonical PCM frame type and the helpers that move
// frames between pipeline stages: WAV wrapping, resampling, a bounded
// drop-oldest frame queue, speech segmentation and sequence reordering for
// packetized meeting audio.
package audio
