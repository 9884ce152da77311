// Package vad classifies PCM frames as speech or silence from their energy,
// smoothed over a short trailing window so a single loud frame does not flip
// the state.
package vad
