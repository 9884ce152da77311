// Package meeting turns live meeting audio into transcripts.
//
// A meeting bot or bridge delivers Chunks over UDP or WebSocket. Each session
// owns an Adapter that normalizes chunks into canonical 16 kHz mono frames,
// an energy VAD, a Segmenter grouping speech per speaker, and one
// transcription worker that appends entries to the transcript store.
//
// Sessions idle past the configured timeout are finalized by a background
// cleanup routine: the adapter is flushed, the open segment is transcribed
// and the text transcript is exported.
package meeting
