// Package transcription turns speech audio into transcript entries.
//
// Client talks to an OpenAI-compatible speech-to-text endpoint with
// multipart uploads, bounded concurrency and retry with exponential backoff.
// Transcriber sits in front of it for live meeting audio: it wraps raw PCM in
// a WAV header, rejects audio that is too short, admits one request at a
// time and reports failures as events instead of errors.
package transcription
