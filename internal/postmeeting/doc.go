// Package postmeeting automates the work that follows a scheduled meeting.
//
// A Service polls persisted jobs and moves each one through
//
//	pending → detecting_end → fetching_recording → transcribing →
//	generating_summary → sending_email → completed
//
// with failed and skipped as the other terminal states. Every status change
// is written to the job store before the stage's work starts, and each
// stage's artifact (recording, transcript.json, summary.json/html/txt) lands
// in a per-job directory and is recorded on the job once complete.
//
// A failing stage is retried on later ticks; a job is marked failed after
// MaxRetries+1 attempts. Jobs whose meeting end cannot be confirmed within
// the backstop window, jobs with automation disabled and cancelled jobs are
// skipped.
package postmeeting
