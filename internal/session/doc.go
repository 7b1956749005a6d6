// Package session implements the recording session controller.
//
// A Controller owns at most one recording session at a time. It acquires
// the microphone, buffers capture chunks, optionally runs the silence
// detector, and on stop encodes the recording as WAV and hands it to a
// VoiceSender. In conversation mode a new session starts a short delay
// after each silence-triggered send completes.
package session
