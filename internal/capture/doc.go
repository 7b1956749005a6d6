// Package capture provides microphone access for recording sessions.
//
// A Microphone opens a Capture, which delivers raw little-endian 16-bit PCM
// chunks on a channel and exposes the most recent samples through an
// Analyser for silence detection. The PortAudio implementation is compiled
// in with the "portaudio" build tag; without it Open reports ErrUnavailable.
package capture
