// Package tts narrates bot replies. Speech is synthesized through an
// ElevenLabs-compatible HTTP API and played with an external player; when no
// API key or voice is configured the Narrator falls back to a local speech
// synthesizer command.
package tts
