// Package vad provides energy based silence detection for live recordings.
// It computes the RMS of each time-domain frame, arms a timer when the input
// falls silent and fires a single auto-stop once silence has lasted long enough.
package vad
