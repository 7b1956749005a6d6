// Package audio handles recorded audio on its way to the webhook.
// It accumulates capture chunks into a single blob, decodes that blob into
// linear PCM by media type, and encodes the PCM into a 16-bit RIFF/WAVE container.
package audio
