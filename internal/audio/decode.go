package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrDecode is returned when a recording cannot be decoded as audio.
var ErrDecode = errors.New("audio decode failed")

// PCMMimeType is the media type of raw little-endian signed 16-bit capture chunks.
// Parameters "rate" and "channels" describe the stream.
const PCMMimeType = "audio/pcm"

// Decoder turns a compressed or containerized recording into float PCM in [-1, 1].
type Decoder interface {
	Decode(ctx context.Context, data []byte, params map[string]string) (*goaudio.Float32Buffer, error)
}

// Decoders selects a Decoder by media type.
type Decoders map[string]Decoder

// DefaultDecoders returns the decoders available without platform codecs.
func DefaultDecoders() Decoders {
	return Decoders{
		"audio/wav":   WAVDecoder{},
		"audio/wave":  WAVDecoder{},
		"audio/x-wav": WAVDecoder{},
		PCMMimeType:   PCMDecoder{},
	}
}

// PCMContentType builds the media type for raw capture chunks.
func PCMContentType(sampleRate, channels int) string {
	return mime.FormatMediaType(PCMMimeType, map[string]string{
		"rate":     strconv.Itoa(sampleRate),
		"channels": strconv.Itoa(channels),
	})
}

// Decode decodes a blob with the decoder registered for its media type.
func (d Decoders) Decode(ctx context.Context, blob Blob) (*goaudio.Float32Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(blob.Data) == 0 {
		return nil, fmt.Errorf("%w: empty recording", ErrDecode)
	}

	mediaType, params, err := mime.ParseMediaType(blob.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: media type %q: %v", ErrDecode, blob.MimeType, err)
	}

	dec, ok := d[strings.ToLower(mediaType)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrDecode, mediaType)
	}

	return dec.Decode(ctx, blob.Data, params)
}

// Transcode decodes a finalized recording and re-encodes it as 16-bit WAV.
func Transcode(ctx context.Context, decoders Decoders, blob Blob) (*EncodedAudio, error) {
	pcm, err := decoders.Decode(ctx, blob)
	if err != nil {
		return nil, err
	}

	encoded, err := EncodeWAV(pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return encoded, nil
}

// WAVDecoder decodes integer PCM WAV files using go-audio.
type WAVDecoder struct{}

// Decode implements Decoder
func (WAVDecoder) Decode(ctx context.Context, data []byte, _ map[string]string) (*goaudio.Float32Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The decoder holds the only reference to the reader and is dropped on return.
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV stream", ErrDecode)
	}

	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: unsupported WAV format tag %d", ErrDecode, dec.WavAudioFormat)
	}

	intBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, bitDepth)
	}

	out := &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			NumChannels: int(dec.NumChans),
			SampleRate:  int(dec.SampleRate),
		},
		Data:           make([]float32, len(intBuf.Data)),
		SourceBitDepth: bitDepth,
	}

	// 8-bit WAV is unsigned, everything wider is signed.
	scale := float32(int64(1) << (bitDepth - 1))
	for i, v := range intBuf.Data {
		if bitDepth == 8 {
			out.Data[i] = float32(v-128) / 128
			continue
		}
		out.Data[i] = float32(v) / scale
	}

	return out, nil
}

// PCMDecoder decodes raw little-endian signed 16-bit PCM.
type PCMDecoder struct{}

// Decode implements Decoder
func (PCMDecoder) Decode(ctx context.Context, data []byte, params map[string]string) (*goaudio.Float32Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("%w: invalid PCM rate %q", ErrDecode, params["rate"])
	}

	channels := 1
	if v, ok := params["channels"]; ok {
		channels, err = strconv.Atoi(v)
		if err != nil || channels <= 0 {
			return nil, fmt.Errorf("%w: invalid PCM channel count %q", ErrDecode, v)
		}
	}

	frameBytes := channels * bytesPerSample
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrDecode, len(data), channels)
	}

	samples := make([]float32, len(data)/bytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 0x8000
	}

	return &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: bitsPerSample,
	}, nil
}
