package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
)

const (
	// WAVHeaderSize is the size of the canonical PCM header written by EncodeWAV.
	WAVHeaderSize = 44

	// WAVMimeType is the media type attached to encoded recordings.
	WAVMimeType = "audio/wav"

	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodedAudio is a finished recording ready for upload. It is produced once
// per recording session and must not be modified after encoding.
type EncodedAudio struct {
	Channels   uint16
	SampleRate uint32
	BitDepth   uint16
	Frames     uint32
	Data       []byte
}

// MimeType returns the media type of the encoded container.
func (e *EncodedAudio) MimeType() string {
	return WAVMimeType
}

// Duration returns the playback length of the recording in seconds.
func (e *EncodedAudio) Duration() float64 {
	if e.SampleRate == 0 {
		return 0
	}
	return float64(e.Frames) / float64(e.SampleRate)
}

// Quantize converts a floating point sample to signed 16-bit PCM.
// The sample is clamped to [-1, 1]; negative values scale by 32768 and
// non-negative values by 32767. NaN maps to silence.
func Quantize(sample float32) int16 {
	s := float64(sample)
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// EncodeWAV encodes interleaved floating point PCM into a 16-bit WAV container
func EncodeWAV(buf *goaudio.Float32Buffer) (*EncodedAudio, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("cannot encode audio without a format")
	}

	channels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate

	if channels <= 0 || channels > math.MaxUint16/bytesPerSample {
		return nil, fmt.Errorf("channel count out of range, got %d", channels)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if len(buf.Data)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(buf.Data), channels)
	}

	frames := len(buf.Data) / channels
	dataSize := uint32(len(buf.Data) * bytesPerSample)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * bytesPerSample,
		BlockAlign:    uint16(channels * bytesPerSample),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+int(dataSize)))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = Quantize(s)
	}

	if err := binary.Write(out, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return &EncodedAudio{
		Channels:   uint16(channels),
		SampleRate: uint32(sampleRate),
		BitDepth:   bitsPerSample,
		Frames:     uint32(frames),
		Data:       out.Bytes(),
	}, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds the header fields of a canonical WAV file
type WAVInfo struct {
	ChunkSize     uint32  `json:"chunk_size"`
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	ByteRate      uint32  `json:"byte_rate"`
	BlockAlign    uint16  `json:"block_align"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	DataSize      uint32  `json:"data_size_bytes"`
	Frames        uint32  `json:"frames"`
	Duration      float64 `json:"duration_seconds"`
}

// ReadWAVInfo reads the header of a canonical 44-byte-header WAV file
func ReadWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	info := &WAVInfo{
		ChunkSize:     header.ChunkSize,
		AudioFormat:   header.AudioFormat,
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		ByteRate:      header.ByteRate,
		BlockAlign:    header.BlockAlign,
		BitsPerSample: header.BitsPerSample,
		DataSize:      header.Subchunk2Size,
	}

	if header.BlockAlign > 0 {
		info.Frames = header.Subchunk2Size / uint32(header.BlockAlign)
	}
	if header.SampleRate > 0 {
		info.Duration = float64(info.Frames) / float64(header.SampleRate)
	}

	return info, nil
}
