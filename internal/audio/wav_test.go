package audio

import (
	"encoding/binary"
	"math"
	"testing"

	goaudio "github.com/go-audio/audio"
)

func sineBuffer(sampleRate, channels int, duration float64) *goaudio.Float32Buffer {
	frames := int(float64(sampleRate) * duration)
	data := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		t := float64(i) / float64(sampleRate)
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = float32(0.5 * math.Sin(2*math.Pi*440*t+float64(ch)))
		}
	}
	return &goaudio.Float32Buffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   data,
	}
}

func TestEncodeWAVHeaderRoundTrip(t *testing.T) {
	rates := []int{8000, 16000, 22050, 44100, 48000}
	channelCounts := []int{1, 2, 6}

	for _, rate := range rates {
		for _, channels := range channelCounts {
			buf := sineBuffer(rate, channels, 0.05)

			encoded, err := EncodeWAV(buf)
			if err != nil {
				t.Fatalf("EncodeWAV(%d Hz, %d ch) failed: %v", rate, channels, err)
			}

			frames := buf.NumFrames()
			dataSize := uint32(frames * channels * 2)

			if len(encoded.Data) != WAVHeaderSize+int(dataSize) {
				t.Errorf("Expected WAV size %d, got %d", WAVHeaderSize+int(dataSize), len(encoded.Data))
			}

			info, err := ReadWAVInfo(encoded.Data)
			if err != nil {
				t.Fatalf("ReadWAVInfo failed: %v", err)
			}

			if info.ChunkSize != 36+dataSize {
				t.Errorf("Expected chunk size %d, got %d", 36+dataSize, info.ChunkSize)
			}
			if info.AudioFormat != 1 {
				t.Errorf("Expected PCM format tag, got %d", info.AudioFormat)
			}
			if info.SampleRate != uint32(rate) {
				t.Errorf("Expected sample rate %d, got %d", rate, info.SampleRate)
			}
			if info.Channels != uint16(channels) {
				t.Errorf("Expected %d channels, got %d", channels, info.Channels)
			}
			if info.ByteRate != uint32(rate*channels*2) {
				t.Errorf("Expected byte rate %d, got %d", rate*channels*2, info.ByteRate)
			}
			if info.BlockAlign != uint16(channels*2) {
				t.Errorf("Expected block align %d, got %d", channels*2, info.BlockAlign)
			}
			if info.BitsPerSample != 16 {
				t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
			}
			if info.Frames != uint32(frames) || encoded.Frames != uint32(frames) {
				t.Errorf("Expected %d frames, got header %d / encoded %d", frames, info.Frames, encoded.Frames)
			}
			if encoded.Channels != uint16(channels) || encoded.SampleRate != uint32(rate) || encoded.BitDepth != 16 {
				t.Errorf("Encoded metadata mismatch: %+v", encoded)
			}
		}
	}
}

func TestEncodeWAVInterleavesSamples(t *testing.T) {
	buf := &goaudio.Float32Buffer{
		Format: &goaudio.Format{NumChannels: 2, SampleRate: 8000},
		Data:   []float32{1, -1, 0.5, -0.5},
	}

	encoded, err := EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	want := []int16{32767, -32768, 16383, -16384}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(encoded.Data[WAVHeaderSize+i*2:]))
		if got != w {
			t.Errorf("Sample %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestQuantizeRangeAndScale(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{in: 0, want: 0},
		{in: 1, want: 32767},
		{in: -1, want: -32768},
		{in: 0.5, want: 16383},
		{in: -0.5, want: -16384},
		{in: 2.5, want: 32767},
		{in: -7, want: -32768},
		{in: float32(math.Inf(1)), want: 32767},
		{in: float32(math.Inf(-1)), want: -32768},
		{in: float32(math.NaN()), want: 0},
	}

	for _, tt := range tests {
		if got := Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}

	// Sweep the whole input range plus overshoot.
	for i := -3000; i <= 3000; i++ {
		s := float32(i) / 1000
		q := Quantize(s)
		if s < 0 && q > 0 || s > 0 && q < 0 {
			t.Fatalf("Quantize(%v) = %d flipped sign", s, q)
		}
		clamped := math.Max(-1, math.Min(1, float64(s)))
		var want int16
		if clamped < 0 {
			want = int16(clamped * 32768)
		} else {
			want = int16(clamped * 32767)
		}
		if q != want {
			t.Fatalf("Quantize(%v) = %d, want %d", s, q, want)
		}
	}
}

func TestEncodeWAVEmptyRecording(t *testing.T) {
	buf := &goaudio.Float32Buffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000}}

	encoded, err := EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(encoded.Data) != WAVHeaderSize {
		t.Errorf("Expected header-only output, got %d bytes", len(encoded.Data))
	}
	if encoded.Duration() != 0 {
		t.Errorf("Expected zero duration, got %f", encoded.Duration())
	}
}

func TestEncodeWAVInvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		buf  *goaudio.Float32Buffer
	}{
		{name: "nil buffer", buf: nil},
		{name: "missing format", buf: &goaudio.Float32Buffer{Data: []float32{0}}},
		{name: "zero channels", buf: &goaudio.Float32Buffer{Format: &goaudio.Format{SampleRate: 8000}, Data: []float32{0}}},
		{name: "zero sample rate", buf: &goaudio.Float32Buffer{Format: &goaudio.Format{NumChannels: 1}, Data: []float32{0}}},
		{name: "partial frame", buf: &goaudio.Float32Buffer{Format: &goaudio.Format{NumChannels: 2, SampleRate: 8000}, Data: []float32{0, 0, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.buf); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestEncodedAudioDuration(t *testing.T) {
	encoded, err := EncodeWAV(sineBuffer(8000, 1, 1.0))
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if math.Abs(encoded.Duration()-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", encoded.Duration())
	}
	if encoded.MimeType() != "audio/wav" {
		t.Errorf("Expected audio/wav, got %s", encoded.MimeType())
	}
}
