package capture

import (
	"testing"
)

func TestRingTimeDomainBeforeFull(t *testing.T) {
	r := NewRing(8)

	dst := make([]float32, 8)
	if n := r.TimeDomain(dst); n != 0 {
		t.Errorf("Expected 0 samples from empty ring, got %d", n)
	}

	r.WriteInt16([]int16{16384, -16384, 0})
	n := r.TimeDomain(dst)
	if n != 3 {
		t.Fatalf("Expected 3 samples, got %d", n)
	}

	expected := []float32{0.5, -0.5, 0}
	for i, v := range expected {
		if dst[i] != v {
			t.Errorf("Sample %d: expected %f, got %f", i, v, dst[i])
		}
	}
}

func TestRingKeepsNewestSamples(t *testing.T) {
	r := NewRing(4)

	in := make([]int16, 10)
	for i := range in {
		in[i] = int16(i * 1000)
	}
	r.WriteInt16(in)

	if r.Len() != 4 {
		t.Errorf("Expected ring length 4, got %d", r.Len())
	}

	dst := make([]float32, 4)
	if n := r.TimeDomain(dst); n != 4 {
		t.Fatalf("Expected 4 samples, got %d", n)
	}
	for i := 0; i < 4; i++ {
		expected := float32((6+i)*1000) / 32768
		if dst[i] != expected {
			t.Errorf("Sample %d: expected %f, got %f", i, expected, dst[i])
		}
	}

	// A shorter destination gets the most recent samples.
	short := make([]float32, 2)
	if n := r.TimeDomain(short); n != 2 {
		t.Fatalf("Expected 2 samples, got %d", n)
	}
	if short[0] != float32(8000)/32768 || short[1] != float32(9000)/32768 {
		t.Errorf("Expected newest two samples, got %v", short)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "stereo", mutate: func(c *Config) { c.Channels = 2 }},
		{name: "zero rate", mutate: func(c *Config) { c.SampleRate = 0 }, expectErr: true},
		{name: "three channels", mutate: func(c *Config) { c.Channels = 3 }, expectErr: true},
		{name: "zero frames", mutate: func(c *Config) { c.FramesPerBuffer = 0 }, expectErr: true},
		{name: "zero chunk buffer", mutate: func(c *Config) { c.ChunkBuffer = 0 }, expectErr: true},
		{name: "zero analyser", mutate: func(c *Config) { c.AnalyserSize = 0 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}
