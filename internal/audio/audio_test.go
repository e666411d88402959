package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestSilenceLength(t *testing.T) {
	pcm := Silence(100*time.Millisecond, 16000)
	if len(pcm) != 3200 {
		t.Fatalf("Silence() length = %d, want 3200", len(pcm))
	}
	for _, b := range pcm {
		if b != 0 {
			t.Fatalf("Silence() contains non-zero sample")
		}
	}
}

func TestSilenceZeroDuration(t *testing.T) {
	if pcm := Silence(0, 16000); pcm != nil {
		t.Fatalf("Silence(0) = %d bytes, want nil", len(pcm))
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := Silence(10*time.Millisecond, 16000)
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatalf("missing RIFF header")
	}
	if !bytes.Contains(wav[:44], []byte("WAVE")) {
		t.Fatalf("missing WAVE marker")
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
}

func TestRemoteProbeDefaultsToGranted(t *testing.T) {
	p := NewRemoteProbe()
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v, want nil before any report", err)
	}
}

func TestRemoteProbeDenied(t *testing.T) {
	p := NewRemoteProbe()
	p.Report(false)
	if err := p.Acquire(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Acquire() error = %v, want ErrPermissionDenied", err)
	}
	p.Report(true)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() after grant error = %v", err)
	}
}
