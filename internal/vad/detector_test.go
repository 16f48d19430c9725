package vad

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ariadne-labs/ariadne/internal/audio"
)

func TestRMS(t *testing.T) {
	cases := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"empty", nil, 0},
		{"zeros", []float32{0, 0, 0}, 0},
		{"constant", []float32{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"mixed sign", []float32{0.3, -0.3}, 0.3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RMS(tc.samples)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("RMS(%v) = %v, want %v", tc.samples, got, tc.want)
			}
		})
	}
}

func silentFrame(at time.Time) audio.Frame {
	return audio.Frame{Samples: []float32{0.001, -0.001, 0.002}, At: at}
}

func loudFrame(at time.Time) audio.Frame {
	return audio.Frame{Samples: []float32{0.4, -0.35, 0.42}, At: at}
}

func TestDetectorSignalsAfterUninterruptedSilence(t *testing.T) {
	d := New(Config{SilenceThreshold: 0.01, SilenceDuration: 80 * time.Millisecond})
	frames := make(chan audio.Frame, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, frames)

	start := time.Now()
	frames <- silentFrame(start)

	select {
	case <-d.Silence():
		elapsed := time.Since(start)
		if elapsed < 70*time.Millisecond {
			t.Fatalf("silence signalled after %s, want >= ~80ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for silence signal")
	}
}

func TestDetectorActivityRestartsWindow(t *testing.T) {
	d := New(Config{SilenceThreshold: 0.01, SilenceDuration: 120 * time.Millisecond})
	frames := make(chan audio.Frame, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, frames)

	// Silence almost long enough, then speech just before the window closes.
	frames <- silentFrame(time.Now())
	time.Sleep(80 * time.Millisecond)
	frames <- loudFrame(time.Now())

	select {
	case <-d.Silence():
		t.Fatalf("silence signalled even though speech interrupted the window")
	case <-time.After(160 * time.Millisecond):
	}

	// A fresh qualifying run must still fire.
	restart := time.Now()
	frames <- silentFrame(restart)
	select {
	case <-d.Silence():
		if elapsed := time.Since(restart); elapsed < 100*time.Millisecond {
			t.Fatalf("silence signalled after %s, want a full restarted window", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for restarted silence signal")
	}
}

func TestDetectorSignalsExactlyOnce(t *testing.T) {
	d := New(Config{SilenceThreshold: 0.01, SilenceDuration: 40 * time.Millisecond})
	frames := make(chan audio.Frame, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, frames)

	frames <- silentFrame(time.Now())

	select {
	case <-d.Silence():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for silence signal")
	}

	// The signal channel is closed once; a second receive completes
	// immediately without a second emission.
	select {
	case <-d.Silence():
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("silence channel should stay closed after the signal")
	}
}

func TestDetectorStopsOnCancel(t *testing.T) {
	d := New(Config{SilenceThreshold: 0.01, SilenceDuration: 50 * time.Millisecond})
	frames := make(chan audio.Frame, 1)

	ctx, cancel := context.WithCancel(context.Background())
	frames <- silentFrame(time.Now())
	go d.Run(ctx, frames)
	cancel()

	select {
	case <-d.Silence():
		t.Fatalf("silence signalled after cancellation")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDetectorStopsWhenFeedCloses(t *testing.T) {
	d := New(Config{SilenceThreshold: 0.01, SilenceDuration: 50 * time.Millisecond})
	frames := make(chan audio.Frame)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), frames)
		close(done)
	}()
	close(frames)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after feed close")
	}
}
