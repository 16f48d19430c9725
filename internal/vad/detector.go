package vad

import (
	"context"
	"math"
	"time"

	"github.com/ariadne-labs/ariadne/internal/audio"
)

const (
	// Defaults match the calibration the pipeline shipped with; real floors
	// vary per microphone, so both values come from configuration.
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 2000 * time.Millisecond
)

type Config struct {
	// SilenceThreshold is the normalized RMS energy floor below which a frame
	// counts as silence.
	SilenceThreshold float64
	// SilenceDuration is how long the feed must stay below the floor before
	// the detector signals.
	SilenceDuration time.Duration
}

// Detector watches a live energy-sample feed and signals once after
// SilenceDuration of uninterrupted silence. The timer restarts on activity
// rather than averaging, so natural speech pauses shorter than the window
// never trigger a stop. One detector serves one utterance.
type Detector struct {
	cfg     Config
	silence chan struct{}
}

func New(cfg Config) *Detector {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	return &Detector{cfg: cfg, silence: make(chan struct{})}
}

// Silence is closed exactly once when the silence window elapses. It never
// closes on cancellation or feed teardown.
func (d *Detector) Silence() <-chan struct{} { return d.silence }

// Run consumes frames until the silence window elapses, the feed closes, or
// ctx is cancelled. The internal timer is stopped on every exit path.
func (d *Detector) Run(ctx context.Context, frames <-chan audio.Frame) {
	timer := time.NewTimer(d.cfg.SilenceDuration)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	armed := false
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if RMS(frame.Samples) < d.cfg.SilenceThreshold {
				if !armed {
					timer.Reset(d.cfg.SilenceDuration)
					armed = true
				}
			} else if armed {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				armed = false
			}
		case <-timer.C:
			close(d.silence)
			return
		}
	}
}

// RMS computes root-mean-square energy over normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
