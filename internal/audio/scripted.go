package audio

import (
	"context"
	"sync"
	"time"
)

// ScriptedDevice replays a fixed sample script on a timer. It stands in for
// a real microphone in tests and in mock runs where no page context is
// attached.
type ScriptedDevice struct {
	OpenErr  error
	Interval time.Duration
	Script   [][]float32
	Chunks   [][]byte
}

func (d *ScriptedDevice) Open(_ context.Context) (Handle, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}

	h := &scriptedHandle{
		frames: make(chan Frame, len(d.Script)+1),
		chunks: make(chan []byte, len(d.Chunks)+1),
		done:   make(chan struct{}),
	}
	go h.replay(d.Script, d.Chunks, interval)
	return h, nil
}

type scriptedHandle struct {
	frames    chan Frame
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (h *scriptedHandle) replay(script [][]float32, chunks [][]byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(h.frames)
	defer close(h.chunks)

	for i := 0; i < len(script) || i < len(chunks); i++ {
		select {
		case <-h.done:
			return
		case now := <-ticker.C:
			if i < len(script) {
				select {
				case h.frames <- Frame{Samples: script[i], At: now}:
				default:
				}
			}
			if i < len(chunks) {
				select {
				case h.chunks <- chunks[i]:
				default:
				}
			}
		}
	}
	<-h.done
}

func (h *scriptedHandle) Frames() <-chan Frame  { return h.frames }
func (h *scriptedHandle) Chunks() <-chan []byte { return h.chunks }

func (h *scriptedHandle) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}
