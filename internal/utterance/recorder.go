package utterance

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/ariadne-labs/ariadne/internal/audio"
)

var (
	// ErrEmptyRecording marks a finalized utterance too short to contain
	// speech. It is reported, never retried: the user has to re-record.
	ErrEmptyRecording = errors.New("utterance: recording too short to contain speech")
	ErrAlreadyStarted = errors.New("utterance: recorder already started")
	ErrNotStarted     = errors.New("utterance: recorder not started")
)

// Payload is one finalized utterance: an immutable WAV byte payload plus the
// recording window. Ownership transfers to the transcription client.
type Payload struct {
	Data      []byte
	StartedAt time.Time
	StoppedAt time.Time
}

// Recorder buffers encoded chunks for the duration of one utterance and
// finalizes them into a single payload on stop. A recorder serves exactly one
// recording; it never re-enters the recording state after finalization.
type Recorder struct {
	minBytes   int
	sampleRate int

	mu        sync.Mutex
	started   bool
	finalized bool
	startedAt time.Time
	buf       bytes.Buffer

	payload  Payload
	finalErr error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewRecorder(minBytes, sampleRate int) *Recorder {
	if minBytes <= 0 {
		minBytes = 1
	}
	return &Recorder{
		minBytes:   minBytes,
		sampleRate: sampleRate,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins buffering the encoded-chunk feed. At most one recording may be
// open at a time.
func (r *Recorder) Start(chunks <-chan []byte) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.startedAt = time.Now().UTC()
	r.mu.Unlock()

	go r.collect(chunks)
	return nil
}

func (r *Recorder) collect(chunks <-chan []byte) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			// Capture whatever the device already delivered before the stop.
			for {
				select {
				case chunk, ok := <-chunks:
					if !ok {
						return
					}
					r.write(chunk)
				default:
					return
				}
			}
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			r.write(chunk)
		}
	}
}

func (r *Recorder) write(chunk []byte) {
	r.mu.Lock()
	if !r.finalized {
		r.buf.Write(chunk)
	}
	r.mu.Unlock()
}

// Stop finalizes the recording into one payload. The first call drains the
// collector and seals the result; every later call returns the identical
// payload and error without side effects.
func (r *Recorder) Stop() (Payload, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return Payload{}, ErrNotStarted
	}
	if r.finalized {
		payload, err := r.payload, r.finalErr
		r.mu.Unlock()
		return payload, err
	}
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return r.payload, r.finalErr
	}
	r.finalized = true

	stoppedAt := time.Now().UTC()
	if r.buf.Len() < r.minBytes {
		r.finalErr = ErrEmptyRecording
		return Payload{}, r.finalErr
	}
	r.payload = Payload{
		Data:      audio.EncodeWAVPCM16LE(r.buf.Bytes(), r.sampleRate),
		StartedAt: r.startedAt,
		StoppedAt: stoppedAt,
	}
	return r.payload, nil
}
