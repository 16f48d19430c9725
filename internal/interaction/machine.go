package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/ariadne-labs/ariadne/internal/audio"
	"github.com/ariadne-labs/ariadne/internal/conversation"
	"github.com/ariadne-labs/ariadne/internal/observability"
	"github.com/ariadne-labs/ariadne/internal/protocol"
	"github.com/ariadne-labs/ariadne/internal/utterance"
	"github.com/ariadne-labs/ariadne/internal/vad"
)

// Transcriber resolves one finalized utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, payload utterance.Payload) (string, error)
}

// Responder performs the produce-response step for one transcribed
// utterance, typically via the background context's request/response channel.
type Responder interface {
	Respond(ctx context.Context, sessionID, text string, pageContext json.RawMessage) (string, error)
}

// Broadcaster mirrors state changes and turns to the other contexts.
// Delivery is best-effort; the machine never learns about losses.
type Broadcaster interface {
	Broadcast(from string, msg any)
}

// RespondError carries the retryable hint from the background context's
// error report back into the machine's surfaced event.
type RespondError struct {
	Retryable bool
	Detail    string
}

func (e *RespondError) Error() string { return e.Detail }

type Config struct {
	SessionID         string
	SilenceThreshold  float64
	SilenceDuration   time.Duration
	MinUtteranceBytes int
	SampleRate        int
	RespondingHold    time.Duration
}

type cmdKind int

const (
	cmdInvoke cmdKind = iota
	cmdStop
	cmdSilence
	cmdTranscript
	cmdProduceResponse
	cmdResponse
	cmdRespondingDone
	cmdPageContext
	cmdCancel
	cmdFatal
)

type command struct {
	kind   cmdKind
	gen    uint64
	reason string
	text   string
	result string
	err    error
	blob   json.RawMessage
}

// listening bundles everything the machine tears down when a recording ends:
// the device session consumers, the recorder, and the cancel that stops the
// silence detector.
type listening struct {
	cancel    context.CancelFunc
	session   *audio.Session
	consumers []*audio.Consumer
	recorder  *utterance.Recorder
}

// Machine is the central controller: it owns the lifecycle state, sequences
// the audio/transcription/understanding components, and emits state-change
// events. All transitions run on a single loop, so each transition plus its
// side effects appears atomic to observers; concurrent requests queue up
// rather than interleave.
type Machine struct {
	cfg         Config
	device      audio.Device
	transcriber Transcriber
	responder   Responder
	broadcaster Broadcaster
	metrics     *observability.Metrics
	convo       *conversation.Log

	commands chan command
	events   chan StateChangeEvent
	stateVal atomic.Value

	// Loop-owned; touched only by Run.
	state            State
	gen              uint64
	listen           *listening
	pageContext      json.RawMessage
	respondTimer     *time.Timer
	responseInFlight bool
}

func New(cfg Config, device audio.Device, transcriber Transcriber, responder Responder, broadcaster Broadcaster, metrics *observability.Metrics) *Machine {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = vad.DefaultSilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = vad.DefaultSilenceDuration
	}
	if cfg.MinUtteranceBytes <= 0 {
		cfg.MinUtteranceBytes = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.RespondingHold <= 0 {
		cfg.RespondingHold = 4 * time.Second
	}

	m := &Machine{
		cfg:         cfg,
		device:      device,
		transcriber: transcriber,
		responder:   responder,
		broadcaster: broadcaster,
		metrics:     metrics,
		convo:       conversation.NewLog(),
		commands:    make(chan command, 64),
		events:      make(chan StateChangeEvent, 64),
		state:       StateIdle,
	}
	m.stateVal.Store(StateIdle)
	return m
}

// Invoke requests the IDLE -> LISTENING transition. A no-op while already
// listening; preempts the responding hold when invoked during RESPONDING.
func (m *Machine) Invoke() { m.post(command{kind: cmdInvoke}) }

// Stop requests a manual LISTENING -> THINKING transition.
func (m *Machine) Stop(reason string) { m.post(command{kind: cmdStop, reason: reason}) }

// ProduceResponse triggers the produce-response step explicitly. Guarded: if
// the latest user turn is already answered the step is skipped and the
// machine returns to idle.
func (m *Machine) ProduceResponse() { m.post(command{kind: cmdProduceResponse}) }

// Cancel abandons the current interaction and returns to IDLE without
// recording a turn or surfacing an error.
func (m *Machine) Cancel() { m.post(command{kind: cmdCancel}) }

// Fatal forces a hard reset to IDLE from any state.
func (m *Machine) Fatal(err error) { m.post(command{kind: cmdFatal, err: err}) }

// SetPageContext updates the opaque page-context blob attached to the next
// produce-response round trip.
func (m *Machine) SetPageContext(blob json.RawMessage) {
	m.post(command{kind: cmdPageContext, blob: blob})
}

// State reads the current lifecycle state. Safe off-loop.
func (m *Machine) State() State { return m.stateVal.Load().(State) }

// Events delivers one event per transition. Slow consumers miss events
// rather than stall the machine.
func (m *Machine) Events() <-chan StateChangeEvent { return m.events }

// Conversation exposes the session's append-only log. Only the machine
// mutates it.
func (m *Machine) Conversation() *conversation.Log { return m.convo }

func (m *Machine) post(cmd command) {
	select {
	case m.commands <- cmd:
	default:
		log.Printf("interaction: command queue saturated, dropping kind=%d", cmd.kind)
	}
}

// Run processes commands until ctx is cancelled. Transition requests are
// handled strictly sequentially.
func (m *Machine) Run(ctx context.Context) {
	defer m.hardReset("shutdown")
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.commands:
			m.handle(ctx, cmd)
		}
	}
}

func (m *Machine) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdInvoke:
		m.handleInvoke(ctx)
	case cmdStop:
		m.stopListening(ctx, cmd.reason)
	case cmdSilence:
		if cmd.gen != m.gen {
			return
		}
		m.metrics.ObserveSilence()
		m.stopListening(ctx, "silence")
	case cmdTranscript:
		if cmd.gen != m.gen {
			return
		}
		m.handleTranscript(ctx, cmd)
	case cmdProduceResponse:
		m.produceResponse(ctx)
	case cmdResponse:
		if cmd.gen != m.gen {
			return
		}
		m.handleResponse(cmd)
	case cmdRespondingDone:
		if cmd.gen != m.gen || m.state != StateResponding {
			return
		}
		m.setState(StateIdle, "")
	case cmdPageContext:
		m.pageContext = cmd.blob
	case cmdCancel:
		m.hardReset("cancelled")
	case cmdFatal:
		m.surface("pipeline", "fatal_error", cmd.err, false)
		m.hardReset("fatal error")
	}
}

func (m *Machine) handleInvoke(ctx context.Context) {
	switch m.state {
	case StateListening, StateThinking:
		// Repeating the active transition (or invoking mid-round-trip) must
		// not re-run entry side effects such as a second recording.
		return
	case StateResponding:
		m.stopRespondTimer()
		m.setState(StateIdle, "")
	}

	m.gen++
	gen := m.gen
	m.setState(StateListening, "")

	session, owner, err := audio.Acquire(ctx, m.device)
	if err != nil {
		m.surface("audio", codeForDeviceError(err), err, false)
		m.setState(StateIdle, "")
		return
	}

	consumers := []*audio.Consumer{owner}
	for _, name := range []string{"vad", "recorder"} {
		c, err := session.Retain(name)
		if err != nil {
			for _, held := range consumers {
				held.Release()
			}
			m.surface("audio", codeForDeviceError(err), err, false)
			m.setState(StateIdle, "")
			return
		}
		consumers = append(consumers, c)
	}

	recorder := utterance.NewRecorder(m.cfg.MinUtteranceBytes, m.cfg.SampleRate)
	if err := recorder.Start(session.Chunks()); err != nil {
		for _, held := range consumers {
			held.Release()
		}
		m.surface("recorder", "recorder_start_failed", err, false)
		m.setState(StateIdle, "")
		return
	}

	listenCtx, cancel := context.WithCancel(ctx)
	detector := vad.New(vad.Config{
		SilenceThreshold: m.cfg.SilenceThreshold,
		SilenceDuration:  m.cfg.SilenceDuration,
	})
	go detector.Run(listenCtx, session.Frames())
	go func() {
		select {
		case <-detector.Silence():
			m.post(command{kind: cmdSilence, gen: gen})
		case <-listenCtx.Done():
		}
	}()

	m.listen = &listening{
		cancel:    cancel,
		session:   session,
		consumers: consumers,
		recorder:  recorder,
	}
}

func (m *Machine) stopListening(ctx context.Context, reason string) {
	if m.state != StateListening || m.listen == nil {
		return
	}
	l := m.listen
	m.listen = nil

	// Cancel the detector before touching the recorder so no late silence
	// signal races this transition.
	l.cancel()
	m.setState(StateThinking, reason)

	payload, err := l.recorder.Stop()
	for _, c := range l.consumers {
		c.Release()
	}
	if err != nil {
		m.surface("recorder", "empty_recording", err, false)
		m.setState(StateIdle, "")
		return
	}

	gen := m.gen
	go func() {
		started := time.Now()
		text, err := m.transcriber.Transcribe(ctx, payload)
		m.metrics.ObserveTranscribeLatency(time.Since(started))
		m.post(command{kind: cmdTranscript, gen: gen, text: text, err: err})
	}()
}

func (m *Machine) handleTranscript(ctx context.Context, cmd command) {
	if m.state != StateThinking {
		return
	}
	if cmd.err != nil {
		// Terminal for this utterance; no partial turn is recorded, so a
		// retry from the UI starts clean.
		m.surface("transcription", "transcription_failed", cmd.err, false)
		m.setState(StateIdle, "")
		return
	}

	turn := conversation.NewTurn(conversation.SenderUser, cmd.text)
	m.convo.Append(turn)
	m.broadcastTurn(turn)
	m.produceResponse(ctx)
}

func (m *Machine) produceResponse(ctx context.Context) {
	if m.responseInFlight {
		return
	}

	turn, ok := m.convo.LastUnansweredUserTurn()
	if !ok {
		// Already answered: the step was triggered twice for one utterance.
		// Skip the work and return to rest, but only from the states this
		// step owns. A stale trigger arriving after the user re-invoked must
		// not tear the new recording out from under LISTENING.
		if m.state == StateThinking || m.state == StateResponding {
			m.stopRespondTimer()
			m.setState(StateIdle, "")
		}
		return
	}
	if m.state != StateThinking {
		return
	}

	m.responseInFlight = true
	gen := m.gen
	blob := m.pageContext
	go func() {
		result, err := m.responder.Respond(ctx, m.cfg.SessionID, turn.Text, blob)
		m.post(command{kind: cmdResponse, gen: gen, result: result, err: err})
	}()
}

func (m *Machine) handleResponse(cmd command) {
	m.responseInFlight = false
	if m.state != StateThinking {
		return
	}
	if cmd.err != nil {
		retryable := false
		var respondErr *RespondError
		if errors.As(cmd.err, &respondErr) {
			retryable = respondErr.Retryable
		}
		m.surface("understanding", "understanding_failed", cmd.err, retryable)
		m.setState(StateIdle, "")
		return
	}

	turn := conversation.NewTurn(conversation.SenderBot, cmd.result)
	m.convo.Append(turn)
	m.broadcastTurn(turn)
	m.setState(StateResponding, cmd.result)

	gen := m.gen
	m.respondTimer = time.AfterFunc(m.cfg.RespondingHold, func() {
		m.post(command{kind: cmdRespondingDone, gen: gen})
	})
}

// hardReset releases the audio device, cancels timers, and clears buffered
// chunks before returning to idle.
func (m *Machine) hardReset(reason string) {
	if m.listen != nil {
		m.listen.cancel()
		for _, c := range m.listen.consumers {
			c.Release()
		}
		m.listen = nil
	}
	m.stopRespondTimer()
	m.gen++
	m.responseInFlight = false
	m.setState(StateIdle, reason)
}

func (m *Machine) stopRespondTimer() {
	if m.respondTimer != nil {
		m.respondTimer.Stop()
		m.respondTimer = nil
	}
}

func (m *Machine) setState(s State, msg string) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s
	m.stateVal.Store(s)
	m.metrics.ObserveTransition(string(from), string(s))

	ev := StateChangeEvent{State: s, Message: msg, Timestamp: time.Now().UTC()}
	select {
	case m.events <- ev:
	default:
	}
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(m.cfg.SessionID, protocol.StateChange{
			Type:      protocol.TypeStateChange,
			SessionID: m.cfg.SessionID,
			State:     string(s),
			Message:   msg,
			TSMs:      ev.Timestamp.UnixMilli(),
		})
	}
}

func (m *Machine) broadcastTurn(turn conversation.Turn) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Broadcast(m.cfg.SessionID, protocol.ConversationTurn{
		Type:          protocol.TypeConversationTurn,
		SessionID:     m.cfg.SessionID,
		Sender:        string(turn.Sender),
		Text:          turn.Text,
		CorrelationID: turn.CorrelationID,
		TSMs:          turn.Timestamp.UnixMilli(),
	})
}

func (m *Machine) surface(stage, code string, err error, retryable bool) {
	m.metrics.ObserveError(stage, code)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Broadcast(m.cfg.SessionID, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: m.cfg.SessionID,
		Code:      code,
		Source:    stage,
		Retryable: retryable,
		Detail:    detail,
	})
}

func codeForDeviceError(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceBusy):
		return "device_busy"
	case errors.Is(err, audio.ErrInsecureContext):
		return "insecure_context"
	default:
		return "device_unavailable"
	}
}
