package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ariadne-labs/ariadne/internal/bus"
	"github.com/ariadne-labs/ariadne/internal/config"
	"github.com/ariadne-labs/ariadne/internal/instructions"
	"github.com/ariadne-labs/ariadne/internal/observability"
	"github.com/ariadne-labs/ariadne/internal/protocol"
	"github.com/ariadne-labs/ariadne/internal/session"
)

// Server is the gateway between remote UI contexts and per-session pipelines.
// It terminates websockets for the page and content contexts, relays their
// frames onto the session bus, and exposes the session and instruction-archive
// REST surface.
type Server struct {
	cfg      config.Config
	sessions *session.Manager
	store    instructions.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, store instructions.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may drive a session's
				// microphone stream when the gateway is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Get("/v1/session/{id}/conversation", s.handleConversation)

	r.Get("/v1/instructions", s.handleRecentInstructions)
	r.Get("/v1/instructions/{id}/elements", s.handleListElements)
	r.Post("/v1/instructions/{id}/elements", s.handleSaveElement)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_create_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runtime, err := s.sessions.Runtime(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      runtime.Machine.Conversation().Turns(),
	})
}

func (s *Server) handleRecentInstructions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "archive_unavailable", "instruction archive not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sets, err := s.store.RecentSets(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"instruction_sets": sets})
}

func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "archive_unavailable", "instruction archive not configured")
		return
	}
	records, err := s.store.ElementsForSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"elements": records})
}

type saveElementRequest struct {
	StepNumber int             `json:"step_number"`
	StepText   string          `json:"step_text"`
	Element    json.RawMessage `json:"element"`
}

func (s *Server) handleSaveElement(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "archive_unavailable", "instruction archive not configured")
		return
	}
	var req saveElementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.StepNumber <= 0 || len(req.Element) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "step_number and element are required")
		return
	}

	err := s.store.SaveElement(r.Context(), instructions.ElementRecord{
		SetID:      chi.URLParam(r, "id"),
		StepNumber: req.StepNumber,
		StepText:   req.StepText,
		Element:    req.Element,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "saved"})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	contextName := strings.TrimSpace(r.URL.Query().Get("context"))
	if contextName == "" {
		contextName = "page"
	}
	if contextName != "page" && contextName != "content" {
		respondError(w, http.StatusBadRequest, "invalid_context", "context must be page or content")
		return
	}

	runtime, err := s.sessions.Runtime(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	busCtx, err := runtime.Bus.Attach(contextName, 256)
	if err != nil {
		respondError(w, http.StatusConflict, "context_attached", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		busCtx.Detach()
		return
	}
	defer conn.Close()
	defer busCtx.Detach()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Gateway-origin frames (parse errors) share the single writer with the
	// bus traffic.
	local := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-busCtx.Done():
				return
			case msg = <-local:
			case msg = <-busCtx.Inbox():
				if _, isReq := msg.(*bus.Request); isReq {
					// Requests are served by the background context only.
					continue
				}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			s.metrics.ObserveWSMessage("outbound", messageTypeOf(msg))
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueLocal(local, sessionID, "invalid_client_message", err)
			continue
		}

		s.metrics.ObserveWSMessage("inbound", messageTypeOf(parsed))
		_ = s.sessions.Touch(sessionID)

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			// The WAV header of the finalized utterance is stamped with the
			// configured rate, so chunks at any other rate would transcribe
			// as garbage. Reject them at the gateway instead.
			if msg.SampleRate != s.cfg.SampleRate {
				s.queueLocal(local, sessionID, "unsupported_sample_rate",
					fmt.Errorf("chunk sample rate %d, server expects %d", msg.SampleRate, s.cfg.SampleRate))
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				s.queueLocal(local, sessionID, "invalid_audio_chunk", err)
				continue
			}
			var at time.Time
			if msg.TSMs > 0 {
				at = time.UnixMilli(msg.TSMs).UTC()
			}
			runtime.Stream.Push(pcm, at)
		case protocol.ClientControl:
			switch msg.Action {
			case protocol.ActionInvoke:
				runtime.Machine.Invoke()
			case protocol.ActionStop:
				runtime.Machine.Stop(msg.Reason)
			case protocol.ActionCancel:
				runtime.Machine.Cancel()
			}
		case protocol.PageContext:
			runtime.Machine.SetPageContext(msg.Elements)
		}
	}

	cancel()
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) queueLocal(local chan<- any, sessionID, code string, err error) {
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Detail:    err.Error(),
	}
	select {
	case local <- ev:
	default:
		// Writes stay single-threaded; drop when the local queue is saturated.
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) string {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return string(m.Type)
	case protocol.ClientControl:
		return string(m.Type)
	case protocol.PageContext:
		return string(m.Type)
	case protocol.StateChange:
		return string(m.Type)
	case protocol.ConversationTurn:
		return string(m.Type)
	case protocol.ProcessResult:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
