package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coachkit/voicecoach/internal/config"
	"github.com/coachkit/voicecoach/internal/observability"
	"github.com/coachkit/voicecoach/internal/protocol"
	"github.com/coachkit/voicecoach/internal/session"
	"github.com/coachkit/voicecoach/internal/transcript"
	"github.com/coachkit/voicecoach/internal/voice"
)

var (
	errUnexpectedFirstFrame = errors.New("first frame must be room_join")
	errMissingRoom          = errors.New("room_join without a room name")
)

// Orchestrator runs the turn-taking loop for one connected room.
type Orchestrator interface {
	RunSession(ctx context.Context, s *session.Session, bridge voice.Bridge, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	store        transcript.Store
	metrics      *observability.Metrics
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, store transcript.Store, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		store:        store,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The hosting runtime connects server-to-server and sends no
				// Origin header. Browser origins must match the host unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
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

	r.Get("/v1/rooms/ws", s.handleRoomWS)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/{id}/transcript", s.handleSessionTranscript)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

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

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	turns, err := s.store.SessionTurns(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if turns == nil {
		turns = []transcript.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": turns})
}

// handlePerfLatency reports the rolling turn-stage latency window. Without a
// metrics registry it serves an empty snapshot so dashboards keep working.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	snap := observability.TurnStageSnapshot{Stages: []observability.TurnStageStats{}}
	if s.metrics != nil {
		snap = s.metrics.SnapshotTurnStages()
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleRoomWS owns one hosting-runtime connection. The first frame must be
// room_join; it creates the session and hands the connection to the
// orchestrator. Reader and writer each get their own goroutine so a slow
// client cannot stall turn processing.
func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	join, err := s.awaitRoomJoin(conn)
	if err != nil {
		s.logger.Warn("websocket rejected before join", zap.Error(err))
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "invalid_join",
			Source: "httpapi",
			Detail: err.Error(),
		})
		return
	}

	sess := s.sessions.Create(join.Room, join.UserID)
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	bridge := newWSBridge(outbound, s.cfg.TTSVoiceID, s.cfg.TTSModelID, s.cfg.SpeakAckTimeout)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunSession(ctx, sess, bridge, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))

		parsed, err := protocol.ParseInbound(data)
		if err != nil {
			select {
			case outbound <- protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_message",
				Source: "httpapi",
				Detail: err.Error(),
			}:
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) awaitRoomJoin(conn *websocket.Conn) (protocol.RoomJoin, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.RoomJoin{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseInbound(data)
		if err != nil {
			return protocol.RoomJoin{}, err
		}
		join, ok := parsed.(protocol.RoomJoin)
		if !ok {
			return protocol.RoomJoin{}, errUnexpectedFirstFrame
		}
		if strings.TrimSpace(join.Room) == "" {
			return protocol.RoomJoin{}, errMissingRoom
		}
		return join, nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
