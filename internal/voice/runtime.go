package voice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachkit/voicecoach/internal/config"
	"github.com/coachkit/voicecoach/internal/dialogue"
	"github.com/coachkit/voicecoach/internal/observability"
	"github.com/coachkit/voicecoach/internal/protocol"
	"github.com/coachkit/voicecoach/internal/session"
	"github.com/coachkit/voicecoach/internal/transcript"
)

// apologyLine replaces the opening line when the dialogue session could not
// be created, so the room never opens in silence.
const apologyLine = "Sorry, er ging iets mis."

const sendTimeout = 2 * time.Second

// Orchestrator runs the turn-taking loop for voice roleplay sessions. Each
// session gets one goroutine that owns all of its mutable state; the only
// concurrency inside a session is the dispatched backend call and the speech
// playback, both of which report back over channels.
type Orchestrator struct {
	cfg        config.Config
	sessions   *session.Manager
	backend    dialogue.Client
	dispatcher *Dispatcher
	store      transcript.Store
	metrics    *observability.Metrics
	logger     *zap.Logger
	vad        VADProfile
}

func NewOrchestrator(cfg config.Config, sessions *session.Manager, backend dialogue.Client, store transcript.Store, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		backend:    backend,
		dispatcher: NewDispatcher(backend, cfg.MaxReplySentences, logger, metrics),
		store:      store,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "orchestrator")),
		vad:        newVADProfile(cfg),
	}
}

type startResult struct {
	sess dialogue.Session
	err  error
}

// sessionLoop is the per-session mutable state. Only the owning goroutine
// touches it.
type sessionLoop struct {
	o        *Orchestrator
	sess     *session.Session
	bridge   Bridge
	outbound chan<- any
	log      *zap.Logger

	agg *Aggregator

	timer  *time.Timer
	timerC <-chan time.Time

	mediaReady   bool
	dialogueDone bool
	activated    bool
	degraded     bool
	greeting     string
	dialogueID   string

	flushedAt time.Time
}

// RunSession drives one session until the room closes or ctx is cancelled.
// Inbound carries parsed protocol messages in arrival order; outbound carries
// state and turn events back to the transport writer.
func (o *Orchestrator) RunSession(ctx context.Context, sess *session.Session, bridge Bridge, inbound <-chan any, outbound chan<- any) error {
	log := o.logger.With(zap.String("session_id", sess.ID), zap.String("room", sess.Room))
	log.Info("session starting", zap.String("topic", sess.TopicID))

	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
		o.metrics.SessionEvents.WithLabelValues("started").Inc()
		defer o.metrics.ActiveSessions.Dec()
	}

	loop := &sessionLoop{
		o:        o,
		sess:     sess,
		bridge:   bridge,
		outbound: outbound,
		log:      log,
		agg:      NewAggregator(o.cfg.MinTranscriptLength, o.cfg.DebounceInterval),
		greeting: dialogue.FallbackGreeting,
	}

	startCh := make(chan startResult, 1)
	go func() {
		ds, err := o.backend.CreateSession(ctx, sess.TopicID, sess.UserID)
		startCh <- startResult{sess: ds, err: err}
	}()

	done := make(chan TurnResult, 1)

	defer loop.stopTimer()

	for {
		select {
		case <-ctx.Done():
			loop.shutdown("cancelled")
			return ctx.Err()

		case res := <-startCh:
			loop.handleStart(res)

		case msg, ok := <-inbound:
			if !ok {
				loop.shutdown("disconnected")
				return nil
			}
			if closed := loop.handleInbound(msg); closed {
				loop.shutdown("room_close")
				return nil
			}

		case <-loop.timerC:
			loop.timerC = nil
			loop.tryFlush(ctx, done)

		case res := <-done:
			loop.handleTurnResult(res)
		}
	}
}

func (l *sessionLoop) handleStart(res startResult) {
	l.dialogueDone = true
	if res.err != nil {
		l.degraded = true
		// The room must never open in silence; the apology replaces the
		// opening line the backend failed to produce.
		l.greeting = apologyLine
		l.log.Warn("dialogue session creation failed, continuing degraded", zap.Error(res.err))
		if l.o.metrics != nil {
			l.o.metrics.BackendFailures.WithLabelValues(string(dialogue.KindOf(res.err))).Inc()
			l.o.metrics.ObserveTurnIndicator("degraded_start")
		}
	} else {
		l.dialogueID = res.sess.SessionID
		l.greeting = res.sess.Greeting
		l.agg.SetSessionReady(true)
		_ = l.o.sessions.SetDialogueSession(l.sess.ID, res.sess.SessionID)
		// Transcripts that arrived before the backend answered are still
		// buffered; give them a fresh debounce window now.
		if l.agg.HasBuffered() {
			l.resetTimer()
		}
	}
	l.maybeActivate()
}

func (l *sessionLoop) handleInbound(msg any) (closed bool) {
	switch m := msg.(type) {
	case protocol.RoomReady:
		l.mediaReady = true
		l.maybeActivate()

	case protocol.Transcript:
		if !m.IsFinal {
			return false
		}
		_ = l.o.sessions.Touch(l.sess.ID)
		l.agg.Append(m.Text)
		l.resetTimer()

	case protocol.PlaybackDone:
		if acker, ok := l.bridge.(PlaybackAcker); ok {
			acker.AckPlayback(m.TurnID)
		}

	case protocol.RoomClose:
		return true

	default:
		l.log.Debug("ignoring inbound message", zap.Any("message", msg))
	}
	return false
}

// maybeActivate fires once both startup legs have landed: the media room is
// joined and the dialogue session attempt has resolved either way. The
// greeting is never spoken into a room that is not ready yet.
func (l *sessionLoop) maybeActivate() {
	if l.activated || !l.mediaReady || !l.dialogueDone {
		return
	}
	l.activated = true
	_ = l.o.sessions.SetState(l.sess.ID, session.StateActive, l.degraded)
	l.sendState(session.StateActive)

	greeting := l.greeting
	turnID := uuid.NewString()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.o.cfg.SpeakAckTimeout)
		defer cancel()
		if err := l.bridge.Speak(ctx, turnID, greeting); err != nil {
			l.log.Warn("greeting playback failed", zap.Error(err))
		}
	}()
	l.log.Info("session active", zap.Bool("degraded", l.degraded))

	// Transcripts that landed before room_ready were held back; give them a
	// fresh debounce window now that speaking is allowed.
	if l.agg.HasBuffered() {
		l.resetTimer()
	}
}

func (l *sessionLoop) tryFlush(ctx context.Context, done chan<- TurnResult) {
	// No speech I/O before the media join completes. Keep the buffer;
	// maybeActivate re-arms the debounce once the room is ready.
	if !l.activated {
		if l.o.metrics != nil {
			l.o.metrics.FlushOutcomes.WithLabelValues(string(FlushMediaWait)).Inc()
		}
		l.log.Debug("flush deferred until room join")
		return
	}

	now := time.Now()
	text, outcome := l.agg.Flush(now)
	if l.o.metrics != nil {
		l.o.metrics.FlushOutcomes.WithLabelValues(string(outcome)).Inc()
	}
	if outcome != FlushDispatched {
		l.log.Debug("flush refused", zap.String("outcome", string(outcome)))
		return
	}

	turnID := uuid.NewString()
	l.flushedAt = now
	_ = l.o.sessions.StartTurn(l.sess.ID, turnID)
	_ = l.o.sessions.SetState(l.sess.ID, session.StateProcessing, l.degraded)
	l.sendState(session.StateProcessing)
	l.persistTurn(transcript.RoleTrainee, text)

	l.log.Info("dispatching turn", zap.String("turn_id", turnID), zap.Int("chars", len(text)))
	l.o.dispatcher.Dispatch(ctx, l.dialogueID, turnID, text, done)
}

func (l *sessionLoop) handleTurnResult(res TurnResult) {
	l.agg.CompleteTurn(time.Now())
	_ = l.o.sessions.EndTurn(l.sess.ID)
	_ = l.o.sessions.SetState(l.sess.ID, session.StateActive, l.degraded)
	l.sendState(session.StateActive)

	if l.o.metrics != nil {
		result := "ok"
		if res.Err != nil {
			result = "error"
		}
		l.o.metrics.TurnDispatches.WithLabelValues(result).Inc()
		l.o.metrics.ObserveTurnStage("flush_to_reply", res.Elapsed)
	}

	if res.Err != nil {
		// Failed turns stay silent. The trainee just hears nothing and
		// speaks again; an error line would break the roleplay.
		l.log.Warn("turn failed", zap.String("turn_id", res.TurnID), zap.Error(res.Err))
		l.sendTurnEnd(res.TurnID, "error")
		return
	}
	if res.Reply == "" {
		l.sendTurnEnd(res.TurnID, "empty_reply")
		return
	}

	l.persistTurn(transcript.RoleCoach, res.Reply)
	l.speakTurn(res.TurnID, res.Reply, "completed")
}

// speakTurn plays the reply without blocking the session loop and reports
// turn completion once playback finishes.
func (l *sessionLoop) speakTurn(turnID, text, reason string) {
	flushedAt := l.flushedAt
	if l.o.metrics != nil && !flushedAt.IsZero() {
		l.o.metrics.ObserveTurnStage("flush_to_speech_start", time.Since(flushedAt))
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.o.cfg.SpeakAckTimeout)
		defer cancel()
		if err := l.bridge.Speak(ctx, turnID, text); err != nil {
			l.log.Warn("playback failed", zap.String("turn_id", turnID), zap.Error(err))
			l.o.metrics.ObserveTurnIndicator("playback_failed")
		}
		if l.o.metrics != nil && !flushedAt.IsZero() {
			l.o.metrics.ObserveTurnStage("turn_total", time.Since(flushedAt))
		}
		l.sendTurnEnd(turnID, reason)
	}()
}

// shutdown tears the session down in order: no more timers, backend session
// deleted best effort off the loop, registry entry closed.
func (l *sessionLoop) shutdown(reason string) {
	l.stopTimer()
	_ = l.o.sessions.SetState(l.sess.ID, session.StateClosing, l.degraded)

	if l.dialogueID != "" {
		backend := l.o.backend
		dialogueID := l.dialogueID
		log := l.log
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := backend.DeleteSession(ctx, dialogueID); err != nil {
				log.Warn("dialogue session cleanup failed", zap.Error(err))
			}
		}()
	}

	_, _ = l.o.sessions.End(l.sess.ID)
	if l.o.metrics != nil {
		l.o.metrics.SessionEvents.WithLabelValues("closed").Inc()
	}
	l.sendState(session.StateClosed)
	l.log.Info("session closed", zap.String("reason", reason))
}

func (l *sessionLoop) resetTimer() {
	if l.timer == nil {
		l.timer = time.NewTimer(l.o.cfg.DebounceInterval)
		l.timerC = l.timer.C
		return
	}
	if !l.timer.Stop() {
		select {
		case <-l.timer.C:
		default:
		}
	}
	l.timer.Reset(l.o.cfg.DebounceInterval)
	l.timerC = l.timer.C
}

func (l *sessionLoop) stopTimer() {
	if l.timer == nil {
		return
	}
	if !l.timer.Stop() {
		select {
		case <-l.timer.C:
		default:
		}
	}
	l.timerC = nil
}

func (l *sessionLoop) sendState(state string) {
	msg := protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: l.sess.ID,
		State:     state,
		Degraded:  l.degraded,
	}
	if state == session.StateActive {
		msg.VoiceOpts = l.o.vad.Options()
		msg.VoiceOpts.TTSStability = l.o.cfg.TTSStability
		msg.VoiceOpts.TTSSimilarityBoost = l.o.cfg.TTSSimilarityBoost
		msg.VoiceOpts.TTSStyle = l.o.cfg.TTSStyle
		msg.VoiceOpts.TTSSpeed = l.o.cfg.TTSSpeed
	}
	l.send(msg, true)
}

func (l *sessionLoop) sendTurnEnd(turnID, reason string) {
	l.send(protocol.TurnEnd{Type: protocol.TypeTurnEnd, TurnID: turnID, Reason: reason}, false)
}

// send pushes a message to the transport writer. Critical messages wait up
// to sendTimeout; the rest are dropped when the writer is backed up.
func (l *sessionLoop) send(msg any, critical bool) {
	if l.outbound == nil {
		return
	}
	if critical {
		t := time.NewTimer(sendTimeout)
		defer t.Stop()
		select {
		case l.outbound <- msg:
		case <-t.C:
			l.log.Warn("dropped critical outbound message", zap.Any("message", msg))
		}
		return
	}
	select {
	case l.outbound <- msg:
	default:
		l.log.Debug("dropped outbound message")
	}
}

func (l *sessionLoop) persistTurn(role, content string) {
	if l.o.store == nil {
		return
	}
	rec := transcript.TurnRecord{
		SessionID: l.sess.ID,
		Room:      l.sess.Room,
		Role:      role,
		Content:   content,
	}
	store := l.o.store
	log := l.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.SaveTurn(ctx, rec); err != nil {
			log.Warn("turn persistence failed", zap.String("role", role), zap.Error(err))
		}
	}()
}
