// Package voice orchestrates the turn pipeline: capture, transcribe, infer,
// synthesize, play.
package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/merithbot/merith/internal/audio"
	"github.com/merithbot/merith/internal/observability"
	"github.com/merithbot/merith/internal/protocol"
	"github.com/merithbot/merith/internal/session"
)

// Capturer records one utterance from the microphone.
type Capturer interface {
	Capture(ctx context.Context) (audio.Clip, error)
}

// Transcriber turns an utterance into normalized text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// Completer produces the assistant reply for a user utterance.
type Completer interface {
	Complete(ctx context.Context, persona, userText string) (string, error)
}

// Synthesizer renders reply text as audio at the playback rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// PlaybackSink delivers a rendered clip to the session's output.
type PlaybackSink interface {
	Play(ctx context.Context, clip audio.Clip) error
}

// SinkFactory builds the playback sink for a session. The call sink streams
// frames into the session's outbound channel; speaker and null sinks ignore
// the arguments.
type SinkFactory func(sessionID string, outbound chan<- any) PlaybackSink

// Turn outcomes as reported in turn_ended events and metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeNoSpeech  = "no_speech"
	OutcomeFallback  = "fallback"
	OutcomeCancelled = "cancelled"
)

type Controller struct {
	sessions *session.Manager
	capture  Capturer
	stt      Transcriber
	brain    Completer
	tts      Synthesizer
	newSink  SinkFactory
	metrics  *observability.Metrics
	log      *log.Logger

	// idleDelay is the pause between the end of one turn and the next
	// listen window.
	idleDelay time.Duration
}

func NewController(
	sessions *session.Manager,
	capture Capturer,
	stt Transcriber,
	brain Completer,
	tts Synthesizer,
	newSink SinkFactory,
	metrics *observability.Metrics,
	logger *log.Logger,
) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		sessions:  sessions,
		capture:   capture,
		stt:       stt,
		brain:     brain,
		tts:       tts,
		newSink:   newSink,
		metrics:   metrics,
		log:       logger.With("component", "controller"),
		idleDelay: 200 * time.Millisecond,
	}
}

// RunSession drives the turn loop for one session until ctx ends, the bridge
// sends a leave, or the session is torn down. Inbound control messages are
// handled concurrently with the running turn so an interrupt cancels the
// in-flight stage promptly.
func (c *Controller) RunSession(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := c.newSink(sess.ID, outbound)
	logger := c.log.With("session", sess.ID, "guild", sess.GuildID)

	var turnMu sync.Mutex
	var turnCancel context.CancelFunc
	cancelActiveTurn := func() {
		turnMu.Lock()
		if turnCancel != nil {
			turnCancel()
		}
		turnMu.Unlock()
	}

	go func() {
		for {
			select {
			case <-sessCtx.Done():
				return
			case msg, ok := <-inbound:
				if !ok {
					cancel()
					return
				}
				ctrl, ok := msg.(protocol.ClientControl)
				if !ok {
					continue
				}
				_ = c.sessions.Touch(sess.ID)
				switch ctrl.Action {
				case protocol.ActionInterrupt:
					logger.Info("turn interrupted by bridge")
					c.metrics.SessionEvents.WithLabelValues("interrupt").Inc()
					cancelActiveTurn()
				case protocol.ActionLeave:
					logger.Info("leave requested by bridge")
					c.metrics.SessionEvents.WithLabelValues("leave").Inc()
					cancel()
				}
			}
		}
	}()

	c.emit(outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "session_ready",
	})

	for sessCtx.Err() == nil {
		turnCtx, tcancel := context.WithCancel(sessCtx)
		turnMu.Lock()
		turnCancel = tcancel
		turnMu.Unlock()

		err := c.RunTurn(turnCtx, sess, sink, outbound)

		turnMu.Lock()
		turnCancel = nil
		turnMu.Unlock()
		tcancel()

		if errors.Is(err, session.ErrEnded) || errors.Is(err, session.ErrNotFound) {
			break
		}

		select {
		case <-sessCtx.Done():
		case <-time.After(c.idleDelay):
		}
	}

	// Leave and disconnect both destroy the session; a bridge that comes
	// back joins fresh. An HTTP delete or the janitor may have gotten
	// there first.
	if cur, err := c.sessions.Get(sess.ID); err == nil && cur.Status == session.StatusActive {
		_, _ = c.sessions.End(sess.ID)
		c.metrics.SessionEvents.WithLabelValues("ended").Inc()
		c.metrics.ActiveSessions.Set(float64(c.sessions.ActiveCount()))
	}
	logger.Info("session ended")
	return nil
}

// RunTurn executes one full pipeline turn. The turn always ends with the
// session back in Idle; errors inside the pipeline surface to the bridge as
// fallback replies or error events rather than as a returned error. The
// returned error is reserved for cancellation and session teardown.
func (c *Controller) RunTurn(ctx context.Context, sess *session.Session, sink PlaybackSink, out chan<- any) error {
	turnID := uuid.NewString()
	if err := c.sessions.BeginTurn(sess.ID, turnID); err != nil {
		return err
	}

	turnStart := time.Now()
	outcome := OutcomeCompleted
	defer func() {
		_ = c.sessions.EndTurn(sess.ID)
		c.emitState(out, sess.ID, turnID, session.StateIdle)
		c.emit(out, protocol.TurnEnded{
			Type:      protocol.TypeTurnEnded,
			SessionID: sess.ID,
			TurnID:    turnID,
			Outcome:   outcome,
		})
		c.metrics.Turns.WithLabelValues(outcome).Inc()
		if outcome == OutcomeCompleted {
			c.metrics.ObserveStage("turn_total", time.Since(turnStart))
		}
	}()

	logger := c.log.With("session", sess.ID, "turn", turnID)

	// Listening.
	c.emitState(out, sess.ID, turnID, session.StateListening)
	captureStart := time.Now()
	clip, err := c.capture.Capture(ctx)
	if err != nil {
		outcome = c.failTurn(ctx, out, sess, turnID, sink, "capture", err)
		return ctxErrOnly(ctx)
	}
	c.metrics.ObserveStage("capture", time.Since(captureStart))

	// Transcribing.
	if err := c.advance(out, sess.ID, turnID, session.StateTranscribing); err != nil {
		outcome = OutcomeCancelled
		return err
	}
	stageStart := time.Now()
	transcript, err := c.stt.Transcribe(ctx, clip)
	if err != nil {
		outcome = c.failTurn(ctx, out, sess, turnID, sink, "transcribe", err)
		return ctxErrOnly(ctx)
	}
	c.metrics.ObserveStage("transcribe", time.Since(stageStart))
	c.emit(out, protocol.Transcript{
		Type:      protocol.TypeTranscript,
		SessionID: sess.ID,
		TurnID:    turnID,
		Text:      transcript,
	})
	logger.Info("utterance transcribed", "text", transcript)

	// Inferring.
	if err := c.advance(out, sess.ID, turnID, session.StateInferring); err != nil {
		outcome = OutcomeCancelled
		return err
	}
	stageStart = time.Now()
	reply, err := c.brain.Complete(ctx, sess.Persona, transcript)
	if err != nil {
		outcome = c.failTurn(ctx, out, sess, turnID, sink, "infer", err)
		return ctxErrOnly(ctx)
	}
	c.metrics.ObserveStage("infer", time.Since(stageStart))
	c.emit(out, protocol.AssistantReply{
		Type:      protocol.TypeAssistantReply,
		SessionID: sess.ID,
		TurnID:    turnID,
		Text:      reply,
	})

	// Synthesizing.
	if err := c.advance(out, sess.ID, turnID, session.StateSynthesizing); err != nil {
		outcome = OutcomeCancelled
		return err
	}
	stageStart = time.Now()
	replyClip, err := c.tts.Synthesize(ctx, reply)
	if err != nil {
		outcome = c.failTurn(ctx, out, sess, turnID, sink, "synthesize", err)
		return ctxErrOnly(ctx)
	}
	c.metrics.ObserveStage("synthesize", time.Since(stageStart))

	// Playing.
	if err := c.advance(out, sess.ID, turnID, session.StatePlaying); err != nil {
		outcome = OutcomeCancelled
		return err
	}
	stageStart = time.Now()
	if err := sink.Play(ctx, replyClip); err != nil {
		outcome = c.failTurn(ctx, out, sess, turnID, sink, "play", err)
		return ctxErrOnly(ctx)
	}
	c.metrics.ObserveStage("play", time.Since(stageStart))

	logger.Info("turn completed", "duration", time.Since(turnStart))
	return nil
}

// advance moves the session state machine forward and tells the bridge. A
// failure here means the session was ended underneath the turn.
func (c *Controller) advance(out chan<- any, sessionID, turnID string, next session.State) error {
	if err := c.sessions.SetState(sessionID, next); err != nil {
		return err
	}
	c.emitState(out, sessionID, turnID, next)
	return nil
}

// failTurn maps a stage error onto the fallback policy: emit the error to
// the bridge and, when the policy has a spoken apology, synthesize and play
// it. Returns the turn outcome.
func (c *Controller) failTurn(ctx context.Context, out chan<- any, sess *session.Session, turnID string, sink PlaybackSink, stage string, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.metrics.ObserveIndicator("cancelled")
		return OutcomeCancelled
	}

	fb := FallbackFor(err)
	c.metrics.PipelineErrors.WithLabelValues(stage, fb.Code).Inc()

	if fb.Code == CodeNoSpeech {
		c.emit(out, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sess.ID,
			Code:      CodeNoSpeech,
		})
		return OutcomeNoSpeech
	}

	c.log.Error("turn stage failed", "session", sess.ID, "turn", turnID, "stage", stage, "code", fb.Code, "err", err)
	c.emit(out, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sess.ID,
		TurnID:    turnID,
		Code:      fb.Code,
		Source:    stage,
		Detail:    err.Error(),
	})

	if fb.Text != "" {
		c.emit(out, protocol.AssistantReply{
			Type:      protocol.TypeAssistantReply,
			SessionID: sess.ID,
			TurnID:    turnID,
			Text:      fb.Text,
			Fallback:  true,
		})
		c.metrics.ObserveIndicator("fallback")
		if fb.Speak {
			c.speakFallback(ctx, sink, fb.Text)
		}
	}
	return OutcomeFallback
}

// speakFallback renders the canned apology. If synthesis of the apology
// itself fails the turn stays text-only; there is no second fallback.
func (c *Controller) speakFallback(ctx context.Context, sink PlaybackSink, text string) {
	speakCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clip, err := c.tts.Synthesize(speakCtx, text)
	if err != nil {
		c.log.Warn("fallback synthesis failed", "err", err)
		return
	}
	if err := sink.Play(speakCtx, clip); err != nil {
		c.log.Warn("fallback playback failed", "err", err)
	}
}

func (c *Controller) emitState(out chan<- any, sessionID, turnID string, st session.State) {
	c.emit(out, protocol.StateChanged{
		Type:      protocol.TypeStateChanged,
		SessionID: sessionID,
		TurnID:    turnID,
		State:     string(st),
		TSMs:      time.Now().UnixMilli(),
	})
}

// emit sends without blocking the pipeline; the bridge writer drains the
// channel, and a saturated queue drops the message.
func (c *Controller) emit(out chan<- any, msg any) {
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		c.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
	}
}

func ctxErrOnly(ctx context.Context) error {
	return ctx.Err()
}
