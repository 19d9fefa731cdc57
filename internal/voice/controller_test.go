package voice

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/merithbot/merith/internal/audio"
	"github.com/merithbot/merith/internal/brain"
	"github.com/merithbot/merith/internal/observability"
	"github.com/merithbot/merith/internal/protocol"
	"github.com/merithbot/merith/internal/session"
)

// promauto registers into the global registry, so the package shares one
// metrics instance across tests.
var testMetrics = observability.NewMetrics("voicetest")

type fakeCapture struct {
	clip  audio.Clip
	err   error
	calls atomic.Int32
}

func (f *fakeCapture) Capture(ctx context.Context) (audio.Clip, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	return f.clip, f.err
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return f.text, f.err
}

type fakeBrain struct {
	reply     string
	err       error
	calls     atomic.Int32
	block     chan struct{}
	sawCancel atomic.Bool
}

func (f *fakeBrain) Complete(ctx context.Context, persona, userText string) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-ctx.Done():
			f.sawCancel.Store(true)
			return "", ctx.Err()
		case <-f.block:
		}
	}
	return f.reply, f.err
}

type fakeTTS struct {
	clip  audio.Clip
	err   error
	calls atomic.Int32
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	f.calls.Add(1)
	return f.clip, f.err
}

type recordSink struct {
	plays atomic.Int32
	err   error
}

func (r *recordSink) Play(ctx context.Context, clip audio.Clip) error {
	r.plays.Add(1)
	return r.err
}

func speechClip() audio.Clip {
	return audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000}
}

type harness struct {
	sessions *session.Manager
	sess     *session.Session
	sink     *recordSink
	out      chan any
	ctrl     *Controller
}

func newHarness(t *testing.T, capture Capturer, stt Transcriber, b Completer, tts Synthesizer) *harness {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	sess, err := sessions.Create("guild-1", "chan-1", "persona", "amy.onnx")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	sink := &recordSink{}
	ctrl := NewController(
		sessions, capture, stt, b, tts,
		func(string, chan<- any) PlaybackSink { return sink },
		testMetrics, nil,
	)
	ctrl.idleDelay = 5 * time.Millisecond
	return &harness{
		sessions: sessions,
		sess:     sess,
		sink:     sink,
		out:      make(chan any, 128),
		ctrl:     ctrl,
	}
}

func (h *harness) drain() []any {
	var msgs []any
	for {
		select {
		case m := <-h.out:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func statesOf(msgs []any) []string {
	var states []string
	for _, m := range msgs {
		if sc, ok := m.(protocol.StateChanged); ok {
			states = append(states, sc.State)
		}
	}
	return states
}

func outcomeOf(t *testing.T, msgs []any) string {
	t.Helper()
	for _, m := range msgs {
		if te, ok := m.(protocol.TurnEnded); ok {
			return te.Outcome
		}
	}
	t.Fatalf("no turn_ended event emitted")
	return ""
}

func TestRunTurnHappyPathStateSequence(t *testing.T) {
	h := newHarness(t,
		&fakeCapture{clip: speechClip()},
		&fakeSTT{text: "hello there"},
		&fakeBrain{reply: "hi!"},
		&fakeTTS{clip: audio.Clip{PCM: make([]byte, 960), SampleRate: 48000}},
	)

	if err := h.ctrl.RunTurn(context.Background(), h.sess, h.sink, h.out); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	msgs := h.drain()
	want := []string{"listening", "transcribing", "inferring", "synthesizing", "playing", "idle"}
	got := statesOf(msgs)
	if len(got) != len(want) {
		t.Fatalf("state sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
	if outcomeOf(t, msgs) != OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", outcomeOf(t, msgs))
	}
	if h.sink.plays.Load() != 1 {
		t.Fatalf("plays = %d, want exactly 1", h.sink.plays.Load())
	}

	got2, _ := h.sessions.Get(h.sess.ID)
	if got2.State != session.StateIdle {
		t.Fatalf("session state after turn = %s, want idle", got2.State)
	}
	if got2.TurnCount != 1 {
		t.Fatalf("turn count = %d, want 1", got2.TurnCount)
	}
}

func TestRunTurnSilenceSkipsInference(t *testing.T) {
	b := &fakeBrain{reply: "unused"}
	h := newHarness(t,
		&fakeCapture{err: fmt.Errorf("capture: %w", audio.ErrNoSpeech)},
		&fakeSTT{}, b, &fakeTTS{},
	)

	if err := h.ctrl.RunTurn(context.Background(), h.sess, h.sink, h.out); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	msgs := h.drain()
	if b.calls.Load() != 0 {
		t.Fatalf("inference called %d times on silence, want 0", b.calls.Load())
	}
	if h.sink.plays.Load() != 0 {
		t.Fatalf("plays = %d on silence, want 0", h.sink.plays.Load())
	}
	if outcomeOf(t, msgs) != OutcomeNoSpeech {
		t.Fatalf("outcome = %q, want no_speech", outcomeOf(t, msgs))
	}
}

func TestRunTurnRejectsOverlap(t *testing.T) {
	h := newHarness(t,
		&fakeCapture{clip: speechClip()},
		&fakeSTT{text: "hi"},
		&fakeBrain{reply: "hi"},
		&fakeTTS{clip: audio.Clip{PCM: []byte{0, 0}, SampleRate: 48000}},
	)

	if err := h.sessions.BeginTurn(h.sess.ID, "existing-turn"); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	err := h.ctrl.RunTurn(context.Background(), h.sess, h.sink, h.out)
	if !errors.Is(err, session.ErrTurnInFlight) {
		t.Fatalf("RunTurn error = %v, want ErrTurnInFlight", err)
	}
	if h.sink.plays.Load() != 0 {
		t.Fatalf("rejected turn still played audio")
	}
}

func TestRunTurnTeardownDuringInferenceCancels(t *testing.T) {
	b := &fakeBrain{block: make(chan struct{})}
	h := newHarness(t,
		&fakeCapture{clip: speechClip()},
		&fakeSTT{text: "hi"},
		b,
		&fakeTTS{clip: audio.Clip{PCM: []byte{0, 0}, SampleRate: 48000}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.RunTurn(ctx, h.sess, h.sink, h.out)
	}()

	// Wait for the turn to reach the inference stage, then tear down.
	deadline := time.After(2 * time.Second)
	for b.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("turn never reached inference")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunTurn error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunTurn did not return after cancel")
	}
	if !b.sawCancel.Load() {
		t.Fatalf("in-flight inference was not cancelled")
	}
	got, _ := h.sessions.Get(h.sess.ID)
	if got.State != session.StateIdle {
		t.Fatalf("session state after teardown = %s, want idle", got.State)
	}
	if h.sink.plays.Load() != 0 {
		t.Fatalf("cancelled turn still played audio")
	}
}

func TestRunTurnBrainFailureSpeaksFallback(t *testing.T) {
	tts := &fakeTTS{clip: audio.Clip{PCM: []byte{0, 0}, SampleRate: 48000}}
	h := newHarness(t,
		&fakeCapture{clip: speechClip()},
		&fakeSTT{text: "hi"},
		&fakeBrain{err: fmt.Errorf("%w: connection refused", brain.ErrEndpointUnreachable)},
		tts,
	)

	if err := h.ctrl.RunTurn(context.Background(), h.sess, h.sink, h.out); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	msgs := h.drain()
	if outcomeOf(t, msgs) != OutcomeFallback {
		t.Fatalf("outcome = %q, want fallback", outcomeOf(t, msgs))
	}

	var sawError, sawFallbackReply bool
	for _, m := range msgs {
		switch ev := m.(type) {
		case protocol.ErrorEvent:
			if ev.Code == CodeEndpointUnreachable {
				sawError = true
			}
		case protocol.AssistantReply:
			if ev.Fallback && ev.Text != "" {
				sawFallbackReply = true
			}
		}
	}
	if !sawError {
		t.Fatalf("no error event for unreachable endpoint")
	}
	if !sawFallbackReply {
		t.Fatalf("no fallback reply emitted")
	}
	if h.sink.plays.Load() != 1 {
		t.Fatalf("fallback plays = %d, want 1", h.sink.plays.Load())
	}
}

func TestRunTurnFallbackSynthesisFailureStaysTextOnly(t *testing.T) {
	h := newHarness(t,
		&fakeCapture{clip: speechClip()},
		&fakeSTT{text: "hi"},
		&fakeBrain{err: fmt.Errorf("%w: boom", brain.ErrEndpointUnreachable)},
		&fakeTTS{err: errors.New("no voice")},
	)

	if err := h.ctrl.RunTurn(context.Background(), h.sess, h.sink, h.out); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	msgs := h.drain()
	if outcomeOf(t, msgs) != OutcomeFallback {
		t.Fatalf("outcome = %q, want fallback", outcomeOf(t, msgs))
	}
	if h.sink.plays.Load() != 0 {
		t.Fatalf("played audio despite failed fallback synthesis")
	}
}

func TestRunSessionLeaveStopsLoop(t *testing.T) {
	h := newHarness(t,
		&fakeCapture{err: fmt.Errorf("capture: %w", audio.ErrNoSpeech)},
		&fakeSTT{}, &fakeBrain{}, &fakeTTS{},
	)

	inbound := make(chan any, 1)
	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.RunSession(context.Background(), h.sess, inbound, h.out)
	}()

	time.Sleep(30 * time.Millisecond)
	inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: h.sess.ID,
		Action:    protocol.ActionLeave,
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSession: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunSession did not stop on leave")
	}
}

func TestRunSessionLeaveDestroysSession(t *testing.T) {
	h := newHarness(t,
		&fakeCapture{err: fmt.Errorf("capture: %w", audio.ErrNoSpeech)},
		&fakeSTT{}, &fakeBrain{}, &fakeTTS{},
	)

	inbound := make(chan any, 1)
	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.RunSession(context.Background(), h.sess, inbound, h.out)
	}()

	time.Sleep(30 * time.Millisecond)
	inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: h.sess.ID,
		Action:    protocol.ActionLeave,
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RunSession did not stop on leave")
	}

	got, err := h.sessions.Get(h.sess.ID)
	if err != nil {
		t.Fatalf("Get after leave: %v", err)
	}
	if got.Status != session.StatusEnded {
		t.Fatalf("status after leave = %s, want ended", got.Status)
	}
	if _, err := h.sessions.Create("guild-1", "chan-1", "persona", "amy.onnx"); err != nil {
		t.Fatalf("rejoin for the same guild after leave: %v", err)
	}
}

func TestRunSessionDisconnectDestroysSession(t *testing.T) {
	h := newHarness(t,
		&fakeCapture{err: fmt.Errorf("capture: %w", audio.ErrNoSpeech)},
		&fakeSTT{}, &fakeBrain{}, &fakeTTS{},
	)

	inbound := make(chan any)
	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.RunSession(context.Background(), h.sess, inbound, h.out)
	}()

	// A closed inbound channel is how the gateway signals disconnect.
	time.Sleep(30 * time.Millisecond)
	close(inbound)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RunSession did not stop on disconnect")
	}

	got, err := h.sessions.Get(h.sess.ID)
	if err != nil {
		t.Fatalf("Get after disconnect: %v", err)
	}
	if got.Status != session.StatusEnded {
		t.Fatalf("status after disconnect = %s, want ended", got.Status)
	}
	if _, err := h.sessions.Create("guild-1", "chan-1", "persona", "amy.onnx"); err != nil {
		t.Fatalf("rejoin for the same guild after disconnect: %v", err)
	}
}

func TestRunSessionInterruptCancelsActiveTurn(t *testing.T) {
	b := &fakeBrain{block: make(chan struct{})}
	h := newHarness(t,
		&fakeCapture{clip: speechClip()},
		&fakeSTT{text: "hi"},
		b,
		&fakeTTS{clip: audio.Clip{PCM: []byte{0, 0}, SampleRate: 48000}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 1)
	go func() { _ = h.ctrl.RunSession(ctx, h.sess, inbound, h.out) }()

	deadline := time.After(2 * time.Second)
	for b.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("session never reached inference")
		case <-time.After(time.Millisecond):
		}
	}

	inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: h.sess.ID,
		Action:    protocol.ActionInterrupt,
	}

	deadline = time.After(2 * time.Second)
	for !b.sawCancel.Load() {
		select {
		case <-deadline:
			t.Fatalf("interrupt did not cancel the in-flight turn")
		case <-time.After(time.Millisecond):
		}
	}

	// Interrupt only stops the turn; the session stays joined.
	got, err := h.sessions.Get(h.sess.ID)
	if err != nil {
		t.Fatalf("Get after interrupt: %v", err)
	}
	if got.Status != session.StatusActive {
		t.Fatalf("status after interrupt = %s, want active", got.Status)
	}
}
