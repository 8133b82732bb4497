// Package reconcile applies decoded stream events to one assistant message of
// the transcript.
package reconcile

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/internal/transcript"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

// State is the lifecycle of one reply.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further event can be applied.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// ErrDetached is the failure of a reconciler whose transcript was replaced
// while the reply was streaming.
var ErrDetached = errors.New("reply detached from transcript")

// StreamError is a failure reported by the server inside the stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "server reported a stream error"
	}
	return "server error: " + e.Message
}

// Reconciler drives one placeholder message from Idle to a terminal state.
// It is not safe for concurrent use; events must be applied in arrival order.
type Reconciler struct {
	store  *transcript.Store
	gen    transcript.Generation
	target model.MessageID

	state  State
	err    error
	result model.Message
	chunks int

	logger *logger.Logger
}

// New creates a reconciler for the placeholder target appended to store at
// generation gen.
func New(store *transcript.Store, gen transcript.Generation, target model.MessageID, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		gen:    gen,
		target: target,
		logger: logger.OrGlobal(log).With(zap.Stringer("message_id", target)),
	}
}

// State returns the current state.
func (r *Reconciler) State() State { return r.state }

// Err returns the cause of a Failed state.
func (r *Reconciler) Err() error { return r.err }

// Chunks returns how many chunk events were applied.
func (r *Reconciler) Chunks() int { return r.chunks }

// Result returns the finalized message. It is only meaningful in StateFinalized.
func (r *Reconciler) Result() model.Message { return r.result }

// Apply applies one event and returns the resulting state. Events arriving
// after a terminal state are ignored.
func (r *Reconciler) Apply(ev model.Event) State {
	if r.state.Terminal() {
		r.logger.Debug("ignoring late event",
			zap.String("type", string(ev.Type())),
			zap.Stringer("state", r.state),
		)
		return r.state
	}
	if r.state == StateIdle {
		r.state = StateStreaming
	}

	switch e := ev.(type) {
	case model.ChunkEvent:
		if err := r.store.AppendContent(r.gen, r.target, e.Content); err != nil {
			r.fail(fmt.Errorf("apply chunk: %w", err))
			break
		}
		r.chunks++
	case model.EndEvent:
		r.finalize(e.ServerID())
	case model.ErrorEvent:
		r.abandon(&StreamError{Message: e.Message})
	default:
		r.logger.Warn("ignoring unsupported event", zap.String("type", string(ev.Type())))
	}
	return r.state
}

// Resolve applies a complete reply in one step: its content, then its server
// id, as a single synthetic end.
func (r *Reconciler) Resolve(rec model.MessageRecord) State {
	if r.state.Terminal() {
		return r.state
	}
	r.state = StateStreaming
	if rec.Content != "" {
		if err := r.store.AppendContent(r.gen, r.target, rec.Content); err != nil {
			r.fail(fmt.Errorf("apply reply: %w", err))
			return r.state
		}
	}
	r.finalize(rec.ID.String())
	return r.state
}

// Complete signals end of input. A reply still streaming is finalized with
// the content accumulated so far.
func (r *Reconciler) Complete() State {
	if r.state != StateStreaming {
		return r.state
	}
	r.logger.Debug("stream ended without end event, finalizing", zap.Int("chunks", r.chunks))
	r.finalize("")
	return r.state
}

// Abort fails the reply with cause and removes the placeholder.
func (r *Reconciler) Abort(cause error) State {
	if r.state.Terminal() {
		return r.state
	}
	r.abandon(cause)
	return r.state
}

func (r *Reconciler) finalize(serverID string) {
	msg, err := r.store.Finalize(r.gen, r.target, serverID)
	switch {
	case err == nil:
	case errors.Is(err, transcript.ErrDuplicateID), errors.Is(err, model.ErrEmptyServerID):
		r.logger.Warn("server id not adopted", zap.String("server_id", serverID), zap.Error(err))
	default:
		r.fail(fmt.Errorf("finalize reply: %w", err))
		return
	}
	r.result = msg
	r.state = StateFinalized
}

// abandon removes the placeholder so no partial reply stays visible.
func (r *Reconciler) abandon(cause error) {
	r.state = StateFailed
	r.err = cause
	if err := r.store.Remove(r.gen, r.target); err != nil {
		if detached(err) {
			r.err = fmt.Errorf("%w: %w", ErrDetached, cause)
			return
		}
		r.logger.Warn("failed to remove placeholder", zap.Error(err))
	}
}

func (r *Reconciler) fail(err error) {
	r.state = StateFailed
	if detached(err) {
		r.err = fmt.Errorf("%w: %w", ErrDetached, err)
		r.logger.Debug("transcript replaced, detaching")
		return
	}
	r.err = err
}

func detached(err error) bool {
	return errors.Is(err, transcript.ErrStaleGeneration) || errors.Is(err, transcript.ErrNoConversation)
}
