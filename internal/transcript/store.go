// Package transcript holds the ordered message list of the active conversation.
package transcript

import (
	"errors"
	"fmt"
	"sync"

	"github.com/capitalize-ai/conversational-client/internal/model"
)

var (
	// ErrStaleGeneration is returned when a mutation targets a transcript that
	// has since been replaced.
	ErrStaleGeneration = errors.New("transcript generation is stale")

	ErrNoConversation       = errors.New("no active conversation")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotStreaming         = errors.New("message is not streaming")
	ErrAlreadyStreaming     = errors.New("another message is already streaming")
	ErrDuplicateID          = errors.New("duplicate message id")
	ErrConversationMismatch = errors.New("message belongs to another conversation")
)

// Generation identifies one loaded transcript. It changes on every Replace or
// Clear, so holders of an old value can no longer mutate the store.
type Generation uint64

// ChangeKind describes a store mutation.
type ChangeKind int

const (
	ChangeReplaced ChangeKind = iota + 1
	ChangeAppended
	ChangeContent
	ChangeFinalized
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReplaced:
		return "replaced"
	case ChangeAppended:
		return "appended"
	case ChangeContent:
		return "content"
	case ChangeFinalized:
		return "finalized"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after each mutation.
type Change struct {
	Kind           ChangeKind
	Generation     Generation
	ConversationID string
	Message        model.Message
	// PreviousID is set on ChangeFinalized when the id was rewritten.
	PreviousID model.MessageID
	// Delta is the appended text for ChangeContent.
	Delta string
}

// Store is the transcript of the active conversation.
type Store struct {
	mu             sync.RWMutex
	conversationID string
	active         bool
	gen            Generation
	messages       []model.Message

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// NewStore creates an empty store with no active conversation.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Change))}
}

// Replace makes conversationID active with the given messages and returns the
// new generation. Nothing of the previous transcript survives.
func (s *Store) Replace(conversationID string, msgs []model.Message) Generation {
	cp := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		m.ConversationID = conversationID
		m.Streaming = false
		cp = append(cp, m)
	}

	s.mu.Lock()
	s.gen++
	s.conversationID = conversationID
	s.active = true
	s.messages = cp
	gen := s.gen
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced, Generation: gen, ConversationID: conversationID})
	return gen
}

// Clear drops the active conversation.
func (s *Store) Clear() Generation {
	s.mu.Lock()
	s.gen++
	s.conversationID = ""
	s.active = false
	s.messages = nil
	gen := s.gen
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced, Generation: gen})
	return gen
}

// Active returns the active conversation and the current generation.
func (s *Store) Active() (string, Generation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID, s.gen, s.active
}

// Generation returns the current generation.
func (s *Store) Generation() Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Messages returns a copy of the transcript in order.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Find returns the message with the given id.
func (s *Store) Find(id model.MessageID) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.messages[i], true
	}
	return model.Message{}, false
}

// Streaming returns the message currently being streamed, if any.
func (s *Store) Streaming() (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.Streaming {
			return m, true
		}
	}
	return model.Message{}, false
}

// Append adds messages at the end of the transcript as one operation: either
// all of them are appended or none.
func (s *Store) Append(gen Generation, msgs ...model.Message) error {
	s.mu.Lock()
	if err := s.checkGeneration(gen); err != nil {
		s.mu.Unlock()
		return err
	}

	streaming := s.hasStreaming()
	seen := make(map[model.MessageID]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ConversationID != s.conversationID {
			s.mu.Unlock()
			return fmt.Errorf("append %s: %w", m.ID, ErrConversationMismatch)
		}
		if _, dup := seen[m.ID]; dup || s.indexOf(m.ID) >= 0 {
			s.mu.Unlock()
			return fmt.Errorf("append %s: %w", m.ID, ErrDuplicateID)
		}
		seen[m.ID] = struct{}{}
		if m.Streaming {
			if streaming {
				s.mu.Unlock()
				return ErrAlreadyStreaming
			}
			streaming = true
		}
	}

	s.messages = append(s.messages, msgs...)
	conversationID := s.conversationID
	s.mu.Unlock()

	for _, m := range msgs {
		s.notify(Change{Kind: ChangeAppended, Generation: gen, ConversationID: conversationID, Message: m})
	}
	return nil
}

// AppendContent appends text to a streaming message.
func (s *Store) AppendContent(gen Generation, id model.MessageID, delta string) error {
	s.mu.Lock()
	if err := s.checkGeneration(gen); err != nil {
		s.mu.Unlock()
		return err
	}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("append content %s: %w", id, ErrMessageNotFound)
	}
	if !s.messages[i].Streaming {
		s.mu.Unlock()
		return fmt.Errorf("append content %s: %w", id, ErrNotStreaming)
	}
	s.messages[i].Content += delta
	msg := s.messages[i]
	conversationID := s.conversationID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeContent, Generation: gen, ConversationID: conversationID, Message: msg, Delta: delta})
	return nil
}

// Finalize ends streaming of a message. When serverID is non-empty and the
// message still has a provisional id, the id is rewritten; a server id that
// already belongs to another message is not adopted.
func (s *Store) Finalize(gen Generation, id model.MessageID, serverID string) (model.Message, error) {
	s.mu.Lock()
	if err := s.checkGeneration(gen); err != nil {
		s.mu.Unlock()
		return model.Message{}, err
	}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return model.Message{}, fmt.Errorf("finalize %s: %w", id, ErrMessageNotFound)
	}
	if !s.messages[i].Streaming {
		s.mu.Unlock()
		return model.Message{}, fmt.Errorf("finalize %s: %w", id, ErrNotStreaming)
	}

	var rewriteErr error
	if serverID != "" && id.IsProvisional() {
		next, err := id.Persist(serverID)
		switch {
		case err != nil:
			rewriteErr = err
		case s.indexOf(next) >= 0:
			rewriteErr = fmt.Errorf("adopt %s: %w", next, ErrDuplicateID)
		default:
			s.messages[i].ID = next
		}
	}
	s.messages[i].Streaming = false
	msg := s.messages[i]
	conversationID := s.conversationID
	s.mu.Unlock()

	change := Change{Kind: ChangeFinalized, Generation: gen, ConversationID: conversationID, Message: msg}
	if msg.ID != id {
		change.PreviousID = id
	}
	s.notify(change)
	return msg, rewriteErr
}

// Remove deletes a message from the transcript.
func (s *Store) Remove(gen Generation, id model.MessageID) error {
	s.mu.Lock()
	if err := s.checkGeneration(gen); err != nil {
		s.mu.Unlock()
		return err
	}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrMessageNotFound)
	}
	msg := s.messages[i]
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	conversationID := s.conversationID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRemoved, Generation: gen, ConversationID: conversationID, Message: msg})
	return nil
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn runs on the goroutine that mutated the store.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) checkGeneration(gen Generation) error {
	if !s.active {
		return ErrNoConversation
	}
	if gen != s.gen {
		return ErrStaleGeneration
	}
	return nil
}

func (s *Store) indexOf(id model.MessageID) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) hasStreaming() bool {
	for i := range s.messages {
		if s.messages[i].Streaming {
			return true
		}
	}
	return false
}
