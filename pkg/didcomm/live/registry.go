/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package live tracks the single live-delivery session per recipient. The
// registry owns only the sender half of each session channel; the transport
// consumes the receiver half.
package live

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
)

var logger = log.New("mediator/live")

// Deliver failure classes.
var (
	// ErrNotLive means the recipient has no attached session.
	ErrNotLive = errors.New("recipient not live")
	// ErrClosed means the session was closed before the item could be sent.
	ErrClosed = errors.New("live session closed")
)

// Session close reasons, visible to the consumer after the channel closes.
const (
	ReasonDetached   = "detached"
	ReasonDisplaced  = "displaced"
	ReasonTerminated = "terminated"
)

// DefaultBackpressureBound is the per-session outstanding message limit.
const DefaultBackpressureBound = 16

// Delivery is one queued item streamed to a live session.
type Delivery struct {
	ItemID  string
	Message []byte
}

// Session is one recipient's live-delivery attachment.
type Session struct {
	token     string
	recipient string

	mu     sync.Mutex
	ch     chan Delivery
	closed bool
	reason string
}

// Token identifies the session for Detach.
func (s *Session) Token() string { return s.token }

// Recipient returns the recipient DID the session serves.
func (s *Session) Recipient() string { return s.recipient }

// Deliveries is the consumer side of the session. It is closed when the
// session ends; CloseReason then reports why.
func (s *Session) Deliveries() <-chan Delivery { return s.ch }

// CloseReason returns the close reason, or empty while the session is open.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reason
}

// send attempts a non-blocking delivery; a full channel closes the session.
func (s *Session) send(d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	select {
	case s.ch <- d:
		return nil
	default:
		s.closeLocked(ReasonDisplaced)
		return ErrClosed
	}
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked(reason)
}

func (s *Session) closeLocked(reason string) {
	if s.closed {
		return
	}

	s.closed = true
	s.reason = reason
	close(s.ch)
}

// Registry is the live-delivery registry. At most one session exists per
// recipient DID at any time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	bound    int
}

// Option configures the registry.
type Option func(*Registry)

// WithBackpressureBound sets the per-session channel capacity.
func WithBackpressureBound(n int) Option {
	return func(r *Registry) { r.bound = n }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: map[string]*Session{},
		bound:    DefaultBackpressureBound,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Attach registers a new session for the recipient. An existing session is
// closed first with ReasonDisplaced; the displaced session is returned so
// the caller can notify its transport.
func (r *Registry) Attach(recipientDID string) (*Session, *Session) {
	next := &Session{
		token:     uuid.New().String(),
		recipient: recipientDID,
		ch:        make(chan Delivery, r.bound),
	}

	r.mu.Lock()
	prior := r.sessions[recipientDID]
	r.sessions[recipientDID] = next
	r.mu.Unlock()

	if prior != nil {
		prior.close(ReasonDisplaced)
		logger.Infof("displaced live session for %s", recipientDID)
	}

	return next, prior
}

// Deliver streams an item to the recipient's session, if any. A session
// closed by backpressure is removed from the registry.
func (r *Registry) Deliver(recipientDID string, d Delivery) error {
	r.mu.Lock()
	sess := r.sessions[recipientDID]
	r.mu.Unlock()

	if sess == nil {
		return ErrNotLive
	}

	if err := sess.send(d); err != nil {
		r.remove(recipientDID, sess.token)
		return err
	}

	return nil
}

// Detach closes the session identified by token. A stale token (already
// displaced) is a no-op.
func (r *Registry) Detach(recipientDID, token string) {
	r.mu.Lock()
	sess := r.sessions[recipientDID]

	if sess == nil || sess.token != token {
		r.mu.Unlock()
		return
	}

	delete(r.sessions, recipientDID)
	r.mu.Unlock()

	sess.close(ReasonDetached)
}

// CloseAll closes every session, used on connection terminate or shutdown.
func (r *Registry) CloseAll(recipientDIDs ...string) {
	r.mu.Lock()

	var closing []*Session

	if len(recipientDIDs) == 0 {
		for did, sess := range r.sessions {
			closing = append(closing, sess)
			delete(r.sessions, did)
		}
	} else {
		for _, did := range recipientDIDs {
			if sess := r.sessions[did]; sess != nil {
				closing = append(closing, sess)
				delete(r.sessions, did)
			}
		}
	}

	r.mu.Unlock()

	for _, sess := range closing {
		sess.close(ReasonTerminated)
	}
}

// IsLive reports whether the recipient has an attached session.
func (r *Registry) IsLive(recipientDID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions[recipientDID] != nil
}

func (r *Registry) remove(recipientDID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess := r.sessions[recipientDID]; sess != nil && sess.token == token {
		delete(r.sessions, recipientDID)
	}
}
