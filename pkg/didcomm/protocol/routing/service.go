/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package routing implements the routing 2.0 forward protocol: third-party
// envelopes are queued for the mediated recipient named by next and, when a
// live session exists, streamed immediately.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/messagepickup"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
)

var logger = log.New("mediator/protocol/routing")

// ProtocolURI identifies the protocol for feature discovery.
const ProtocolURI = "https://didcomm.org/routing/2.0"

// TypeForward is the forward message type.
const TypeForward = ProtocolURI + "/forward"

// Policy decides whether a forward is accepted. The default accepts all.
type Policy interface {
	AllowForward(ctx context.Context, senderDID, next string) bool
}

type allowAll struct{}

func (allowAll) AllowForward(context.Context, string, string) bool { return true }

// Service handles forward messages. Forwards never produce a response and
// never report errors to the sender.
type Service struct {
	conns     *connection.Store
	mailboxes *mailbox.Store
	sessions  *live.Registry
	pickup    *messagepickup.Service
	policy    Policy
}

// Option configures the service.
type Option func(*Service)

// WithPolicy installs a forward acceptance policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// New creates the routing service. pickup packs live deliveries for queued
// recipients that have a session attached.
func New(conns *connection.Store, mailboxes *mailbox.Store, sessions *live.Registry,
	pickup *messagepickup.Service, opts ...Option) *Service {
	s := &Service{
		conns:     conns,
		mailboxes: mailboxes,
		sessions:  sessions,
		pickup:    pickup,
		policy:    allowAll{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name implements dispatcher.Service.
func (s *Service) Name() string { return "routing" }

// Types lists the message types this service accepts.
func (s *Service) Types() []string { return []string{TypeForward} }

// Accept implements dispatcher.Service.
func (s *Service) Accept(msgType string) bool { return msgType == TypeForward }

// RequiresAuth implements dispatcher.Service. Forwards may be anonymous.
func (s *Service) RequiresAuth() bool { return false }

type forwardBody struct {
	Next string `json:"next"`
}

// HandleInbound implements dispatcher.Service. It always returns a nil
// response; failures are logged and swallowed so nothing about the
// recipient leaks back to the sender.
func (s *Service) HandleInbound(ctx context.Context, req *dispatcher.Request) (*message.Message, error) {
	if err := s.process(ctx, req); err != nil {
		if errors.Is(err, connection.ErrUnknownRecipient) {
			logger.Debugf("dropping forward %s for unrouted recipient", req.Message.ID)
		} else {
			logger.Warnf("dropping forward %s: %v", req.Message.ID, err)
		}
	}

	return nil, nil
}

func (s *Service) process(ctx context.Context, req *dispatcher.Request) error {
	var body forwardBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return err
	}

	if body.Next == "" {
		return fmt.Errorf("forward without next")
	}

	if len(req.Message.Attachments) == 0 {
		return fmt.Errorf("forward without attachment")
	}

	if !s.policy.AllowForward(ctx, req.SenderDID, body.Next) {
		return fmt.Errorf("forward rejected by policy")
	}

	blob, err := req.Message.Attachments[0].Data.Fetch()
	if err != nil {
		return fmt.Errorf("forward attachment: %w", err)
	}

	// the route lock spans the enqueue so a concurrent terminate cannot
	// purge the mailbox and still leave this item behind
	return s.conns.WithRoute(body.Next, func(rec *connection.Record) error {
		itemID, err := s.mailboxes.Enqueue(body.Next, blob)
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		s.tryLiveDeliver(ctx, rec, body.Next, itemID, blob)

		return nil
	})
}

// tryLiveDeliver streams the freshly queued item when the recipient has a
// live session. A NotLive or Closed session leaves the item queued.
func (s *Service) tryLiveDeliver(ctx context.Context, rec *connection.Record,
	next, itemID string, blob []byte) {
	if !s.sessions.IsLive(next) {
		return
	}

	item := mailbox.Item{ID: itemID, Bytes: blob}

	packed, err := s.pickup.PackLiveDelivery(ctx, rec, next, item)
	if err != nil {
		logger.Warnf("failed to pack live delivery for queued item %s: %v", itemID, err)
		return
	}

	err = s.sessions.Deliver(next, live.Delivery{ItemID: itemID, Message: packed})
	if err != nil && !errors.Is(err, live.ErrNotLive) && !errors.Is(err, live.ErrClosed) {
		logger.Warnf("live delivery of item %s failed: %v", itemID, err)
	}
}
