/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher routes unpacked messages to protocol services and packs
// their responses back to the proven sender.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/problemreport"
)

var logger = log.New("mediator/dispatcher")

// ErrUnauthenticated is returned when an anonymous message reaches a service
// that requires a proven sender. No DIDComm reply is owed; the transport
// returns a generic failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// Request is the per-message context handed to a protocol service.
type Request struct {
	Message *message.Message
	// SenderDID is the cryptographically proven sender; empty for anoncrypt.
	SenderDID string
	SenderKID string
	// RecipientKID is the mediator key the envelope was decrypted with.
	RecipientKID string
	// Binder attaches live-delivery sessions to the inbound transport; nil
	// when the transport cannot hold a session open.
	Binder SessionBinder
}

// SessionBinder is implemented by streaming transports that can consume
// live-delivery sessions.
type SessionBinder interface {
	Bind(sess *live.Session)
}

// Service is one protocol handler.
type Service interface {
	// Name identifies the protocol for logs and feature discovery.
	Name() string
	// Accept reports whether the service handles the message type.
	Accept(msgType string) bool
	// RequiresAuth reports whether the service needs a proven sender.
	RequiresAuth() bool
	// HandleInbound processes the message; a nil response means
	// fire-and-forget.
	HandleInbound(ctx context.Context, req *Request) (*message.Message, error)
}

// Rotator applies DID rotation claims before dispatch.
type Rotator interface {
	// HandleRotation verifies the from_prior claim and migrates the
	// connection from the prior DID to newDID.
	HandleRotation(ctx context.Context, fromPrior, newDID string) error
}

// Dispatcher is the inbound pipeline: unpack, rotate, dispatch, pack.
type Dispatcher struct {
	packer      *envelope.Packer
	mediatorDID string
	services    []Service
	rotator     Rotator
}

// New builds a dispatcher for the mediator DID. rotator may be nil to
// disable DID rotation handling.
func New(packer *envelope.Packer, mediatorDID string, rotator Rotator, services ...Service) *Dispatcher {
	return &Dispatcher{
		packer:      packer,
		mediatorDID: mediatorDID,
		services:    services,
		rotator:     rotator,
	}
}

// MessageTypes returns every message type the registered services accept,
// for feature discovery.
func (d *Dispatcher) MessageTypes() []string {
	var types []string

	for _, svc := range d.services {
		if lister, ok := svc.(interface{ Types() []string }); ok {
			types = append(types, lister.Types()...)
		}
	}

	return types
}

// Dispatch processes one inbound envelope and returns the packed response,
// or nil when none is owed. Envelope-level failures are returned as errors
// and must not leak to the wire beyond a generic transport status.
func (d *Dispatcher) Dispatch(ctx context.Context, inbound []byte, binder SessionBinder) ([]byte, error) {
	unpacked, err := d.packer.Unpack(ctx, inbound)
	if err != nil {
		return nil, err
	}

	msg := unpacked.Message

	req := &Request{
		Message:      msg,
		SenderDID:    unpacked.From,
		SenderKID:    unpacked.SenderKID,
		RecipientKID: unpacked.RecipientKID,
		Binder:       binder,
	}

	if len(msg.To) > 0 && !msg.AddressedTo(d.mediatorDID) {
		logger.Debugf("message %s not addressed to this mediator", msg.ID)

		return d.reply(ctx, req, problemreport.New(problemreport.CodeNotAddressedHere, "", msg))
	}

	if msg.FromPrior != "" && d.rotator != nil {
		// rotation re-keys stored state; an unproven sender gets no say
		if req.SenderDID == "" {
			logger.Debugf("dropping anonymous rotation claim on message %s", msg.ID)
			return nil, nil
		}

		if rerr := d.rotator.HandleRotation(ctx, msg.FromPrior, req.SenderDID); rerr != nil {
			logger.Warnf("rotation rejected for message %s: %v", msg.ID, rerr)

			return d.reply(ctx, req,
				problemreport.New(problemreport.CodeInvalidRotation, "", msg))
		}
	}

	svc := d.serviceFor(msg.Type)
	if svc == nil {
		if req.SenderDID == "" {
			logger.Debugf("dropping anonymous message of unknown type %s", msg.Type)
			return nil, nil
		}

		return d.reply(ctx, req,
			problemreport.New(problemreport.CodeUnknownMessageType, msg.Type, msg))
	}

	if svc.RequiresAuth() && req.SenderDID == "" {
		return nil, fmt.Errorf("%w: %s requires a proven sender", ErrUnauthenticated, svc.Name())
	}

	resp, err := svc.HandleInbound(ctx, req)
	if err != nil {
		logger.Warnf("%s handler failed for message %s: %v", svc.Name(), msg.ID, err)

		if req.SenderDID == "" {
			return nil, nil
		}

		return d.reply(ctx, req, problemreport.FromError(err, msg))
	}

	if resp == nil {
		return nil, nil
	}

	return d.reply(ctx, req, resp)
}

// reply packs a response back to the proven sender. Anonymous senders get
// nothing.
func (d *Dispatcher) reply(ctx context.Context, req *Request, resp *message.Message) ([]byte, error) {
	if req.SenderDID == "" {
		return nil, nil
	}

	resp.From = d.mediatorDID
	resp.To = []string{req.SenderDID}

	packed, err := d.packer.Pack(ctx, resp, d.mediatorDID, []string{req.SenderDID},
		envelope.PackOptions{})
	if err != nil {
		return nil, fmt.Errorf("pack response: %w", err)
	}

	return packed, nil
}

func (d *Dispatcher) serviceFor(msgType string) Service {
	for _, svc := range d.services {
		if svc.Accept(msgType) {
			return svc
		}
	}

	return nil
}
