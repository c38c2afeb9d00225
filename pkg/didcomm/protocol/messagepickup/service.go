/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package messagepickup implements the messagepickup 3.0 protocol: status,
// batched delivery with explicit acknowledgement, and live delivery mode.
package messagepickup

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/problemreport"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
)

var logger = log.New("mediator/protocol/messagepickup")

// ProtocolURI identifies the protocol for feature discovery.
const ProtocolURI = "https://didcomm.org/messagepickup/3.0"

// Message types handled and produced by this service.
const (
	TypeStatusRequest      = ProtocolURI + "/status-request"
	TypeStatus             = ProtocolURI + "/status"
	TypeDeliveryRequest    = ProtocolURI + "/delivery-request"
	TypeDelivery           = ProtocolURI + "/delivery"
	TypeMessagesReceived   = ProtocolURI + "/messages-received"
	TypeLiveDeliveryChange = ProtocolURI + "/live-delivery-change"
)

const codeLiveModeNotSupported = "e.p.req.live-mode-not-supported"

// Service handles messagepickup messages for mediated clients.
type Service struct {
	conns       *connection.Store
	mailboxes   *mailbox.Store
	sessions    *live.Registry
	packer      *envelope.Packer
	mediatorDID string
}

// New creates the pickup service.
func New(conns *connection.Store, mailboxes *mailbox.Store, sessions *live.Registry,
	packer *envelope.Packer, mediatorDID string) *Service {
	return &Service{
		conns:       conns,
		mailboxes:   mailboxes,
		sessions:    sessions,
		packer:      packer,
		mediatorDID: mediatorDID,
	}
}

// Name implements dispatcher.Service.
func (s *Service) Name() string { return "messagepickup" }

// Types lists the message types this service accepts.
func (s *Service) Types() []string {
	return []string{TypeStatusRequest, TypeDeliveryRequest, TypeMessagesReceived, TypeLiveDeliveryChange}
}

// Accept implements dispatcher.Service.
func (s *Service) Accept(msgType string) bool {
	for _, t := range s.Types() {
		if t == msgType {
			return true
		}
	}

	return false
}

// RequiresAuth implements dispatcher.Service.
func (s *Service) RequiresAuth() bool { return true }

// HandleInbound implements dispatcher.Service.
func (s *Service) HandleInbound(ctx context.Context, req *dispatcher.Request) (*message.Message, error) {
	rec, err := s.conns.Get(req.SenderDID)
	if err != nil {
		return nil, err
	}

	switch req.Message.Type {
	case TypeStatusRequest:
		return s.handleStatusRequest(req, rec)
	case TypeDeliveryRequest:
		return s.handleDeliveryRequest(req, rec)
	case TypeMessagesReceived:
		return s.handleMessagesReceived(req, rec)
	case TypeLiveDeliveryChange:
		return s.handleLiveDeliveryChange(ctx, req, rec)
	}

	return nil, fmt.Errorf("unexpected message type %s", req.Message.Type)
}

// recipients narrows the connection keylist to the requested recipient, or
// returns the whole keylist sorted when none was named.
func (s *Service) recipients(rec *connection.Record, recipientDID string) ([]string, bool) {
	if recipientDID != "" {
		if !rec.HasKey(recipientDID) {
			return nil, false
		}

		return []string{recipientDID}, true
	}

	keys := append([]string{}, rec.Keylist...)
	sort.Strings(keys)

	return keys, true
}

func unknownRecipient(req *dispatcher.Request) *message.Message {
	return problemreport.New(problemreport.CodeMalformedRequest,
		"recipient_did is not in your keylist", req.Message)
}

type statusRequestBody struct {
	RecipientDID string `json:"recipient_did"`
}

func (s *Service) handleStatusRequest(req *dispatcher.Request, rec *connection.Record) (*message.Message, error) {
	var body statusRequestBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	recipients, ok := s.recipients(rec, body.RecipientDID)
	if !ok {
		return unknownRecipient(req), nil
	}

	return s.statusMessage(req.Message, body.RecipientDID, recipients)
}

// statusMessage aggregates mailbox stats over the recipients into a status
// reply.
func (s *Service) statusMessage(parent *message.Message, echoRecipient string,
	recipients []string) (*message.Message, error) {
	var agg mailbox.Stats

	liveDelivery := false

	for _, r := range recipients {
		stats, err := s.mailboxes.GetStats(r)
		if err != nil {
			return nil, err
		}

		agg.Count += stats.Count
		agg.TotalBytes += stats.TotalBytes

		if stats.Count > 0 {
			if agg.OldestReceived.IsZero() || stats.OldestReceived.Before(agg.OldestReceived) {
				agg.OldestReceived = stats.OldestReceived
			}

			if stats.NewestReceived.After(agg.NewestReceived) {
				agg.NewestReceived = stats.NewestReceived
			}
		}

		if s.sessions.IsLive(r) {
			liveDelivery = true
		}
	}

	status := message.NewReply(TypeStatus, parent)
	status.Body["message_count"] = agg.Count
	status.Body["total_bytes"] = agg.TotalBytes
	status.Body["live_delivery"] = liveDelivery
	status.Body["longest_waited_seconds"] = agg.LongestWaitedSeconds(time.Now())

	if echoRecipient != "" {
		status.Body["recipient_did"] = echoRecipient
	}

	if agg.Count > 0 {
		status.Body["oldest_received_time"] = agg.OldestReceived.Unix()
		status.Body["newest_received_time"] = agg.NewestReceived.Unix()
	}

	return status, nil
}

type deliveryRequestBody struct {
	Limit        int    `json:"limit"`
	RecipientDID string `json:"recipient_did"`
}

func (s *Service) handleDeliveryRequest(req *dispatcher.Request, rec *connection.Record) (*message.Message, error) {
	var body deliveryRequestBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	recipients, ok := s.recipients(rec, body.RecipientDID)
	if !ok {
		return unknownRecipient(req), nil
	}

	limit := body.Limit
	if limit <= 0 {
		limit = 10
	}

	var items []mailbox.Item

	for _, r := range recipients {
		remaining := limit - len(items)
		if remaining == 0 {
			break
		}

		batch, err := s.mailboxes.List(r, remaining)
		if err != nil {
			return nil, err
		}

		items = append(items, batch...)
	}

	// nothing queued: reply with status instead of an empty delivery
	if len(items) == 0 {
		return s.statusMessage(req.Message, body.RecipientDID, recipients)
	}

	return BuildDelivery(req.Message, body.RecipientDID, items), nil
}

// BuildDelivery builds a delivery message carrying the queued items as
// base64 attachments. Items stay in the mailbox until acknowledged.
func BuildDelivery(parent *message.Message, recipientDID string, items []mailbox.Item) *message.Message {
	delivery := message.New(TypeDelivery)
	if parent != nil {
		delivery.ThID = parent.ThreadID()
	}

	if recipientDID != "" {
		delivery.Body["recipient_did"] = recipientDID
	}

	for _, it := range items {
		delivery.Attachments = append(delivery.Attachments, message.Attachment{
			ID: it.ID,
			Data: message.AttachmentData{
				Base64: base64.StdEncoding.EncodeToString(it.Bytes),
			},
		})
	}

	return delivery
}

type messagesReceivedBody struct {
	MessageIDList []string `json:"message_id_list"`
}

func (s *Service) handleMessagesReceived(req *dispatcher.Request, rec *connection.Record) (*message.Message, error) {
	var body messagesReceivedBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	recipients, _ := s.recipients(rec, "")

	for _, r := range recipients {
		removed, err := s.mailboxes.Ack(r, body.MessageIDList)
		if err != nil {
			return nil, err
		}

		if removed > 0 {
			logger.Debugf("acknowledged %d items for %s", removed, r)
		}
	}

	return s.statusMessage(req.Message, "", recipients)
}

type liveDeliveryChangeBody struct {
	LiveDelivery bool `json:"live_delivery"`
}

func (s *Service) handleLiveDeliveryChange(ctx context.Context, req *dispatcher.Request,
	rec *connection.Record) (*message.Message, error) {
	var body liveDeliveryChangeBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	recipients, _ := s.recipients(rec, "")

	if !body.LiveDelivery {
		s.sessions.CloseAll(recipients...)

		return s.statusMessage(req.Message, "", recipients)
	}

	if req.Binder == nil {
		return problemreport.New(codeLiveModeNotSupported,
			"live delivery requires a streaming transport", req.Message), nil
	}

	for _, r := range recipients {
		sess, _ := s.sessions.Attach(r)
		req.Binder.Bind(sess)

		if err := s.flush(ctx, rec, r); err != nil {
			logger.Warnf("failed to flush queued items for %s: %v", r, err)
		}
	}

	return s.statusMessage(req.Message, "", recipients)
}

// flush streams every queued item for recipientDID through the live session,
// oldest first. Items remain queued until acknowledged.
func (s *Service) flush(ctx context.Context, rec *connection.Record, recipientDID string) error {
	items, err := s.mailboxes.List(recipientDID, 0)
	if err != nil {
		return err
	}

	for _, it := range items {
		packed, perr := s.PackLiveDelivery(ctx, rec, recipientDID, it)
		if perr != nil {
			return perr
		}

		if derr := s.sessions.Deliver(recipientDID, live.Delivery{ItemID: it.ID, Message: packed}); derr != nil {
			return derr
		}
	}

	return nil
}

// PackLiveDelivery packs a single-item delivery message for the connection's
// client, ready to write to a live session.
func (s *Service) PackLiveDelivery(ctx context.Context, rec *connection.Record,
	recipientDID string, item mailbox.Item) ([]byte, error) {
	delivery := BuildDelivery(nil, recipientDID, []mailbox.Item{item})
	delivery.From = s.mediatorDID
	delivery.To = []string{rec.ClientDID}

	packed, err := s.packer.Pack(ctx, delivery, s.mediatorDID, []string{rec.ClientDID},
		envelope.PackOptions{})
	if err != nil {
		return nil, fmt.Errorf("pack live delivery: %w", err)
	}

	return packed, nil
}
