/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mediator implements the coordinate-mediation 2.0 protocol: grant
// or deny mediation, maintain the authorized keylist, and terminate.
package mediator

import (
	"context"
	"fmt"
	"sort"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
)

var logger = log.New("mediator/protocol/mediator")

// ProtocolURI identifies the protocol for feature discovery.
const ProtocolURI = "https://didcomm.org/coordinate-mediation/2.0"

// Message types handled and produced by this service.
const (
	TypeMediateRequest        = ProtocolURI + "/mediate-request"
	TypeMediateGrant          = ProtocolURI + "/mediate-grant"
	TypeMediateDeny           = ProtocolURI + "/mediate-deny"
	TypeKeylistUpdate         = ProtocolURI + "/keylist-update"
	TypeKeylistUpdateResponse = ProtocolURI + "/keylist-update-response"
	TypeKeylistQuery          = ProtocolURI + "/keylist-query"
	TypeKeylist               = ProtocolURI + "/keylist"
	TypeMediateTerminate      = ProtocolURI + "/mediate-terminate"
)

const defaultQueryLimit = 50

// RoutingDIDSource mints the routing DID advertised in a mediate-grant.
type RoutingDIDSource interface {
	MintRoutingDID(ctx context.Context) (string, error)
}

// Service handles coordinate-mediation messages.
type Service struct {
	conns       *connection.Store
	mailboxes   *mailbox.Store
	sessions    *live.Registry
	routingDIDs RoutingDIDSource
	mediatorDID string
}

// New creates the coordination service.
func New(conns *connection.Store, mailboxes *mailbox.Store, sessions *live.Registry,
	routingDIDs RoutingDIDSource, mediatorDID string) *Service {
	return &Service{
		conns:       conns,
		mailboxes:   mailboxes,
		sessions:    sessions,
		routingDIDs: routingDIDs,
		mediatorDID: mediatorDID,
	}
}

// Name implements dispatcher.Service.
func (s *Service) Name() string { return "coordinate-mediation" }

// Types lists the message types this service accepts.
func (s *Service) Types() []string {
	return []string{TypeMediateRequest, TypeKeylistUpdate, TypeKeylistQuery, TypeMediateTerminate}
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

// RequiresAuth implements dispatcher.Service. Every coordination message
// must carry a proven sender.
func (s *Service) RequiresAuth() bool { return true }

// HandleInbound implements dispatcher.Service.
func (s *Service) HandleInbound(ctx context.Context, req *dispatcher.Request) (*message.Message, error) {
	switch req.Message.Type {
	case TypeMediateRequest:
		return s.handleMediateRequest(ctx, req)
	case TypeKeylistUpdate:
		return s.handleKeylistUpdate(req)
	case TypeKeylistQuery:
		return s.handleKeylistQuery(req)
	case TypeMediateTerminate:
		return s.handleTerminate(req)
	}

	return nil, fmt.Errorf("unexpected message type %s", req.Message.Type)
}

func (s *Service) handleMediateRequest(ctx context.Context, req *dispatcher.Request) (*message.Message, error) {
	if _, err := s.conns.Get(req.SenderDID); err == nil {
		deny := message.NewReply(TypeMediateDeny, req.Message)
		deny.Body["reason"] = "already-mediated"

		return deny, nil
	}

	routingDID, err := s.routingDIDs.MintRoutingDID(ctx)
	if err != nil {
		return nil, fmt.Errorf("mint routing did: %w", err)
	}

	if _, err := s.conns.Create(req.SenderDID, s.mediatorDID, routingDID, req.SenderKID); err != nil {
		return nil, err
	}

	logger.Infof("granted mediation to %s", req.SenderDID)

	grant := message.NewReply(TypeMediateGrant, req.Message)
	grant.Body["routing_did"] = routingDID

	return grant, nil
}

type keylistUpdateBody struct {
	Updates []connection.KeylistUpdate `json:"updates"`
}

func (s *Service) handleKeylistUpdate(req *dispatcher.Request) (*message.Message, error) {
	var body keylistUpdateBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	results, err := s.conns.UpdateKeylist(req.SenderDID, body.Updates)
	if err != nil {
		return nil, err
	}

	resp := message.NewReply(TypeKeylistUpdateResponse, req.Message)

	if err := resp.SetBody(struct {
		Updated []connection.KeylistUpdateResult `json:"updated"`
	}{Updated: results}); err != nil {
		return nil, err
	}

	return resp, nil
}

type keylistQueryBody struct {
	Paginate struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"paginate"`
}

func (s *Service) handleKeylistQuery(req *dispatcher.Request) (*message.Message, error) {
	var body keylistQueryBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	rec, err := s.conns.Get(req.SenderDID)
	if err != nil {
		return nil, err
	}

	keys := append([]string{}, rec.Keylist...)
	sort.Strings(keys)

	limit := body.Paginate.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	offset := body.Paginate.Offset
	if offset > len(keys) {
		offset = len(keys)
	}

	page := keys[offset:]
	if limit < len(page) {
		page = page[:limit]
	}

	type keyEntry struct {
		RecipientDID string `json:"recipient_did"`
	}

	entries := make([]keyEntry, len(page))
	for i, k := range page {
		entries[i] = keyEntry{RecipientDID: k}
	}

	resp := message.NewReply(TypeKeylist, req.Message)

	if err := resp.SetBody(struct {
		Keys       []keyEntry `json:"keys"`
		Pagination struct {
			Count     int `json:"count"`
			Offset    int `json:"offset"`
			Remaining int `json:"remaining"`
		} `json:"pagination"`
	}{
		Keys: entries,
		Pagination: struct {
			Count     int `json:"count"`
			Offset    int `json:"offset"`
			Remaining int `json:"remaining"`
		}{
			Count:     len(page),
			Offset:    offset,
			Remaining: len(keys) - offset - len(page),
		},
	}); err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Service) handleTerminate(req *dispatcher.Request) (*message.Message, error) {
	keys, err := s.conns.Terminate(req.SenderDID)
	if err != nil {
		return nil, err
	}

	for _, k := range keys {
		if perr := s.mailboxes.Purge(k); perr != nil {
			logger.Warnf("failed to purge mailbox during terminate: %v", perr)
		}
	}

	s.sessions.CloseAll(keys...)

	logger.Infof("terminated mediation for %s", req.SenderDID)

	return nil, nil
}
