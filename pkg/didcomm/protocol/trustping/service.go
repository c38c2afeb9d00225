/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package trustping implements the trust-ping 2.0 liveness protocol.
package trustping

import (
	"context"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
)

// ProtocolURI identifies the protocol for feature discovery.
const ProtocolURI = "https://didcomm.org/trust-ping/2.0"

// Message types handled and produced by this service.
const (
	TypePing         = ProtocolURI + "/ping"
	TypePingResponse = ProtocolURI + "/ping-response"
)

// Service answers pings. It touches no state.
type Service struct{}

// New creates the trust-ping service.
func New() *Service { return &Service{} }

// Name implements dispatcher.Service.
func (s *Service) Name() string { return "trust-ping" }

// Types lists the message types this service accepts.
func (s *Service) Types() []string { return []string{TypePing} }

// Accept implements dispatcher.Service.
func (s *Service) Accept(msgType string) bool { return msgType == TypePing }

// RequiresAuth implements dispatcher.Service. Anonymous pings are allowed;
// a response is only owed (and only possible) for authenticated senders.
func (s *Service) RequiresAuth() bool { return false }

type pingBody struct {
	ResponseRequested bool `json:"response_requested"`
}

// HandleInbound implements dispatcher.Service.
func (s *Service) HandleInbound(_ context.Context, req *dispatcher.Request) (*message.Message, error) {
	var body pingBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	if !body.ResponseRequested {
		return nil, nil
	}

	return message.NewReply(TypePingResponse, req.Message), nil
}
