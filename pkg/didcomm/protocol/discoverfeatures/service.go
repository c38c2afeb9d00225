/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package discoverfeatures implements the discover-features 2.0 protocol,
// disclosing the protocols this mediator supports.
package discoverfeatures

import (
	"context"
	"sort"
	"strings"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
)

// ProtocolURI identifies the protocol for feature discovery.
const ProtocolURI = "https://didcomm.org/discover-features/2.0"

// Message types handled and produced by this service.
const (
	TypeQueries  = ProtocolURI + "/queries"
	TypeDisclose = ProtocolURI + "/disclose"
)

const featureTypeProtocol = "protocol"

// Service answers feature queries against a fixed protocol list.
type Service struct {
	protocols []string
}

// New creates the service disclosing the given protocol URIs.
func New(protocols []string) *Service {
	sorted := append([]string{}, protocols...)
	sort.Strings(sorted)

	return &Service{protocols: sorted}
}

// Name implements dispatcher.Service.
func (s *Service) Name() string { return "discover-features" }

// Types lists the message types this service accepts.
func (s *Service) Types() []string { return []string{TypeQueries} }

// Accept implements dispatcher.Service.
func (s *Service) Accept(msgType string) bool { return msgType == TypeQueries }

// RequiresAuth implements dispatcher.Service.
func (s *Service) RequiresAuth() bool { return false }

type queriesBody struct {
	Queries []struct {
		FeatureType string `json:"feature-type"`
		Match       string `json:"match"`
	} `json:"queries"`
}

// HandleInbound implements dispatcher.Service.
func (s *Service) HandleInbound(_ context.Context, req *dispatcher.Request) (*message.Message, error) {
	var body queriesBody
	if err := req.Message.DecodeBody(&body); err != nil {
		return nil, err
	}

	type disclosure struct {
		FeatureType string `json:"feature-type"`
		ID          string `json:"id"`
	}

	seen := map[string]bool{}
	disclosures := []disclosure{}

	for _, q := range body.Queries {
		if q.FeatureType != featureTypeProtocol {
			continue
		}

		for _, p := range s.protocols {
			if matches(q.Match, p) && !seen[p] {
				seen[p] = true
				disclosures = append(disclosures, disclosure{FeatureType: featureTypeProtocol, ID: p})
			}
		}
	}

	resp := message.NewReply(TypeDisclose, req.Message)

	if err := resp.SetBody(struct {
		Disclosures []disclosure `json:"disclosures"`
	}{Disclosures: disclosures}); err != nil {
		return nil, err
	}

	return resp, nil
}

// matches supports exact matching plus a trailing * wildcard.
func matches(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}

	return pattern == value
}
