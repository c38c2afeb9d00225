/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package discoverfeatures

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
)

var protocols = []string{
	"https://didcomm.org/coordinate-mediation/2.0",
	"https://didcomm.org/messagepickup/3.0",
	"https://didcomm.org/routing/2.0",
	"https://didcomm.org/trust-ping/2.0",
}

type discloseBody struct {
	Disclosures []struct {
		FeatureType string `json:"feature-type"`
		ID          string `json:"id"`
	} `json:"disclosures"`
}

func query(queries ...map[string]interface{}) *dispatcher.Request {
	msg := message.New(TypeQueries)

	list := make([]interface{}, len(queries))
	for i, q := range queries {
		list[i] = q
	}

	msg.Body["queries"] = list

	return &dispatcher.Request{Message: msg, SenderDID: "did:key:zA"}
}

func TestDiscloseAll(t *testing.T) {
	svc := New(protocols)

	resp, err := svc.HandleInbound(context.Background(), query(
		map[string]interface{}{"feature-type": "protocol", "match": "*"},
	))
	require.NoError(t, err)
	require.Equal(t, TypeDisclose, resp.Type)

	var body discloseBody
	require.NoError(t, resp.DecodeBody(&body))
	require.Len(t, body.Disclosures, 4)
	require.Equal(t, "protocol", body.Disclosures[0].FeatureType)
}

func TestDiscloseGlobSuffix(t *testing.T) {
	svc := New(protocols)

	resp, err := svc.HandleInbound(context.Background(), query(
		map[string]interface{}{"feature-type": "protocol", "match": "https://didcomm.org/coordinate-*"},
	))
	require.NoError(t, err)

	var body discloseBody
	require.NoError(t, resp.DecodeBody(&body))
	require.Len(t, body.Disclosures, 1)
	require.Equal(t, "https://didcomm.org/coordinate-mediation/2.0", body.Disclosures[0].ID)
}

func TestDiscloseExactAndDedup(t *testing.T) {
	svc := New(protocols)

	resp, err := svc.HandleInbound(context.Background(), query(
		map[string]interface{}{"feature-type": "protocol", "match": "https://didcomm.org/routing/2.0"},
		map[string]interface{}{"feature-type": "protocol", "match": "https://didcomm.org/routing/*"},
		map[string]interface{}{"feature-type": "goal-code", "match": "*"},
	))
	require.NoError(t, err)

	var body discloseBody
	require.NoError(t, resp.DecodeBody(&body))
	require.Len(t, body.Disclosures, 1)
	require.Equal(t, "https://didcomm.org/routing/2.0", body.Disclosures[0].ID)
}

func TestDiscloseNoMatch(t *testing.T) {
	svc := New(protocols)

	resp, err := svc.HandleInbound(context.Background(), query(
		map[string]interface{}{"feature-type": "protocol", "match": "https://didcomm.org/issue-credential/*"},
	))
	require.NoError(t, err)

	var body discloseBody
	require.NoError(t, resp.DecodeBody(&body))
	require.Empty(t, body.Disclosures)
}
