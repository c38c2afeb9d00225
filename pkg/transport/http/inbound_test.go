/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/didrotate"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	coordination "github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/mediator"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/trustping"
	"github.com/openmediation/didcomm-mediator-go/pkg/internal/testsupport"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage/mem"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
)

type staticDIDs struct{}

func (staticDIDs) MintRoutingDID(context.Context) (string, error) {
	return "did:peer:2.routing", nil
}

type fixture struct {
	server   *httptest.Server
	packer   *envelope.Packer
	alice    testsupport.Identity
	mediator testsupport.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testsupport.NewSecrets()
	alice := testsupport.NewIdentity(t, store)
	mediator := testsupport.NewIdentity(t, store)
	packer := testsupport.NewPacker(store)

	provider := mem.NewProvider()

	conns, err := connection.New(provider)
	require.NoError(t, err)

	mailboxes, err := mailbox.New(provider)
	require.NoError(t, err)

	coord := coordination.New(conns, mailboxes, live.New(), staticDIDs{}, mediator.DID)
	rotator := didrotate.New(testsupport.NewResolver(), conns)

	d := dispatcher.New(packer, mediator.DID, rotator, coord, trustping.New())

	inbound, _ := New(d)

	server := httptest.NewServer(inbound.Handler())
	t.Cleanup(server.Close)

	return &fixture{server: server, packer: packer, alice: alice, mediator: mediator}
}

func (f *fixture) pack(t *testing.T, msg *message.Message, opts envelope.PackOptions) []byte {
	t.Helper()

	msg.From = f.alice.DID
	msg.To = []string{f.mediator.DID}

	packed, err := f.packer.Pack(context.Background(), msg, f.alice.DID,
		[]string{f.mediator.DID}, opts)
	require.NoError(t, err)

	return packed
}

func (f *fixture) post(t *testing.T, contentType string, body []byte) *http.Response {
	t.Helper()

	resp, err := http.Post(f.server.URL+"/", contentType, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestInboundResponseEnvelope(t *testing.T) {
	f := newFixture(t)

	packed := f.pack(t, message.New(coordination.TypeMediateRequest), envelope.PackOptions{})

	resp := f.post(t, envelope.MediaTypeEncrypted, packed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, envelope.MediaTypeEncrypted, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	unpacked, err := f.packer.Unpack(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, coordination.TypeMediateGrant, unpacked.Message.Type)
}

func TestInboundFireAndForgetAccepted(t *testing.T) {
	f := newFixture(t)

	ping := message.New(trustping.TypePing)
	ping.Body["response_requested"] = false

	resp := f.post(t, envelope.MediaTypeEncrypted, f.pack(t, ping, envelope.PackOptions{}))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestInboundMalformedEnvelope(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, envelope.MediaTypeEncrypted, []byte("not a jwe"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInboundAnonymousAuthRequired(t *testing.T) {
	f := newFixture(t)

	packed := f.pack(t, message.New(coordination.TypeMediateRequest),
		envelope.PackOptions{Anoncrypt: true})

	resp := f.post(t, envelope.MediaTypeEncrypted, packed)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInboundWrongContentType(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "application/json", []byte("{}"))
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}
