/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/messagepickup"
	"github.com/openmediation/didcomm-mediator-go/pkg/internal/testsupport"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage/mem"
)

type denyAll struct{}

func (denyAll) AllowForward(context.Context, string, string) bool { return false }

type env struct {
	svc       *Service
	conns     *connection.Store
	mailboxes *mailbox.Store
	sessions  *live.Registry
	alice     testsupport.Identity
	secrets   *testsupport.Secrets
}

func newEnv(t *testing.T, opts ...Option) *env {
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

	sessions := live.New()

	_, err = conns.Create(alice.DID, mediator.DID, "did:peer:2.route", "")
	require.NoError(t, err)

	_, err = conns.UpdateKeylist(alice.DID, []connection.KeylistUpdate{
		{RecipientDID: "did:key:zB", Action: connection.ActionAdd},
	})
	require.NoError(t, err)

	pickup := messagepickup.New(conns, mailboxes, sessions, packer, mediator.DID)

	return &env{
		svc:       New(conns, mailboxes, sessions, pickup, opts...),
		conns:     conns,
		mailboxes: mailboxes,
		sessions:  sessions,
		alice:     alice,
		secrets:   store,
	}
}

func forward(next string, blob []byte) *dispatcher.Request {
	msg := message.New(TypeForward)

	if next != "" {
		msg.Body["next"] = next
	}

	msg.Attachments = []message.Attachment{{
		Data: message.AttachmentData{JSON: blob},
	}}

	return &dispatcher.Request{Message: msg}
}

func TestForwardEnqueues(t *testing.T) {
	e := newEnv(t)

	blob := []byte(`{"protected":"opaque"}`)

	resp, err := e.svc.HandleInbound(context.Background(), forward("did:key:zB", blob))
	require.NoError(t, err)
	require.Nil(t, resp)

	items, err := e.mailboxes.List("did:key:zB", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, blob, items[0].Bytes)
}

func TestForwardUnknownRecipientIsSilent(t *testing.T) {
	e := newEnv(t)

	resp, err := e.svc.HandleInbound(context.Background(),
		forward("did:key:zQ", []byte(`{"x":1}`)))
	require.NoError(t, err)
	require.Nil(t, resp)

	count, err := e.mailboxes.Count("did:key:zQ")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestForwardMalformedIsSilent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// no next
	resp, err := e.svc.HandleInbound(ctx, forward("", []byte(`{"x":1}`)))
	require.NoError(t, err)
	require.Nil(t, resp)

	// no attachment
	msg := message.New(TypeForward)
	msg.Body["next"] = "did:key:zB"

	resp, err = e.svc.HandleInbound(ctx, &dispatcher.Request{Message: msg})
	require.NoError(t, err)
	require.Nil(t, resp)

	count, err := e.mailboxes.Count("did:key:zB")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestForwardPolicyRejects(t *testing.T) {
	e := newEnv(t, WithPolicy(denyAll{}))

	resp, err := e.svc.HandleInbound(context.Background(),
		forward("did:key:zB", []byte(`{"x":1}`)))
	require.NoError(t, err)
	require.Nil(t, resp)

	count, err := e.mailboxes.Count("did:key:zB")
	require.NoError(t, err)
	require.Zero(t, count)
}

// Forwards racing a terminate must never leave an orphaned mailbox item:
// each forward either lands before the terminate (and the purge removes it)
// or finds the route gone and drops.
func TestForwardTerminateLeavesNoOrphans(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := 0; i < 25; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = e.svc.HandleInbound(ctx, forward("did:key:zB", []byte(`{"n":1}`)))
		}()
	}

	keys, err := e.conns.Terminate(e.alice.DID)
	require.NoError(t, err)

	for _, k := range keys {
		require.NoError(t, e.mailboxes.Purge(k))
	}

	wg.Wait()

	count, err := e.mailboxes.Count("did:key:zB")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestForwardStreamsToLiveSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, _ := e.sessions.Attach("did:key:zB")

	blob := []byte(`{"protected":"opaque-live"}`)

	_, err := e.svc.HandleInbound(ctx, forward("did:key:zB", blob))
	require.NoError(t, err)

	d := <-sess.Deliveries()
	require.NotEmpty(t, d.ItemID)

	// the streamed frame decrypts for alice and carries the blob
	p := testsupport.NewPacker(e.secrets)

	out, err := p.Unpack(ctx, d.Message)
	require.NoError(t, err)
	require.Equal(t, messagepickup.TypeDelivery, out.Message.Type)

	got, err := out.Message.Attachments[0].Data.Fetch()
	require.NoError(t, err)
	require.Equal(t, blob, got)

	// item remains queued until the client acknowledges
	count, err := e.mailboxes.Count("did:key:zB")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
