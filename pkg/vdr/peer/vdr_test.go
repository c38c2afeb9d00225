/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndRead(t *testing.T) {
	verPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	encPub := make([]byte, 32)
	_, err = rand.Read(encPub)
	require.NoError(t, err)

	v := New()

	didPeer, err := v.Create(verPub, encPub, "https://mediator.example/")
	require.NoError(t, err)

	doc, err := v.Read(context.Background(), didPeer)
	require.NoError(t, err)
	require.Equal(t, didPeer, doc.ID)

	require.Len(t, doc.KeyAgreement, 1)
	require.Len(t, doc.Authentication, 1)

	agr := doc.KeyAgreementMethods()
	require.Len(t, agr, 1)

	raw, err := agr[0].KeyBytes()
	require.NoError(t, err)
	require.Equal(t, encPub, raw)

	auth := doc.AuthenticationMethods()
	require.Len(t, auth, 1)

	raw, err = auth[0].KeyBytes()
	require.NoError(t, err)
	require.Equal(t, []byte(verPub), raw)

	svcs := doc.DIDCommServices()
	require.Len(t, svcs, 1)
	require.Equal(t, "https://mediator.example/", svcs[0].EndpointURI())
	require.Equal(t, []string{"didcomm/v2"}, svcs[0].Accept)
}

func TestCreateWithoutService(t *testing.T) {
	verPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	encPub := make([]byte, 32)
	_, err = rand.Read(encPub)
	require.NoError(t, err)

	didPeer, err := New().Create(verPub, encPub, "")
	require.NoError(t, err)

	doc, err := New().Read(context.Background(), didPeer)
	require.NoError(t, err)
	require.Empty(t, doc.Service)
}

func TestReadRejectsOtherNumalgos(t *testing.T) {
	_, err := New().Read(context.Background(), "did:peer:0z6MkpTHR8VNs")
	require.Error(t, err)

	_, err = New().Read(context.Background(), "did:peer:2.Xabc")
	require.Error(t, err)
}

func TestKeyIDNumbering(t *testing.T) {
	verPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	encPub := make([]byte, 32)
	_, err = rand.Read(encPub)
	require.NoError(t, err)

	didPeer, err := New().Create(verPub, encPub, "")
	require.NoError(t, err)

	doc, err := New().Read(context.Background(), didPeer)
	require.NoError(t, err)

	var ids []string
	for _, vm := range doc.VerificationMethod {
		ids = append(ids, vm.ID)
	}

	require.Equal(t, []string{doc.ID + "#key-1", doc.ID + "#key-2"}, ids)

	_, ok := doc.VerificationMethodByID(doc.ID + "#key-1")
	require.True(t, ok)
}
