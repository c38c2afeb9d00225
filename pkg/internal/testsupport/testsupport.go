/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package testsupport provides DID identities and in-memory fixtures shared
// by protocol and dispatcher tests.
package testsupport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teserakt-io/golang-ed25519/extra25519"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/secrets"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/fingerprint"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/key"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/peer"
)

// Secrets is an in-memory secrets provider.
type Secrets struct {
	byKID map[string]*secrets.Secret
}

// NewSecrets creates an empty provider.
func NewSecrets() *Secrets {
	return &Secrets{byKID: map[string]*secrets.Secret{}}
}

// Add registers a secret.
func (s *Secrets) Add(sec *secrets.Secret) {
	s.byKID[sec.KeyID()] = sec
}

// FindSecret implements secrets.Provider.
func (s *Secrets) FindSecret(_ context.Context, kid string) (*secrets.Secret, error) {
	sec, ok := s.byKID[kid]
	if !ok {
		return nil, secrets.ErrNotFound
	}

	return sec, nil
}

// FindSecrets implements secrets.Provider.
func (s *Secrets) FindSecrets(_ context.Context, kids []string) ([]string, error) {
	var out []string

	for _, kid := range kids {
		if _, ok := s.byKID[kid]; ok {
			out = append(out, kid)
		}
	}

	return out, nil
}

// Identity is a did:key test identity whose secrets are loaded into a
// Secrets provider.
type Identity struct {
	DID      string
	SignKID  string
	AgreeKID string
}

// NewIdentity mints a did:key identity and registers its signing and
// key-agreement secrets with store.
func NewIdentity(t *testing.T, store *Secrets) Identity {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	did, signKID := fingerprint.CreateDIDKey(pub)

	curvePub, err := fingerprint.PublicEd25519toCurve25519(pub)
	require.NoError(t, err)

	var (
		edPriv    [64]byte
		curvePriv [32]byte
	)

	copy(edPriv[:], priv)
	extra25519.PrivateKeyToCurve25519(&curvePriv, &edPriv)

	agreeKID := did + "#" + fingerprint.KeyFingerprint(fingerprint.X25519PubKeyMultiCodec, curvePub)

	signSecret, err := secrets.NewSecret(signKID, jwk.CrvEd25519, priv.Seed(), pub)
	require.NoError(t, err)

	agreeSecret, err := secrets.NewSecret(agreeKID, jwk.CrvX25519, curvePriv[:], curvePub)
	require.NoError(t, err)

	store.Add(signSecret)
	store.Add(agreeSecret)

	return Identity{DID: did, SignKID: signKID, AgreeKID: agreeKID}
}

// NewResolver builds a registry over the deterministic DID methods.
func NewResolver() *vdr.Registry {
	return vdr.New([]vdr.VDR{key.New(), peer.New()})
}

// NewPacker builds an envelope packer over the store and a deterministic
// resolver.
func NewPacker(store *Secrets) *envelope.Packer {
	return envelope.New(NewResolver(), store)
}
