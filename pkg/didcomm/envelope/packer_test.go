/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teserakt-io/golang-ed25519/extra25519"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/secrets"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/fingerprint"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/key"
)

type mapSecrets struct {
	byKID map[string]*secrets.Secret
}

func newMapSecrets() *mapSecrets {
	return &mapSecrets{byKID: map[string]*secrets.Secret{}}
}

func (m *mapSecrets) add(s *secrets.Secret) {
	m.byKID[s.KeyID()] = s
}

func (m *mapSecrets) FindSecret(_ context.Context, kid string) (*secrets.Secret, error) {
	s, ok := m.byKID[kid]
	if !ok {
		return nil, secrets.ErrNotFound
	}

	return s, nil
}

func (m *mapSecrets) FindSecrets(_ context.Context, kids []string) ([]string, error) {
	var out []string

	for _, kid := range kids {
		if _, ok := m.byKID[kid]; ok {
			out = append(out, kid)
		}
	}

	return out, nil
}

type identity struct {
	did      string
	signKID  string
	agreeKID string
}

// newIdentity mints a did:key identity and loads its signing and
// key-agreement secrets into store.
func newIdentity(t *testing.T, store *mapSecrets) identity {
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

	store.add(signSecret)
	store.add(agreeSecret)

	return identity{did: did, signKID: signKID, agreeKID: agreeKID}
}

func newTestPacker(store *mapSecrets, opts ...Option) *Packer {
	registry := vdr.New([]vdr.VDR{key.New()})

	return New(registry, store, opts...)
}

func pingMessage(from, to string) *message.Message {
	m := message.New("https://didcomm.org/trust-ping/2.0/ping")
	m.From = from
	m.To = []string{to}
	m.Body["response_requested"] = true

	return m
}

func TestAuthcryptRoundTrip(t *testing.T) {
	store := newMapSecrets()
	alice := newIdentity(t, store)
	bob := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	msg := pingMessage(alice.did, bob.did)

	env, err := p.Pack(ctx, msg, alice.did, []string{bob.did}, PackOptions{})
	require.NoError(t, err)

	var parsed jweJSON
	require.NoError(t, json.Unmarshal(env, &parsed))
	require.Len(t, parsed.Recipients, 1)
	require.Equal(t, bob.agreeKID, parsed.Recipients[0].Header.Kid)

	out, err := p.Unpack(ctx, env)
	require.NoError(t, err)
	require.Equal(t, msg.ID, out.Message.ID)
	require.Equal(t, msg.Type, out.Message.Type)
	require.Equal(t, true, out.Message.Body["response_requested"])
	require.Equal(t, alice.did, out.From)
	require.Equal(t, alice.agreeKID, out.SenderKID)
	require.Equal(t, bob.agreeKID, out.RecipientKID)
	require.False(t, out.Signed)
}

func TestAnoncryptHidesSender(t *testing.T) {
	store := newMapSecrets()
	bob := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	msg := pingMessage("", bob.did)

	env, err := p.Pack(ctx, msg, "", []string{bob.did}, PackOptions{})
	require.NoError(t, err)

	var parsed jweJSON
	require.NoError(t, json.Unmarshal(env, &parsed))

	hdrBytes, err := b64dec(parsed.Protected)
	require.NoError(t, err)

	var hdr protectedHeader
	require.NoError(t, json.Unmarshal(hdrBytes, &hdr))
	require.Equal(t, AlgAnoncrypt, hdr.Alg)
	require.Empty(t, hdr.Skid)

	out, err := p.Unpack(ctx, env)
	require.NoError(t, err)
	require.Empty(t, out.From)
	require.Empty(t, out.SenderKID)
	require.Equal(t, msg.ID, out.Message.ID)
}

func TestSignedAnoncryptProvesSender(t *testing.T) {
	store := newMapSecrets()
	alice := newIdentity(t, store)
	bob := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	msg := pingMessage(alice.did, bob.did)

	env, err := p.Pack(ctx, msg, alice.did, []string{bob.did},
		PackOptions{Sign: true, Anoncrypt: true})
	require.NoError(t, err)

	out, err := p.Unpack(ctx, env)
	require.NoError(t, err)
	require.True(t, out.Signed)
	require.Equal(t, alice.did, out.From)
	require.Equal(t, alice.signKID, out.SenderKID)
	require.Equal(t, msg.ID, out.Message.ID)
}

func TestProtectSender(t *testing.T) {
	store := newMapSecrets()
	alice := newIdentity(t, store)
	bob := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	msg := pingMessage(alice.did, bob.did)

	env, err := p.Pack(ctx, msg, alice.did, []string{bob.did},
		PackOptions{ProtectSender: true})
	require.NoError(t, err)

	// outer envelope must not leak the sender
	var parsed jweJSON
	require.NoError(t, json.Unmarshal(env, &parsed))

	hdrBytes, err := b64dec(parsed.Protected)
	require.NoError(t, err)

	var hdr protectedHeader
	require.NoError(t, json.Unmarshal(hdrBytes, &hdr))
	require.Equal(t, AlgAnoncrypt, hdr.Alg)

	out, err := p.Unpack(ctx, env)
	require.NoError(t, err)
	require.Equal(t, alice.did, out.From)
	require.Equal(t, msg.ID, out.Message.ID)
}

func TestUnpackRejectsTamperedCiphertext(t *testing.T) {
	store := newMapSecrets()
	alice := newIdentity(t, store)
	bob := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	env, err := p.Pack(ctx, pingMessage(alice.did, bob.did), alice.did,
		[]string{bob.did}, PackOptions{})
	require.NoError(t, err)

	var parsed jweJSON
	require.NoError(t, json.Unmarshal(env, &parsed))

	ct, err := b64dec(parsed.Ciphertext)
	require.NoError(t, err)

	ct[0] ^= 0xff
	parsed.Ciphertext = b64(ct)

	tampered, err := json.Marshal(&parsed)
	require.NoError(t, err)

	_, err = p.Unpack(ctx, tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestUnpackRecipientKeyNotLocal(t *testing.T) {
	aliceStore := newMapSecrets()
	alice := newIdentity(t, aliceStore)
	bob := newIdentity(t, aliceStore)

	env, err := newTestPacker(aliceStore).Pack(context.Background(),
		pingMessage(alice.did, bob.did), alice.did, []string{bob.did}, PackOptions{})
	require.NoError(t, err)

	// a packer with no secrets cannot claim the envelope
	_, err = newTestPacker(newMapSecrets()).Unpack(context.Background(), env)
	require.ErrorIs(t, err, ErrRecipientKeyNotLocal)
}

func TestUnpackRejectsUnsupportedAlg(t *testing.T) {
	store := newMapSecrets()
	bob := newIdentity(t, store)

	env, err := newTestPacker(store).Pack(context.Background(),
		pingMessage("", bob.did), "", []string{bob.did}, PackOptions{})
	require.NoError(t, err)

	strict := newTestPacker(store, WithSupportedAlgs(AlgAuthcrypt))

	_, err = strict.Unpack(context.Background(), env)
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestUnpackRejectsFromMismatch(t *testing.T) {
	store := newMapSecrets()
	alice := newIdentity(t, store)
	bob := newIdentity(t, store)
	carol := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	// claimed from differs from the authcrypt sender
	msg := pingMessage(carol.did, bob.did)

	env, err := p.Pack(ctx, msg, alice.did, []string{bob.did}, PackOptions{})
	require.NoError(t, err)

	_, err = p.Unpack(ctx, env)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUnpackRejectsGarbage(t *testing.T) {
	p := newTestPacker(newMapSecrets())

	_, err := p.Unpack(context.Background(), []byte("not an envelope"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = p.Unpack(context.Background(), []byte(`{"protected":"x"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestPackToKeyID(t *testing.T) {
	store := newMapSecrets()
	alice := newIdentity(t, store)
	bob := newIdentity(t, store)

	p := newTestPacker(store)
	ctx := context.Background()

	env, err := p.Pack(ctx, pingMessage(alice.did, bob.did), alice.did,
		[]string{bob.agreeKID}, PackOptions{})
	require.NoError(t, err)

	out, err := p.Unpack(ctx, env)
	require.NoError(t, err)
	require.Equal(t, bob.agreeKID, out.RecipientKID)
}
