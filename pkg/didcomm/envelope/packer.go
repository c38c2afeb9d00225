/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package envelope packs and unpacks DIDComm v2 encrypted envelopes:
// authcrypt (ECDH-1PU+A256KW), anoncrypt (ECDH-ES+A256KW), both with
// A256CBC-HS512 content encryption, and optional EdDSA signing.
package envelope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/crypto"
	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/secrets"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
)

var logger = log.New("mediator/envelope")

// Unpacked is the result of a successful Unpack.
type Unpacked struct {
	Message *message.Message
	// From is the cryptographically proven sender DID; empty for anoncrypt
	// envelopes without a valid signature.
	From string
	// SenderKID is the proven sender key, when any.
	SenderKID string
	// RecipientKID is the local key the envelope was decrypted with.
	RecipientKID string
	// Signed reports whether a valid embedded signature was present.
	Signed bool
}

// Packer is the envelope engine. It is safe for concurrent use.
type Packer struct {
	resolver  *vdr.Registry
	secrets   secrets.Provider
	supported map[string]struct{}
}

// Option configures the Packer.
type Option func(*Packer)

// WithSupportedAlgs restricts the key-wrap algorithms accepted on unpack.
func WithSupportedAlgs(algs ...string) Option {
	return func(p *Packer) {
		p.supported = map[string]struct{}{}
		for _, a := range algs {
			p.supported[a] = struct{}{}
		}
	}
}

// New creates a Packer over the resolver and secrets provider.
func New(resolver *vdr.Registry, secretsProvider secrets.Provider, opts ...Option) *Packer {
	p := &Packer{
		resolver: resolver,
		secrets:  secretsProvider,
		supported: map[string]struct{}{
			AlgAuthcrypt: {},
			AlgAnoncrypt: {},
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PackOptions control Pack behavior.
type PackOptions struct {
	// Sign wraps the plaintext in an EdDSA JWS before encryption.
	Sign bool
	// Anoncrypt forces ECDH-ES even when a sender is given.
	Anoncrypt bool
	// ProtectSender hides the authcrypt envelope inside an anoncrypt one.
	ProtectSender bool
}

// Pack encrypts msg for the given recipients. Authcrypt is used when from is
// non-empty (unless Anoncrypt is forced); from and to may be bare DIDs or
// key IDs.
func (p *Packer) Pack(ctx context.Context, msg *message.Message, from string, to []string,
	opts PackOptions) ([]byte, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("pack: no recipients")
	}

	plaintext, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	if opts.Sign {
		if from == "" {
			return nil, fmt.Errorf("pack: sign requires a sender")
		}

		plaintext, err = p.sign(ctx, plaintext, from)
		if err != nil {
			return nil, err
		}
	}

	recips, err := p.recipientKeys(ctx, to)
	if err != nil {
		return nil, err
	}

	if from == "" || opts.Anoncrypt {
		return p.encryptAnoncrypt(plaintext, recips)
	}

	out, err := p.encryptAuthcrypt(ctx, plaintext, from, recips)
	if err != nil {
		return nil, err
	}

	if opts.ProtectSender {
		return p.encryptAnoncrypt(out, recips)
	}

	return out, nil
}

type recipientKey struct {
	kid string
	pub []byte
}

// recipientKeys resolves each recipient to its key-agreement keys.
func (p *Packer) recipientKeys(ctx context.Context, to []string) ([]recipientKey, error) {
	var out []recipientKey

	for _, t := range to {
		if _, frag := diddoc.SplitDIDURL(t); frag != "" {
			vm, _, err := p.resolver.ResolveKey(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("pack: resolve recipient key %s: %w", t, err)
			}

			pub, err := vm.KeyBytes()
			if err != nil {
				return nil, fmt.Errorf("pack: recipient key %s: %w", t, err)
			}

			out = append(out, recipientKey{kid: t, pub: pub})

			continue
		}

		doc, err := p.resolver.Resolve(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("pack: resolve recipient %s: %w", t, err)
		}

		agreements := doc.KeyAgreementMethods()
		if len(agreements) == 0 {
			return nil, fmt.Errorf("pack: recipient %s has no key agreement keys", t)
		}

		for _, vm := range agreements {
			pub, kerr := vm.KeyBytes()
			if kerr != nil {
				return nil, fmt.Errorf("pack: recipient key %s: %w", vm.ID, kerr)
			}

			out = append(out, recipientKey{kid: vm.ID, pub: pub})
		}
	}

	return out, nil
}

// senderAgreementSecret finds the local key-agreement secret for the sender.
func (p *Packer) senderAgreementSecret(ctx context.Context, from string) (*secrets.Secret, error) {
	if _, frag := diddoc.SplitDIDURL(from); frag != "" {
		return p.secrets.FindSecret(ctx, from)
	}

	doc, err := p.resolver.Resolve(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pack: resolve sender %s: %w", from, err)
	}

	for _, vm := range doc.KeyAgreementMethods() {
		sec, serr := p.secrets.FindSecret(ctx, vm.ID)
		if serr == nil {
			return sec, nil
		}
	}

	return nil, fmt.Errorf("pack: no local key agreement secret for %s", from)
}

func (p *Packer) encryptAuthcrypt(ctx context.Context, plaintext []byte, from string,
	recips []recipientKey) ([]byte, error) {
	senderSecret, err := p.senderAgreementSecret(ctx, from)
	if err != nil {
		return nil, err
	}

	skid := senderSecret.KeyID()

	ephPub, ephPriv, err := crypto.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	kids := make([]string, len(recips))
	for i, r := range recips {
		kids[i] = r.kid
	}

	apu := []byte(skid)
	apv := apvDigest(kids)

	hdr := &protectedHeader{
		Typ:  MediaTypeEncrypted,
		Alg:  AlgAuthcrypt,
		Enc:  EncCBCHMAC,
		Skid: skid,
		Apu:  b64(apu),
		Apv:  b64(apv),
		Epk:  jwk.FromPublicKey(jwk.CrvX25519, ephPub),
	}

	env, cek, tag, err := encryptContent(hdr, plaintext)
	if err != nil {
		return nil, err
	}

	for _, r := range recips {
		ze, zerr := crypto.SharedSecret(ephPriv, r.pub)
		if zerr != nil {
			return nil, fmt.Errorf("pack: %w", zerr)
		}

		zs, zerr := senderSecret.DeriveECDH(r.pub)
		if zerr != nil {
			return nil, fmt.Errorf("pack: %w", zerr)
		}

		kek := crypto.DeriveECDH1PUKey(ze, zs, AlgAuthcrypt, apu, apv, tag, 32)

		wrapped, werr := crypto.WrapKey(kek, cek)
		if werr != nil {
			return nil, fmt.Errorf("pack: %w", werr)
		}

		env.Recipients = append(env.Recipients, jweRecipient{
			Header:       jweRecipientHeader{Kid: r.kid},
			EncryptedKey: b64(wrapped),
		})
	}

	return json.Marshal(env)
}

func (p *Packer) encryptAnoncrypt(plaintext []byte, recips []recipientKey) ([]byte, error) {
	ephPub, ephPriv, err := crypto.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	kids := make([]string, len(recips))
	for i, r := range recips {
		kids[i] = r.kid
	}

	apv := apvDigest(kids)

	hdr := &protectedHeader{
		Typ: MediaTypeEncrypted,
		Alg: AlgAnoncrypt,
		Enc: EncCBCHMAC,
		Apv: b64(apv),
		Epk: jwk.FromPublicKey(jwk.CrvX25519, ephPub),
	}

	env, cek, _, err := encryptContent(hdr, plaintext)
	if err != nil {
		return nil, err
	}

	for _, r := range recips {
		ze, zerr := crypto.SharedSecret(ephPriv, r.pub)
		if zerr != nil {
			return nil, fmt.Errorf("pack: %w", zerr)
		}

		kek := crypto.DeriveECDHESKey(ze, AlgAnoncrypt, nil, apv, 32)

		wrapped, werr := crypto.WrapKey(kek, cek)
		if werr != nil {
			return nil, fmt.Errorf("pack: %w", werr)
		}

		env.Recipients = append(env.Recipients, jweRecipient{
			Header:       jweRecipientHeader{Kid: r.kid},
			EncryptedKey: b64(wrapped),
		})
	}

	return json.Marshal(env)
}

// encryptContent serializes the protected header, encrypts the plaintext and
// returns the partially filled envelope along with the cek and raw tag (the
// tag feeds the 1PU key derivation).
func encryptContent(hdr *protectedHeader, plaintext []byte) (*jweJSON, []byte, []byte, error) {
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pack: marshal protected header: %w", err)
	}

	protected := b64(hdrBytes)

	cek, err := crypto.GenerateCEK()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pack: %w", err)
	}

	iv, ct, tag, err := crypto.EncryptA256CBCHS512(cek, plaintext, []byte(protected))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pack: %w", err)
	}

	return &jweJSON{
		Protected:  protected,
		IV:         b64(iv),
		Ciphertext: b64(ct),
		Tag:        b64(tag),
	}, cek, tag, nil
}

// Unpack decrypts an inbound envelope and verifies any embedded signature.
func (p *Packer) Unpack(ctx context.Context, raw []byte) (*Unpacked, error) {
	env, hdr, err := parseJWE(raw)
	if err != nil {
		return nil, err
	}

	if _, ok := p.supported[hdr.Alg]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, hdr.Alg)
	}

	if hdr.Enc != EncCBCHMAC {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, hdr.Enc)
	}

	secret, recipKID, wrappedKey, err := p.localRecipient(ctx, env)
	if err != nil {
		return nil, err
	}

	plaintext, senderKID, err := p.decrypt(ctx, env, hdr, secret, wrappedKey)
	if err != nil {
		return nil, err
	}

	// protect_sender: the decrypted payload is itself an envelope
	if looksLikeJWE(plaintext) {
		inner, ierr := p.Unpack(ctx, plaintext)
		if ierr != nil {
			return nil, ierr
		}

		return inner, nil
	}

	unpacked := &Unpacked{RecipientKID: recipKID, SenderKID: senderKID}

	if looksLikeJWS(plaintext) {
		msg, signerKID, verr := p.verifySigned(ctx, plaintext)
		if verr != nil {
			return nil, verr
		}

		unpacked.Message = msg
		unpacked.Signed = true
		unpacked.SenderKID = signerKID
		unpacked.From, _ = splitKID(signerKID)
	} else {
		msg, perr := message.Parse(plaintext)
		if perr != nil {
			return nil, fmt.Errorf("%w: plaintext: %v", ErrMalformed, perr)
		}

		unpacked.Message = msg

		if senderKID != "" {
			unpacked.From, _ = splitKID(senderKID)
		}
	}

	// a claimed from must match the proven sender
	if unpacked.From != "" && unpacked.Message.From != "" && unpacked.Message.From != unpacked.From {
		return nil, fmt.Errorf("%w: message from %q does not match proven sender %q",
			ErrMalformed, unpacked.Message.From, unpacked.From)
	}

	return unpacked, nil
}

// localRecipient scans the recipient headers for a kid with a local secret.
func (p *Packer) localRecipient(ctx context.Context, env *jweJSON) (*secrets.Secret, string, []byte, error) {
	for i, r := range env.Recipients {
		sec, err := p.secrets.FindSecret(ctx, r.Header.Kid)
		if err != nil {
			if i < len(env.Recipients)-1 {
				logger.Debugf("recipient kid %s not local, trying next", r.Header.Kid)
			}

			continue
		}

		wrapped, derr := b64dec(r.EncryptedKey)
		if derr != nil {
			return nil, "", nil, fmt.Errorf("%w: encrypted_key: %v", ErrMalformed, derr)
		}

		return sec, r.Header.Kid, wrapped, nil
	}

	return nil, "", nil, ErrRecipientKeyNotLocal
}

// decrypt unwraps the cek for the matched recipient and decrypts the
// content. For authcrypt it resolves and binds the sender key, returning the
// sender kid.
func (p *Packer) decrypt(ctx context.Context, env *jweJSON, hdr *protectedHeader,
	secret *secrets.Secret, wrappedKey []byte) ([]byte, string, error) {
	ephPub, err := hdr.Epk.PublicBytes()
	if err != nil {
		return nil, "", fmt.Errorf("%w: epk: %v", ErrMalformed, err)
	}

	iv, err := b64dec(env.IV)
	if err != nil {
		return nil, "", fmt.Errorf("%w: iv: %v", ErrMalformed, err)
	}

	ct, err := b64dec(env.Ciphertext)
	if err != nil {
		return nil, "", fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}

	tag, err := b64dec(env.Tag)
	if err != nil {
		return nil, "", fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}

	apu, err := b64dec(hdr.Apu)
	if err != nil {
		return nil, "", fmt.Errorf("%w: apu: %v", ErrMalformed, err)
	}

	apv, err := b64dec(hdr.Apv)
	if err != nil {
		return nil, "", fmt.Errorf("%w: apv: %v", ErrMalformed, err)
	}

	ze, err := secret.DeriveECDH(ephPub)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	var (
		kek       []byte
		senderKID string
	)

	switch hdr.Alg {
	case AlgAnoncrypt:
		kek = crypto.DeriveECDHESKey(ze, AlgAnoncrypt, apu, apv, 32)
	case AlgAuthcrypt:
		if hdr.Skid == "" {
			return nil, "", fmt.Errorf("%w: authcrypt without skid", ErrMalformed)
		}

		if len(apu) > 0 && hdr.Skid != string(apu) {
			return nil, "", fmt.Errorf("%w: apu does not match skid", ErrMalformed)
		}

		senderPub, serr := p.senderAgreementKey(ctx, hdr.Skid)
		if serr != nil {
			return nil, "", serr
		}

		zs, serr2 := secret.DeriveECDH(senderPub)
		if serr2 != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDecryptionFailed, serr2)
		}

		kek = crypto.DeriveECDH1PUKey(ze, zs, AlgAuthcrypt, apu, apv, tag, 32)
		senderKID = hdr.Skid
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, hdr.Alg)
	}

	cek, err := crypto.UnwrapKey(kek, wrappedKey)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := crypto.DecryptA256CBCHS512(cek, iv, ct, tag, []byte(env.Protected))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, senderKID, nil
}

// senderAgreementKey resolves the sender's key-agreement public key by kid.
func (p *Packer) senderAgreementKey(ctx context.Context, skid string) ([]byte, error) {
	vm, _, err := p.resolver.ResolveKey(ctx, skid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSenderResolutionFailed, skid, err)
	}

	pub, err := vm.KeyBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSenderResolutionFailed, skid, err)
	}

	return pub, nil
}

func splitKID(kid string) (string, string) {
	return diddoc.SplitDIDURL(kid)
}

func looksLikeJWE(data []byte) bool {
	return probeJSONKeys(data, "ciphertext", "protected")
}

func looksLikeJWS(data []byte) bool {
	return probeJSONKeys(data, "payload", "signatures")
}

func probeJSONKeys(data []byte, keys ...string) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}

	for _, k := range keys {
		if _, ok := probe[k]; !ok {
			return false
		}
	}

	return true
}
