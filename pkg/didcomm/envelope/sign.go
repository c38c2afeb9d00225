/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v3"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
)

type jwsJSON struct {
	Payload    string         `json:"payload"`
	Signatures []jwsSignature `json:"signatures"`
}

type jwsSignature struct {
	Protected string            `json:"protected"`
	Header    map[string]string `json:"header,omitempty"`
	Signature string            `json:"signature"`
}

// sign wraps payload in a general-JSON EdDSA JWS using the sender's
// authentication key.
func (p *Packer) sign(ctx context.Context, payload []byte, from string) ([]byte, error) {
	did, _ := diddoc.SplitDIDURL(from)

	doc, err := p.resolver.Resolve(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("sign: resolve %s: %w", did, err)
	}

	var kid string

	for _, vm := range doc.AuthenticationMethods() {
		if _, serr := p.secrets.FindSecret(ctx, vm.ID); serr == nil {
			kid = vm.ID
			break
		}
	}

	if kid == "" {
		return nil, fmt.Errorf("sign: no local authentication secret for %s", did)
	}

	secret, err := p.secrets.FindSecret(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	// kid goes in the protected header so verifiers see it as the
	// integrity-covered signer identity
	hdrBytes, err := json.Marshal(map[string]string{
		"typ": MediaTypeSigned,
		"alg": "EdDSA",
		"kid": kid,
	})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	protected := b64(hdrBytes)
	payloadB64 := b64(payload)

	sig, err := secret.SignEdDSA([]byte(protected + "." + payloadB64))
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	return json.Marshal(&jwsJSON{
		Payload: payloadB64,
		Signatures: []jwsSignature{{
			Protected: protected,
			Signature: b64(sig),
		}},
	})
}

// verifySigned checks the embedded JWS against the signer's authentication
// key and returns the parsed message and the proven signer kid.
func (p *Packer) verifySigned(ctx context.Context, raw []byte) (*message.Message, string, error) {
	jws, err := jose.ParseSigned(string(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(jws.Signatures) == 0 {
		return nil, "", fmt.Errorf("%w: no signatures", ErrMalformed)
	}

	kid := jws.Signatures[0].Header.KeyID
	if kid == "" {
		return nil, "", fmt.Errorf("%w: missing signer kid", ErrMalformed)
	}

	did, _ := diddoc.SplitDIDURL(kid)

	doc, err := p.resolver.Resolve(ctx, did)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrSenderResolutionFailed, did, err)
	}

	var signerPub []byte

	for _, vm := range doc.AuthenticationMethods() {
		if vm.ID != kid {
			continue
		}

		signerPub, err = vm.KeyBytes()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrSenderResolutionFailed, kid, err)
		}
	}

	if signerPub == nil {
		return nil, "", fmt.Errorf("%w: %s is not an authentication key of %s",
			ErrSignatureInvalid, kid, did)
	}

	payload, err := jws.Verify(ed25519.PublicKey(signerPub))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	msg, err := message.Parse(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: signed payload: %v", ErrMalformed, err)
	}

	return msg, kid, nil
}
