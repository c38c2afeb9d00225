/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didrotate verifies from_prior rotation claims and migrates the
// rotating client's connection to its new DID.
package didrotate

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
	"github.com/openmediation/didcomm-mediator-go/pkg/secrets"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
)

var logger = log.New("mediator/didrotate")

// ErrInvalidRotation means the from_prior claim failed verification. The
// connection is left unchanged.
var ErrInvalidRotation = errors.New("invalid rotation")

type claims struct {
	Iss string `json:"iss"`
	Sub string `json:"sub"`
	Iat int64  `json:"iat,omitempty"`
}

// Rotator verifies rotation claims against the prior DID's authentication
// key and applies them to the connection store.
type Rotator struct {
	resolver *vdr.Registry
	conns    *connection.Store
}

// New creates a Rotator.
func New(resolver *vdr.Registry, conns *connection.Store) *Rotator {
	return &Rotator{resolver: resolver, conns: conns}
}

// HandleRotation verifies fromPrior and moves the prior DID's connection to
// newDID. The keylist index follows the connection; mailboxes are keyed by
// recipient DID and stay in place.
func (r *Rotator) HandleRotation(ctx context.Context, fromPrior, newDID string) error {
	priorDID, err := r.verify(ctx, fromPrior, newDID)
	if err != nil {
		return err
	}

	if _, err := r.conns.Rotate(priorDID, newDID); err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return fmt.Errorf("%w: no connection for prior DID", ErrInvalidRotation)
		}

		return err
	}

	logger.Infof("applied DID rotation from %s", priorDID)

	return nil
}

// verify checks the from_prior JWT and returns the proven prior DID.
func (r *Rotator) verify(ctx context.Context, fromPrior, newDID string) (string, error) {
	if newDID == "" {
		return "", fmt.Errorf("%w: rotation requires a proven sender", ErrInvalidRotation)
	}

	jws, err := jose.ParseSigned(fromPrior)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRotation, err)
	}

	if len(jws.Signatures) == 0 {
		return "", fmt.Errorf("%w: no signature", ErrInvalidRotation)
	}

	kid := jws.Signatures[0].Header.KeyID
	if kid == "" {
		return "", fmt.Errorf("%w: missing kid", ErrInvalidRotation)
	}

	priorDID, _ := diddoc.SplitDIDURL(kid)

	doc, err := r.resolver.Resolve(ctx, priorDID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve prior DID: %v", ErrInvalidRotation, err)
	}

	var pub []byte

	for _, vm := range doc.AuthenticationMethods() {
		if vm.ID == kid {
			pub, err = vm.KeyBytes()
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidRotation, err)
			}
		}
	}

	if pub == nil {
		return "", fmt.Errorf("%w: %s is not an authentication key of %s",
			ErrInvalidRotation, kid, priorDID)
	}

	payload, err := jws.Verify(ed25519.PublicKey(pub))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRotation, err)
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", fmt.Errorf("%w: claims: %v", ErrInvalidRotation, err)
	}

	if c.Iss != priorDID {
		return "", fmt.Errorf("%w: iss does not match signing key", ErrInvalidRotation)
	}

	if c.Sub != newDID {
		return "", fmt.Errorf("%w: sub does not match the rotating sender", ErrInvalidRotation)
	}

	if c.Iss == c.Sub {
		return "", fmt.Errorf("%w: iss equals sub", ErrInvalidRotation)
	}

	return priorDID, nil
}

// CreateFromPrior builds a from_prior JWT attesting that priorDID rotates to
// newDID, signed with the prior DID's authentication secret.
func CreateFromPrior(priorDID, newDID string, signer *secrets.Secret) (string, error) {
	hdr, err := json.Marshal(map[string]string{
		"typ": "JWT",
		"alg": "EdDSA",
		"kid": signer.KeyID(),
	})
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(claims{Iss: priorDID, Sub: newDID, Iat: time.Now().Unix()})
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(hdr) + "." + enc.EncodeToString(payload)

	sig, err := signer.SignEdDSA([]byte(signingInput))
	if err != nil {
		return "", err
	}

	return signingInput + "." + enc.EncodeToString(sig), nil
}
