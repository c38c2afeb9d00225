/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package key implements the did:key method: documents are derived
// deterministically from the multicodec key fingerprint in the DID itself.
package key

import (
	"context"
	"fmt"
	"regexp"

	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/fingerprint"
)

const (
	// DIDMethod is the did:key method name.
	DIDMethod = "key"

	ed25519VerificationKey2020   = "Ed25519VerificationKey2020"
	x25519KeyAgreementKey2020    = "X25519KeyAgreementKey2020"
	multicodecFingerprintPattern = `^(z)([1-9a-km-zA-HJ-NP-Z]{46,48})$`
)

var methodIDRegex = regexp.MustCompile(multicodecFingerprintPattern)

// VDR resolves did:key DIDs.
type VDR struct{}

// New returns a did:key VDR.
func New() *VDR {
	return &VDR{}
}

// Accept reports whether this VDR handles the method.
func (v *VDR) Accept(method string) bool {
	return method == DIDMethod
}

// Read expands a did:key value to a DID document.
func (v *VDR) Read(_ context.Context, didKey string) (*diddoc.Doc, error) {
	parsed, err := diddoc.Parse(didKey)
	if err != nil {
		return nil, fmt.Errorf("%w: did:key read: %v", vdr.ErrInvalid, err)
	}

	if !methodIDRegex.MatchString(parsed.MethodSpecificID) {
		return nil, fmt.Errorf("%w: invalid did:key method ID: %s", vdr.ErrInvalid, parsed.MethodSpecificID)
	}

	pubKeyBytes, code, err := fingerprint.PubKeyFromFingerprint(parsed.MethodSpecificID)
	if err != nil {
		return nil, fmt.Errorf("%w: did:key read: %v", vdr.ErrInvalid, err)
	}

	switch code {
	case fingerprint.ED25519PubKeyMultiCodec:
		return createEd25519Doc(parsed.MethodSpecificID, pubKeyBytes)
	case fingerprint.X25519PubKeyMultiCodec:
		return createX25519Doc(parsed.MethodSpecificID, pubKeyBytes), nil
	}

	return nil, fmt.Errorf("%w: unsupported key multicodec code [0x%x]", vdr.ErrInvalid, code)
}

func createEd25519Doc(methodID string, pubKeyBytes []byte) (*diddoc.Doc, error) {
	didKey := fmt.Sprintf("did:key:%s", methodID)
	keyID := fmt.Sprintf("%s#%s", didKey, methodID)

	// keyAgreement carries the X25519 conversion of the Ed25519 key, with
	// its own fingerprint as the fragment.
	curvePub, err := fingerprint.PublicEd25519toCurve25519(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: did:key read: convert key agreement key: %v", vdr.ErrInvalid, err)
	}

	agrFingerprint := fingerprint.KeyFingerprint(fingerprint.X25519PubKeyMultiCodec, curvePub)
	agrKeyID := fmt.Sprintf("%s#%s", didKey, agrFingerprint)

	doc := &diddoc.Doc{
		ID: didKey,
		VerificationMethod: []diddoc.VerificationMethod{
			{
				ID:           keyID,
				Type:         ed25519VerificationKey2020,
				Controller:   didKey,
				PublicKeyJwk: jwk.FromPublicKey(jwk.CrvEd25519, pubKeyBytes),
			},
			{
				ID:           agrKeyID,
				Type:         x25519KeyAgreementKey2020,
				Controller:   didKey,
				PublicKeyJwk: jwk.FromPublicKey(jwk.CrvX25519, curvePub),
			},
		},
		Authentication:  []string{keyID},
		AssertionMethod: []string{keyID},
		KeyAgreement:    []string{agrKeyID},
	}

	return doc, nil
}

func createX25519Doc(methodID string, pubKeyBytes []byte) *diddoc.Doc {
	didKey := fmt.Sprintf("did:key:%s", methodID)
	keyID := fmt.Sprintf("%s#%s", didKey, methodID)

	return &diddoc.Doc{
		ID: didKey,
		VerificationMethod: []diddoc.VerificationMethod{{
			ID:           keyID,
			Type:         x25519KeyAgreementKey2020,
			Controller:   didKey,
			PublicKeyJwk: jwk.FromPublicKey(jwk.CrvX25519, pubKeyBytes),
		}},
		KeyAgreement: []string{keyID},
	}
}
