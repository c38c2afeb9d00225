/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
)

// JWE algorithm identifiers supported on the wire.
const (
	AlgAuthcrypt = "ECDH-1PU+A256KW"
	AlgAnoncrypt = "ECDH-ES+A256KW"
	EncCBCHMAC   = "A256CBC-HS512"

	// MediaTypeEncrypted is the typ header and transport content type of an
	// encrypted DIDComm v2 envelope.
	MediaTypeEncrypted = "application/didcomm-encrypted+json"
	// MediaTypeSigned marks a signed DIDComm v2 message.
	MediaTypeSigned = "application/didcomm-signed+json"
	// MediaTypePlain marks an unprotected DIDComm v2 message.
	MediaTypePlain = "application/didcomm-plain+json"
)

// protectedHeader is the JWE protected header.
type protectedHeader struct {
	Typ  string   `json:"typ,omitempty"`
	Alg  string   `json:"alg"`
	Enc  string   `json:"enc"`
	Skid string   `json:"skid,omitempty"`
	Apu  string   `json:"apu,omitempty"`
	Apv  string   `json:"apv,omitempty"`
	Epk  *jwk.JWK `json:"epk"`
}

// jweJSON is the general JWE JSON serialization.
type jweJSON struct {
	Protected  string         `json:"protected"`
	Recipients []jweRecipient `json:"recipients"`
	IV         string         `json:"iv"`
	Ciphertext string         `json:"ciphertext"`
	Tag        string         `json:"tag"`
}

type jweRecipient struct {
	Header       jweRecipientHeader `json:"header"`
	EncryptedKey string             `json:"encrypted_key"`
}

type jweRecipientHeader struct {
	Kid string `json:"kid"`
}

func parseJWE(raw []byte) (*jweJSON, *protectedHeader, error) {
	var env jweJSON

	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Protected == "" || len(env.Recipients) == 0 {
		return nil, nil, fmt.Errorf("%w: missing protected header or recipients", ErrMalformed)
	}

	hdrBytes, err := base64.RawURLEncoding.DecodeString(env.Protected)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: protected header: %v", ErrMalformed, err)
	}

	var hdr protectedHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, nil, fmt.Errorf("%w: protected header: %v", ErrMalformed, err)
	}

	if hdr.Epk == nil {
		return nil, nil, fmt.Errorf("%w: missing epk", ErrMalformed)
	}

	return &env, &hdr, nil
}

// apvDigest computes the apv binding: SHA-256 over the sorted recipient key
// IDs joined with dots.
func apvDigest(kids []string) []byte {
	sorted := append([]string{}, kids...)
	sort.Strings(sorted)

	digest := sha256.Sum256([]byte(strings.Join(sorted, ".")))

	return digest[:]
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64dec(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
