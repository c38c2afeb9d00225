/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package peer implements did:peer numalgo 2: the document is encoded in the
// DID itself as purpose-prefixed key fingerprints and a compressed service.
// The mediator also mints did:peer:2 DIDs as routing DIDs for mediate-grant.
package peer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/fingerprint"
)

const (
	// DIDMethod is the did:peer method name.
	DIDMethod = "peer"

	numalgo2Prefix = "2"

	purposeEncryption   = 'E'
	purposeVerification = 'V'
	purposeService      = 'S'

	ed25519VerificationKey2020 = "Ed25519VerificationKey2020"
	x25519KeyAgreementKey2020  = "X25519KeyAgreementKey2020"
)

// VDR resolves and creates did:peer DIDs (numalgo 2 only).
type VDR struct{}

// New returns a did:peer VDR.
func New() *VDR {
	return &VDR{}
}

// Accept reports whether this VDR handles the method.
func (v *VDR) Accept(method string) bool {
	return method == DIDMethod
}

// Read expands a did:peer:2 value to a DID document.
func (v *VDR) Read(_ context.Context, didPeer string) (*diddoc.Doc, error) {
	parsed, err := diddoc.Parse(didPeer)
	if err != nil {
		return nil, fmt.Errorf("%w: did:peer read: %v", vdr.ErrInvalid, err)
	}

	msid := parsed.MethodSpecificID
	if !strings.HasPrefix(msid, numalgo2Prefix+".") {
		return nil, fmt.Errorf("%w: unsupported did:peer numalgo: %s", vdr.ErrInvalid, msid)
	}

	doc := &diddoc.Doc{ID: didPeer}
	keyIndex := 0

	for _, element := range strings.Split(msid[len(numalgo2Prefix)+1:], ".") {
		if element == "" {
			return nil, fmt.Errorf("%w: empty did:peer:2 element", vdr.ErrInvalid)
		}

		purpose, value := element[0], element[1:]

		switch purpose {
		case purposeEncryption, purposeVerification:
			keyIndex++

			if err := appendKey(doc, purpose, value, keyIndex); err != nil {
				return nil, err
			}
		case purposeService:
			svc, err := decodeService(didPeer, value)
			if err != nil {
				return nil, err
			}

			doc.Service = append(doc.Service, *svc)
		default:
			return nil, fmt.Errorf("%w: unknown did:peer:2 purpose code %q", vdr.ErrInvalid, string(purpose))
		}
	}

	return doc, nil
}

func appendKey(doc *diddoc.Doc, purpose byte, mbKey string, index int) error {
	_, code, err := fingerprint.PubKeyFromFingerprint(mbKey)
	if err != nil {
		return fmt.Errorf("%w: did:peer:2 key element: %v", vdr.ErrInvalid, err)
	}

	keyID := fmt.Sprintf("%s#key-%d", doc.ID, index)

	vm := diddoc.VerificationMethod{
		ID:                 keyID,
		Controller:         doc.ID,
		PublicKeyMultibase: mbKey,
	}

	switch purpose {
	case purposeEncryption:
		if code != fingerprint.X25519PubKeyMultiCodec {
			return fmt.Errorf("%w: E element is not an X25519 key", vdr.ErrInvalid)
		}

		vm.Type = x25519KeyAgreementKey2020
		doc.KeyAgreement = append(doc.KeyAgreement, keyID)
	case purposeVerification:
		if code != fingerprint.ED25519PubKeyMultiCodec {
			return fmt.Errorf("%w: V element is not an Ed25519 key", vdr.ErrInvalid)
		}

		vm.Type = ed25519VerificationKey2020
		doc.Authentication = append(doc.Authentication, keyID)
		doc.AssertionMethod = append(doc.AssertionMethod, keyID)
	}

	doc.VerificationMethod = append(doc.VerificationMethod, vm)

	return nil
}

// abbreviated service form per the did:peer spec.
type abbreviatedService struct {
	Type            interface{} `json:"t,omitempty"`
	ServiceEndpoint interface{} `json:"s,omitempty"`
	RoutingKeys     []string    `json:"r,omitempty"`
	Accept          []string    `json:"a,omitempty"`
}

func decodeService(id, encoded string) (*diddoc.Service, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: did:peer:2 service element: %v", vdr.ErrInvalid, err)
	}

	var abbr abbreviatedService
	if err := json.Unmarshal(raw, &abbr); err != nil {
		return nil, fmt.Errorf("%w: did:peer:2 service element: %v", vdr.ErrInvalid, err)
	}

	svcType, _ := abbr.Type.(string)
	if svcType == "dm" || svcType == "" {
		svcType = diddoc.ServiceTypeDIDComm
	}

	return &diddoc.Service{
		ID:              id + "#didcommmessaging-0",
		Type:            svcType,
		ServiceEndpoint: expandEndpoint(abbr.ServiceEndpoint),
		RoutingKeys:     abbr.RoutingKeys,
		Accept:          abbr.Accept,
	}, nil
}

func expandEndpoint(ep interface{}) interface{} {
	obj, ok := ep.(map[string]interface{})
	if !ok {
		return ep
	}

	// expand abbreviated object keys
	out := map[string]interface{}{}

	for k, v := range obj {
		switch k {
		case "uri", "u":
			out["uri"] = v
		case "a":
			out["accept"] = v
		case "r":
			out["routingKeys"] = v
		default:
			out[k] = v
		}
	}

	return out
}

// Create mints a did:peer:2 DID from an Ed25519 verification key, an X25519
// key-agreement key and an optional DIDComm service endpoint URI.
func (v *VDR) Create(verPubKey, encPubKey []byte, serviceEndpoint string) (string, error) {
	if len(verPubKey) != 32 || len(encPubKey) != 32 {
		return "", fmt.Errorf("did:peer create: keys must be 32 bytes")
	}

	var b strings.Builder

	b.WriteString("did:peer:2")
	b.WriteString(".E")
	b.WriteString(fingerprint.KeyFingerprint(fingerprint.X25519PubKeyMultiCodec, encPubKey))
	b.WriteString(".V")
	b.WriteString(fingerprint.KeyFingerprint(fingerprint.ED25519PubKeyMultiCodec, verPubKey))

	if serviceEndpoint != "" {
		svc, err := json.Marshal(abbreviatedService{
			Type:            "dm",
			ServiceEndpoint: map[string]interface{}{"uri": serviceEndpoint},
			Accept:          []string{"didcomm/v2"},
		})
		if err != nil {
			return "", fmt.Errorf("did:peer create: marshal service: %w", err)
		}

		b.WriteString(".S")
		b.WriteString(base64.RawURLEncoding.EncodeToString(svc))
	}

	return b.String(), nil
}
