/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package did

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/multiformats/go-multibase"

	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
)

// ServiceTypeDIDComm is the service type marking a DIDComm v2 endpoint.
const ServiceTypeDIDComm = "DIDCommMessaging"

// Doc is a DID document. Verification methods are held in a single flat
// vector; authentication and keyAgreement hold references (DID URLs) into it,
// with embedded methods hoisted into the vector at parse time.
type Doc struct {
	Context            interface{}          `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
	KeyAgreement       []string             `json:"keyAgreement,omitempty"`
	Service            []Service            `json:"service,omitempty"`

	index map[string]int
}

// VerificationMethod is one entry of the document's flat method vector.
type VerificationMethod struct {
	ID                 string   `json:"id"`
	Type               string   `json:"type"`
	Controller         string   `json:"controller,omitempty"`
	PublicKeyMultibase string   `json:"publicKeyMultibase,omitempty"`
	PublicKeyBase58    string   `json:"publicKeyBase58,omitempty"`
	PublicKeyJwk       *jwk.JWK `json:"publicKeyJwk,omitempty"`
}

// KeyBytes returns the raw public key bytes from whichever encoding the
// method carries. Multikey values have their multicodec prefix stripped.
func (vm *VerificationMethod) KeyBytes() ([]byte, error) {
	switch {
	case vm.PublicKeyJwk != nil:
		return vm.PublicKeyJwk.PublicBytes()
	case vm.PublicKeyMultibase != "":
		_, data, err := multibase.Decode(vm.PublicKeyMultibase)
		if err != nil {
			return nil, fmt.Errorf("verification method %s: decode multibase: %w", vm.ID, err)
		}

		if len(data) == 34 { // 2-byte multicodec prefix + 32-byte key
			return data[2:], nil
		}

		return data, nil
	case vm.PublicKeyBase58 != "":
		return base58.Decode(vm.PublicKeyBase58), nil
	}

	return nil, fmt.Errorf("verification method %s: no key material", vm.ID)
}

// Service is a DID document service entry.
type Service struct {
	ID              string      `json:"id"`
	Type            string      `json:"type"`
	ServiceEndpoint interface{} `json:"serviceEndpoint,omitempty"`
	Accept          []string    `json:"accept,omitempty"`
	RoutingKeys     []string    `json:"routingKeys,omitempty"`
}

// EndpointURI extracts the endpoint URI whether the endpoint is a bare
// string or the DIDComm v2 object form {uri, accept, routingKeys}.
func (s *Service) EndpointURI() string {
	switch ep := s.ServiceEndpoint.(type) {
	case string:
		return ep
	case map[string]interface{}:
		if uri, ok := ep["uri"].(string); ok {
			return uri
		}
	}

	return ""
}

// ParseDocument parses DID document bytes. Embedded verification methods
// found inside authentication/keyAgreement arrays are moved into the flat
// VerificationMethod vector and replaced by references.
func ParseDocument(data []byte) (*Doc, error) {
	var raw struct {
		Context            interface{}          `json:"@context"`
		ID                 string               `json:"id"`
		AlsoKnownAs        []string             `json:"alsoKnownAs"`
		VerificationMethod []VerificationMethod `json:"verificationMethod"`
		Authentication     []json.RawMessage    `json:"authentication"`
		AssertionMethod    []json.RawMessage    `json:"assertionMethod"`
		KeyAgreement       []json.RawMessage    `json:"keyAgreement"`
		Service            []Service            `json:"service"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse did document: %w", err)
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("parse did document: missing id")
	}

	doc := &Doc{
		Context:            raw.Context,
		ID:                 raw.ID,
		AlsoKnownAs:        raw.AlsoKnownAs,
		VerificationMethod: raw.VerificationMethod,
		Service:            raw.Service,
	}

	var err error

	doc.Authentication, err = doc.hoistReferences(raw.Authentication)
	if err != nil {
		return nil, fmt.Errorf("parse did document authentication: %w", err)
	}

	doc.AssertionMethod, err = doc.hoistReferences(raw.AssertionMethod)
	if err != nil {
		return nil, fmt.Errorf("parse did document assertionMethod: %w", err)
	}

	doc.KeyAgreement, err = doc.hoistReferences(raw.KeyAgreement)
	if err != nil {
		return nil, fmt.Errorf("parse did document keyAgreement: %w", err)
	}

	doc.buildIndex()

	return doc, nil
}

// hoistReferences converts a mixed array of reference strings and embedded
// verification methods into pure references.
func (doc *Doc) hoistReferences(entries []json.RawMessage) ([]string, error) {
	var refs []string

	for _, e := range entries {
		var ref string
		if err := json.Unmarshal(e, &ref); err == nil {
			refs = append(refs, ref)
			continue
		}

		var vm VerificationMethod
		if err := json.Unmarshal(e, &vm); err != nil {
			return nil, fmt.Errorf("entry is neither reference nor method: %w", err)
		}

		doc.VerificationMethod = append(doc.VerificationMethod, vm)
		refs = append(refs, vm.ID)
	}

	return refs, nil
}

// BuildIndex (re)builds the fragment lookup index. ParseDocument calls this;
// hand-constructed documents must call it before VerificationMethodByID.
func (doc *Doc) buildIndex() {
	doc.index = make(map[string]int, len(doc.VerificationMethod))

	for i, vm := range doc.VerificationMethod {
		doc.index[vm.ID] = i

		// also index by bare fragment for relative references
		if _, frag := SplitDIDURL(vm.ID); frag != "" {
			doc.index["#"+frag] = i
		}
	}
}

// VerificationMethodByID looks up a method by absolute DID URL or relative
// "#fragment" reference.
func (doc *Doc) VerificationMethodByID(id string) (*VerificationMethod, bool) {
	if doc.index == nil {
		doc.buildIndex()
	}

	if i, ok := doc.index[id]; ok {
		return &doc.VerificationMethod[i], true
	}

	return nil, false
}

// AuthenticationMethods dereferences the authentication section.
func (doc *Doc) AuthenticationMethods() []*VerificationMethod {
	return doc.deref(doc.Authentication)
}

// KeyAgreementMethods dereferences the keyAgreement section.
func (doc *Doc) KeyAgreementMethods() []*VerificationMethod {
	return doc.deref(doc.KeyAgreement)
}

func (doc *Doc) deref(refs []string) []*VerificationMethod {
	var out []*VerificationMethod

	for _, ref := range refs {
		if vm, ok := doc.VerificationMethodByID(ref); ok {
			out = append(out, vm)
		}
	}

	return out
}

// DIDCommServices returns the document's DIDCommMessaging service entries.
func (doc *Doc) DIDCommServices() []Service {
	var out []Service

	for _, s := range doc.Service {
		if s.Type == ServiceTypeDIDComm {
			out = append(out, s)
		}
	}

	return out
}

// MarshalJSON serializes the document without the internal index.
func (doc *Doc) MarshalJSON() ([]byte, error) {
	type alias Doc
	return json.Marshal((*alias)(doc))
}
