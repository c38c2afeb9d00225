/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package did models decentralized identifiers and DID documents as consumed
// by the mediator: verification methods, authentication and key-agreement
// references, and DIDCommMessaging service entries.
package did

import (
	"fmt"
	"strings"
)

// DID is a parsed decentralized identifier.
type DID struct {
	// Method is the DID method, e.g. "key" for did:key:....
	Method string
	// MethodSpecificID is everything after the method.
	MethodSpecificID string
}

// String re-assembles the DID URI.
func (d *DID) String() string {
	return "did:" + d.Method + ":" + d.MethodSpecificID
}

// Parse validates and splits a DID URI.
func Parse(did string) (*DID, error) {
	const prefix = "did:"

	if !strings.HasPrefix(did, prefix) {
		return nil, fmt.Errorf("invalid did %q: missing did: prefix", did)
	}

	rest := did[len(prefix):]

	idx := strings.Index(rest, ":")
	if idx < 1 || idx == len(rest)-1 {
		return nil, fmt.Errorf("invalid did %q: expected did:<method>:<id>", did)
	}

	return &DID{Method: rest[:idx], MethodSpecificID: rest[idx+1:]}, nil
}

// SplitDIDURL splits a DID URL into the bare DID and the fragment (without
// '#'). The fragment is empty when absent.
func SplitDIDURL(didURL string) (string, string) {
	if i := strings.Index(didURL, "#"); i >= 0 {
		return didURL[:i], didURL[i+1:]
	}

	return didURL, ""
}
