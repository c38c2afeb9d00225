/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package web implements the did:web method: the document is fetched over
// HTTPS from a well-known path derived from the DID.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
)

var logger = log.New("mediator/vdr/web")

const (
	// DIDMethod is the did:web method name.
	DIDMethod = "web"

	defaultFetchTimeout = 5 * time.Second
	maxRetries          = 2
	maxDocumentSize     = 1 << 20
)

// VDR resolves did:web DIDs.
type VDR struct {
	client       *http.Client
	fetchTimeout time.Duration
}

// Option configures the VDR.
type Option func(*VDR)

// WithHTTPClient overrides the HTTP client (tests, custom TLS).
func WithHTTPClient(c *http.Client) Option {
	return func(v *VDR) { v.client = c }
}

// WithFetchTimeout overrides the per-fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(v *VDR) { v.fetchTimeout = d }
}

// New returns a did:web VDR.
func New(opts ...Option) *VDR {
	v := &VDR{
		client:       &http.Client{},
		fetchTimeout: defaultFetchTimeout,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Accept reports whether this VDR handles the method.
func (v *VDR) Accept(method string) bool {
	return method == DIDMethod
}

// Read resolves a did:web DID by fetching its document. Network errors and
// 5xx responses are retried with backoff and surface as ErrTransient.
func (v *VDR) Read(ctx context.Context, didWeb string) (*diddoc.Doc, error) {
	address, err := buildAddress(didWeb)
	if err != nil {
		return nil, err
	}

	var body []byte

	op := func() error {
		var ferr error
		body, ferr = v.fetch(ctx, address)

		return ferr
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, vdr.ErrNotFound) || errors.Is(err, vdr.ErrInvalid) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: did:web fetch %s: %v", vdr.ErrTransient, address, err)
	}

	doc, err := diddoc.ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("%w: did:web document: %v", vdr.ErrInvalid, err)
	}

	if doc.ID != didWeb {
		return nil, fmt.Errorf("%w: document id %q does not match did %q", vdr.ErrInvalid, doc.ID, didWeb)
	}

	return doc, nil
}

func (v *VDR) fetch(ctx context.Context, address string) ([]byte, error) {
	fctx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: did:web request: %v", vdr.ErrInvalid, err))
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err // retryable
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warnf("failed to close did:web response body: %v", cerr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", vdr.ErrNotFound, address))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode) // retryable
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: did:web fetch status %d", vdr.ErrInvalid, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, err // retryable
	}

	return body, nil
}

// buildAddress converts a did:web DID to its document URL per the did:web
// spec: the method id is a percent-encoded host optionally followed by
// colon-separated path segments.
func buildAddress(didWeb string) (string, error) {
	parsed, err := diddoc.Parse(didWeb)
	if err != nil {
		return "", fmt.Errorf("%w: did:web: %v", vdr.ErrInvalid, err)
	}

	segments := strings.Split(parsed.MethodSpecificID, ":")

	host, err := url.PathUnescape(segments[0])
	if err != nil {
		return "", fmt.Errorf("%w: did:web host: %v", vdr.ErrInvalid, err)
	}

	if len(segments) == 1 {
		return "https://" + host + "/.well-known/did.json", nil
	}

	path := make([]string, 0, len(segments)-1)

	for _, seg := range segments[1:] {
		p, perr := url.PathUnescape(seg)
		if perr != nil {
			return "", fmt.Errorf("%w: did:web path: %v", vdr.ErrInvalid, perr)
		}

		path = append(path, p)
	}

	return "https://" + host + "/" + strings.Join(path, "/") + "/did.json", nil
}
