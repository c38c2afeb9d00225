/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package vdr resolves DIDs to DID documents through method-specific
// resolvers, caching positive results in a bounded TTL cache.
package vdr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	diddoc "github.com/openmediation/didcomm-mediator-go/pkg/doc/did"
)

var logger = log.New("mediator/vdr")

// Resolution failure classes. Method resolvers wrap these so callers can
// branch with errors.Is.
var (
	// ErrNotFound means the DID does not resolve to a document.
	ErrNotFound = errors.New("did not found")
	// ErrInvalid means the DID or the returned document is malformed.
	ErrInvalid = errors.New("did invalid")
	// ErrTransient means resolution failed for a retryable reason.
	ErrTransient = errors.New("did resolution transient failure")
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute
)

// VDR resolves DIDs of the methods it accepts.
type VDR interface {
	Accept(method string) bool
	Read(ctx context.Context, did string) (*diddoc.Doc, error)
}

// Option configures the registry.
type Option func(*Registry)

// WithCacheSize bounds the resolution cache.
func WithCacheSize(n int) Option {
	return func(r *Registry) { r.cacheSize = n }
}

// WithCacheTTL sets the positive-result cache TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Registry) { r.cacheTTL = d }
}

// WithAllowedMethods restricts resolution to the named DID methods. An empty
// list allows every registered method.
func WithAllowedMethods(methods ...string) Option {
	return func(r *Registry) {
		r.allowed = map[string]struct{}{}
		for _, m := range methods {
			r.allowed[m] = struct{}{}
		}
	}
}

// Registry resolves DIDs through method resolvers behind a shared cache.
type Registry struct {
	vdrs      []VDR
	cache     gcache.Cache
	cacheSize int
	cacheTTL  time.Duration
	allowed   map[string]struct{}
}

// New builds a registry over the given method resolvers.
func New(vdrs []VDR, opts ...Option) *Registry {
	r := &Registry{
		vdrs:      vdrs,
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.cache = gcache.New(r.cacheSize).LRU().Build()

	return r
}

// Resolve resolves a DID to its document. Positive results are cached for
// the configured TTL; failures are never cached.
func (r *Registry) Resolve(ctx context.Context, didID string) (*diddoc.Doc, error) {
	parsed, err := diddoc.Parse(didID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if r.allowed != nil {
		if _, ok := r.allowed[parsed.Method]; !ok {
			return nil, fmt.Errorf("%w: method %q not allowed", ErrNotFound, parsed.Method)
		}
	}

	if cached, cerr := r.cache.Get(didID); cerr == nil {
		return cached.(*diddoc.Doc), nil
	}

	for _, v := range r.vdrs {
		if !v.Accept(parsed.Method) {
			continue
		}

		doc, rerr := v.Read(ctx, didID)
		if rerr != nil {
			return nil, rerr
		}

		if serr := r.cache.SetWithExpire(didID, doc, r.cacheTTL); serr != nil {
			logger.Warnf("failed to cache did document for %s: %v", didID, serr)
		}

		return doc, nil
	}

	return nil, fmt.Errorf("%w: no resolver for method %q", ErrNotFound, parsed.Method)
}

// ResolveKey resolves a DID URL to the verification method it names and the
// containing document.
func (r *Registry) ResolveKey(ctx context.Context, kid string) (*diddoc.VerificationMethod, *diddoc.Doc, error) {
	didID, _ := diddoc.SplitDIDURL(kid)

	doc, err := r.Resolve(ctx, didID)
	if err != nil {
		return nil, nil, err
	}

	vm, ok := doc.VerificationMethodByID(kid)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no verification method %q", ErrNotFound, kid)
	}

	return vm, doc, nil
}
