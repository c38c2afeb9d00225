/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package http exposes the mediator's synchronous inbound transport: one
// POST per envelope, with the response envelope (if any) as the body.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
)

var logger = log.New("mediator/transport/http")

// maxEnvelopeBytes bounds a single inbound request body.
const maxEnvelopeBytes = 4 << 20

// Inbound is the HTTP inbound transport.
type Inbound struct {
	dispatcher *dispatcher.Dispatcher
	handler    http.Handler
}

// New builds the transport around the dispatcher. extra routes (such as a
// websocket endpoint) may be registered on the returned router before
// serving.
func New(d *dispatcher.Dispatcher) (*Inbound, *mux.Router) {
	in := &Inbound{dispatcher: d}

	router := mux.NewRouter()
	router.HandleFunc("/", in.handleInbound).Methods(http.MethodPost)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	in.handler = cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	return in, router
}

// Handler returns the root handler to serve.
func (in *Inbound) Handler() http.Handler { return in.handler }

func (in *Inbound) handleInbound(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, envelope.MediaTypeEncrypted) {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	resp, err := in.dispatcher.Dispatch(r.Context(), body, nil)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", envelope.MediaTypeEncrypted)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(resp); err != nil {
		logger.Warnf("failed to write response envelope: %v", err)
	}
}

// writeDispatchError maps pipeline failures to generic statuses. No detail
// is returned: the requester could not be authenticated.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrUnauthenticated):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, envelope.ErrMalformed),
		errors.Is(err, envelope.ErrUnsupportedAlgorithm),
		errors.Is(err, envelope.ErrRecipientKeyNotLocal),
		errors.Is(err, envelope.ErrDecryptionFailed),
		errors.Is(err, envelope.ErrSignatureInvalid):
		http.Error(w, "bad request", http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		// client went away; nothing to write
	default:
		logger.Errorf("inbound processing failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logger.Warnf("failed to write health response: %v", err)
	}
}
