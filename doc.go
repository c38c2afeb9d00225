/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didcommmediator is a DIDComm v2 cloud mediator: it accepts
// encrypted messages over HTTP and WebSocket, routes forwarded messages to
// mediated recipients, stores them until pickup, and streams them live when
// a recipient keeps a socket open.
//
// Packages for end developer usage
//
// pkg/mediator: Assembles the full service from a Config. Use New, then
// Start/Stop, or embed the Dispatcher in your own server.
//
// pkg/didcomm/envelope: The pack/unpack engine (authcrypt, anoncrypt,
// signed envelopes) for building clients that talk to the mediator.
//
// cmd/mediator: The runnable server binary.
//
// Basic workflow
//
//	1) Write a YAML config (or rely on the defaults).
//	2) m, err := mediator.New(cfg)
//	3) m.Start() serves until m.Stop(ctx).
package didcommmediator
