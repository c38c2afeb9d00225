/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ws exposes the mediator's streaming inbound transport. A client
// keeps one websocket open, sends envelopes as binary frames, and receives
// responses and live deliveries on the same socket.
package ws

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
)

var logger = log.New("mediator/transport/ws")

// Notifier packs out-of-band notifications for a recipient, such as the
// displaced problem-report sent when a newer transport takes over a live
// session. May be nil.
type Notifier interface {
	PackDisplaced(ctx context.Context, recipientDID string) ([]byte, error)
}

// Inbound is the websocket inbound transport.
type Inbound struct {
	dispatcher *dispatcher.Dispatcher
	sessions   *live.Registry
	notifier   Notifier
}

// New builds the transport around the dispatcher. Sessions bound to a socket
// are detached from the registry when that socket closes.
func New(d *dispatcher.Dispatcher, sessions *live.Registry, notifier Notifier) *Inbound {
	return &Inbound{dispatcher: d, sessions: sessions, notifier: notifier}
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (in *Inbound) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warnf("websocket accept failed: %v", err)
		return
	}

	defer conn.Close(websocket.StatusNormalClosure, "done")

	in.serve(r.Context(), conn)
}

// connBinder funnels live sessions into one socket writer and detaches them
// when the socket goes away.
type connBinder struct {
	ctx      context.Context
	conn     *websocket.Conn
	sessions *live.Registry
	notifier Notifier
	writeMu  *sync.Mutex
	wg       sync.WaitGroup

	mu    sync.Mutex
	bound []*live.Session
}

// Bind implements dispatcher.SessionBinder. Each bound session gets a pump
// goroutine copying deliveries to the socket.
func (b *connBinder) Bind(sess *live.Session) {
	b.mu.Lock()
	b.bound = append(b.bound, sess)
	b.mu.Unlock()

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		b.pump(sess)
	}()
}

// detachAll releases every session bound to this socket so queued items fall
// back to store-and-forward. Detach closes each session channel, which ends
// its pump. Sessions already displaced carry a stale token and are skipped
// by the registry.
func (b *connBinder) detachAll() {
	b.mu.Lock()
	bound := b.bound
	b.bound = nil
	b.mu.Unlock()

	for _, sess := range bound {
		b.sessions.Detach(sess.Recipient(), sess.Token())
	}
}

func (b *connBinder) pump(sess *live.Session) {
	for d := range sess.Deliveries() {
		if err := b.write(d.Message); err != nil {
			logger.Debugf("live delivery write failed, leaving item queued: %v", err)
			return
		}
	}

	if sess.CloseReason() == live.ReasonDisplaced && b.notifier != nil {
		frame, err := b.notifier.PackDisplaced(b.ctx, sess.Recipient())
		if err != nil {
			logger.Warnf("failed to pack displaced notification: %v", err)
			return
		}

		if err := b.write(frame); err != nil {
			logger.Debugf("displaced notification write failed: %v", err)
		}
	}
}

func (b *connBinder) write(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.conn.Write(b.ctx, websocket.MessageBinary, frame)
}

func (in *Inbound) serve(ctx context.Context, conn *websocket.Conn) {
	binder := &connBinder{
		ctx:      ctx,
		conn:     conn,
		sessions: in.sessions,
		notifier: in.notifier,
		writeMu:  &sync.Mutex{},
	}

	defer binder.wg.Wait()
	defer binder.detachAll()

	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			logger.Debugf("websocket closed: %v", err)
			return
		}

		resp, err := in.dispatcher.Dispatch(ctx, frame, binder)
		if err != nil {
			// nothing is owed to an unauthenticated peer; keep serving
			logger.Debugf("dropping invalid inbound frame: %v", err)
			continue
		}

		if resp == nil {
			continue
		}

		if err := binder.write(resp); err != nil {
			logger.Warnf("failed to write response frame: %v", err)
			return
		}
	}
}
