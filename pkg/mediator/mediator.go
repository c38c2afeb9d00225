/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/didrotate"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/dispatcher"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/problemreport"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/discoverfeatures"
	coordination "github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/mediator"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/messagepickup"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/routing"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/protocol/trustping"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/secrets"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage/mem"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage/sqlite"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
	transporthttp "github.com/openmediation/didcomm-mediator-go/pkg/transport/http"
	"github.com/openmediation/didcomm-mediator-go/pkg/transport/ws"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/key"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/peer"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr/web"
)

var logger = log.New("mediator")

const identityStoreName = "identity"

// Mediator is the assembled service.
type Mediator struct {
	cfg *Config

	storageProvider storage.Provider
	secretsStore    *secrets.Store
	resolver        *vdr.Registry
	peerVDR         *peer.VDR
	packer          *envelope.Packer

	conns     *connection.Store
	mailboxes *mailbox.Store
	sessions  *live.Registry

	dispatcher *dispatcher.Dispatcher
	server     *http.Server

	// DID is the mediator's own DID, minted on first start and persisted.
	DID string
}

// New assembles a mediator from configuration.
func New(cfg *Config) (*Mediator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel("", lvl)
	}

	m := &Mediator{cfg: cfg}

	if err := m.initStorage(); err != nil {
		return nil, err
	}

	if err := m.initResolver(); err != nil {
		return nil, err
	}

	if err := m.initIdentity(); err != nil {
		return nil, err
	}

	if err := m.initStores(); err != nil {
		return nil, err
	}

	m.initPipeline()

	return m, nil
}

func (m *Mediator) initStorage() error {
	switch m.cfg.Storage.Type {
	case StorageSQLite:
		provider, err := sqlite.NewProvider(m.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open sqlite storage: %w", err)
		}

		m.storageProvider = provider
	default:
		m.storageProvider = mem.NewProvider()
	}

	secretsStore, err := secrets.NewStore(m.storageProvider)
	if err != nil {
		return err
	}

	m.secretsStore = secretsStore

	return nil
}

func (m *Mediator) initResolver() error {
	m.peerVDR = peer.New()

	m.resolver = vdr.New(
		[]vdr.VDR{key.New(), m.peerVDR, web.New()},
		vdr.WithCacheSize(m.cfg.ResolverCacheSize),
		vdr.WithCacheTTL(time.Duration(m.cfg.ResolverCacheTTLSeconds)*time.Second),
		vdr.WithAllowedMethods(m.cfg.AllowedDIDMethods...),
	)

	return nil
}

// initIdentity loads the mediator's own DID or mints a fresh did:peer:2
// bound to the external URL, registering its keys with the secrets store.
func (m *Mediator) initIdentity() error {
	store, err := m.storageProvider.OpenStore(identityStoreName)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}

	existing, err := store.Get("self")
	if err == nil {
		m.DID = string(existing)

		if m.cfg.MediatorDID != "" && m.cfg.MediatorDID != m.DID {
			return fmt.Errorf("configured mediator_did %s does not match stored identity %s",
				m.cfg.MediatorDID, m.DID)
		}

		logger.Infof("loaded mediator identity %s", m.DID)

		return nil
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("load identity: %w", err)
	}

	if m.cfg.MediatorDID != "" {
		return fmt.Errorf("configured mediator_did %s has no keys in the secrets store",
			m.cfg.MediatorDID)
	}

	did, err := m.mintPeerDID()
	if err != nil {
		return err
	}

	if err := store.Put("self", []byte(did)); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}

	m.DID = did
	logger.Infof("minted mediator identity %s", m.DID)

	return nil
}

// MintRoutingDID implements coordination.RoutingDIDSource: each granted
// client gets a dedicated routing DID with locally held keys.
func (m *Mediator) MintRoutingDID(_ context.Context) (string, error) {
	return m.mintPeerDID()
}

// mintPeerDID generates fresh keypairs, mints a did:peer:2 with the
// mediator's service endpoint, and imports the private keys.
func (m *Mediator) mintPeerDID() (string, error) {
	verPub, verPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}

	var encPriv [32]byte

	if _, err := rand.Read(encPriv[:]); err != nil {
		return "", fmt.Errorf("generate key agreement key: %w", err)
	}

	encPub, err := curve25519.X25519(encPriv[:], curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("generate key agreement key: %w", err)
	}

	did, err := m.peerVDR.Create(verPub, encPub, m.cfg.ExternalURL)
	if err != nil {
		return "", err
	}

	// key-1 is the E (X25519) element, key-2 the V (Ed25519) element
	enc := base64.RawURLEncoding

	err = m.secretsStore.Import(did+"#key-1", &jwk.JWK{
		Kty: jwk.KtyOKP,
		Crv: jwk.CrvX25519,
		X:   enc.EncodeToString(encPub),
		D:   enc.EncodeToString(encPriv[:]),
	})
	if err != nil {
		return "", err
	}

	err = m.secretsStore.Import(did+"#key-2", &jwk.JWK{
		Kty: jwk.KtyOKP,
		Crv: jwk.CrvEd25519,
		X:   enc.EncodeToString(verPub),
		D:   enc.EncodeToString(verPriv.Seed()),
	})
	if err != nil {
		return "", err
	}

	return did, nil
}

func (m *Mediator) initStores() error {
	conns, err := connection.New(m.storageProvider)
	if err != nil {
		return err
	}

	mailboxes, err := mailbox.New(m.storageProvider,
		mailbox.WithSoftCap(m.cfg.MailboxSoftCap),
		mailbox.WithHardByteCap(m.cfg.MailboxHardByteCap))
	if err != nil {
		return err
	}

	m.conns = conns
	m.mailboxes = mailboxes
	m.sessions = live.New(live.WithBackpressureBound(m.cfg.LiveDeliveryBackpressureBound))

	return nil
}

func (m *Mediator) initPipeline() {
	m.packer = envelope.New(m.resolver, m.secretsStore,
		envelope.WithSupportedAlgs(m.cfg.SupportedAlgs...))

	pickup := messagepickup.New(m.conns, m.mailboxes, m.sessions, m.packer, m.DID)

	services := []dispatcher.Service{
		coordination.New(m.conns, m.mailboxes, m.sessions, m, m.DID),
		pickup,
		routing.New(m.conns, m.mailboxes, m.sessions, pickup),
		trustping.New(),
		discoverfeatures.New([]string{
			coordination.ProtocolURI,
			messagepickup.ProtocolURI,
			routing.ProtocolURI,
			trustping.ProtocolURI,
			discoverfeatures.ProtocolURI,
		}),
	}

	rotator := didrotate.New(m.resolver, m.conns)

	m.dispatcher = dispatcher.New(m.packer, m.DID, rotator, services...)

	inbound, router := transporthttp.New(m.dispatcher)
	router.Handle("/ws", ws.New(m.dispatcher, m.sessions, m))

	m.server = &http.Server{
		Addr:              m.cfg.ListenAddr,
		Handler:           inbound.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Dispatcher exposes the inbound pipeline, mainly for tests and embedding.
func (m *Mediator) Dispatcher() *dispatcher.Dispatcher { return m.dispatcher }

// PackDisplaced implements ws.Notifier: the displaced transport receives an
// encrypted problem-report addressed to the session's client.
func (m *Mediator) PackDisplaced(ctx context.Context, recipientDID string) ([]byte, error) {
	rec, err := m.conns.RouteForKey(recipientDID)
	if err != nil {
		return nil, err
	}

	pr := problemreport.New(problemreport.CodeDisplaced,
		"a newer transport took over live delivery", nil)
	pr.From = m.DID
	pr.To = []string{rec.ClientDID}

	return m.packer.Pack(ctx, pr, m.DID, []string{rec.ClientDID}, envelope.PackOptions{})
}

// Start serves the inbound transports until Stop is called.
func (m *Mediator) Start() error {
	logger.Infof("mediator %s listening on %s", m.DID, m.cfg.ListenAddr)

	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// Stop shuts down the transports, closes live sessions and releases
// storage.
func (m *Mediator) Stop(ctx context.Context) error {
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	m.sessions.CloseAll()

	return m.storageProvider.Close()
}
