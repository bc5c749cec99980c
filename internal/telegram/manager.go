package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"

	"github.com/blockedby/channel-archiver/internal/config"
	"github.com/blockedby/channel-archiver/internal/logger"
)

// Status represents the Telegram client status.
type Status string

// Status constants define the possible states of the Telegram client.
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
)

// factory signatures, overridable for tests
type (
	stringFactory func(cfg *config.Config) (*gotgproto.Client, error)
	fileFactory   func(cfg *config.Config, sessionFile string) (*gotgproto.Client, error)
	phoneFactory  func(cfg *config.Config, phone, sessionFile string) (*gotgproto.Client, error)
	qrFactory     func(cfg *config.Config) (*QRClientBundle, error)
)

// Manager handles Telegram client lifecycle and authentication. The rest
// of the application consumes it as an opaque connected-client capability.
type Manager struct {
	cfg *config.Config
	log *logger.Logger

	client *gotgproto.Client
	status Status
	mu     sync.RWMutex

	newStringClient stringFactory
	newFileClient   fileFactory
	newPhoneClient  phoneFactory
	newQRClient     qrFactory
}

// NewManager creates a Telegram manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:             cfg,
		log:             logger.Get(),
		status:          StatusInitializing,
		newStringClient: NewStringSessionClient,
		newFileClient:   NewFileSessionClient,
		newPhoneClient:  NewPhoneClient,
		newQRClient:     NewQRClient,
	}
}

// GetStatus returns the current client status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetClient returns the underlying protocol client, or nil when not
// authorized.
func (m *Manager) GetClient() *gotgproto.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) setClient(client *gotgproto.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Stop()
	}
	m.client = client
	if client != nil {
		m.status = StatusReady
	} else {
		m.status = StatusUnauthorized
	}
}

// Init restores a session: the env session string wins, then the given
// session file. With neither, the manager stays unauthorized and waits
// for an interactive login.
func (m *Manager) Init(sessionFile string) error {
	if m.cfg.TGSessionStr != "" {
		client, err := m.newStringClient(m.cfg)
		if err != nil {
			m.log.Warn().Err(err).Msg("telegram: session string rejected")
			m.setClient(nil)
			return nil
		}
		m.setClient(client)
		m.log.Info().Msg("telegram: client ready (string session)")
		return nil
	}

	if sessionFile == "" {
		m.log.Info().Msg("telegram: no stored session, waiting for login")
		m.setClient(nil)
		return nil
	}

	client, err := m.newFileClient(m.cfg, sessionFile)
	if err != nil {
		m.log.Warn().Err(err).Str("session_file", sessionFile).Msg("telegram: stored session rejected")
		m.setClient(nil)
		return nil
	}
	m.setClient(client)
	m.log.Info().Str("session_file", sessionFile).Msg("telegram: client ready")
	return nil
}

// LoginWithPhone runs the interactive phone-code login and keeps the
// resulting client.
func (m *Manager) LoginWithPhone(phone, sessionFile string) error {
	client, err := m.newPhoneClient(m.cfg, phone, sessionFile)
	if err != nil {
		return err
	}
	m.setClient(client)
	return nil
}

// StartQR runs the QR login flow. Blocks until login succeeds or ctx is
// canceled; on success the captured session is seeded into sessionFile
// and the manager reconnects through it.
func (m *Manager) StartQR(ctx context.Context, sessionFile string, onQRCode func(url string)) error {
	if m.GetStatus() == StatusReady {
		return fmt.Errorf("already logged in")
	}

	bundle, err := m.newQRClient(m.cfg)
	if err != nil {
		return fmt.Errorf("create QR client: %w", err)
	}

	var authErr error
	var sessionData *session.Data

	err = bundle.Client.Run(ctx, func(ctx context.Context) error {
		qr := bundle.Client.QR()
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, authErr = qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			onQRCode(token.URL())
			return nil
		})
		if authErr != nil {
			return authErr
		}

		loader := session.Loader{Storage: bundle.Storage}
		sessionData, authErr = loader.Load(ctx)
		return authErr
	})
	if err != nil || authErr != nil {
		if errors.Is(err, context.Canceled) || errors.Is(authErr, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("QR auth flow failed: %w", errors.Join(err, authErr))
	}
	if sessionData == nil {
		return fmt.Errorf("session data is nil after successful auth")
	}

	if err := SeedSessionFile(sessionFile, sessionData); err != nil {
		return fmt.Errorf("seed session file: %w", err)
	}
	return m.Init(sessionFile)
}

// Stop stops the Telegram client.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Stop()
		m.client = nil
		m.status = StatusUnauthorized
	}
}
