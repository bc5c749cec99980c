package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"gorm.io/gorm"

	"github.com/blockedby/channel-archiver/internal/config"
)

// NewStringSessionClient connects using the portable session string from
// the environment. Nothing is written to disk.
func NewStringSessionClient(cfg *config.Config) (*gotgproto.Client, error) {
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.StringSession(cfg.TGSessionStr),
			DisableCopyright: true,
			InMemory:         true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create string-session client: %w", err)
	}
	return client, nil
}

// NewFileSessionClient connects using an existing per-phone sqlite session
// file. Session updates (auth key refreshes) persist back into the file.
func NewFileSessionClient(cfg *config.Config, sessionFile string) (*gotgproto.Client, error) {
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(sessionFile)),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create file-session client: %w", err)
	}
	return client, nil
}

// NewPhoneClient runs the interactive phone-code login (code and 2FA
// password prompted on the terminal) and persists the resulting session
// into sessionFile.
func NewPhoneClient(cfg *config.Config, phone, sessionFile string) (*gotgproto.Client, error) {
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(sessionFile)),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("phone login: %w", err)
	}
	return client, nil
}

// convertSession converts gotd session data to gotgproto's storage schema.
// gotgproto expects the raw JSON bytes of session.Data in its Session.Data
// field.
func convertSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}
	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}, nil
}

// SeedSessionFile writes session data captured outside gotgproto (the QR
// flow) into a sqlite session file NewFileSessionClient can open.
func SeedSessionFile(sessionFile string, data *session.Data) error {
	sess, err := convertSession(data)
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(sessionFile), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate session schema: %w", err)
	}
	// Version is the primary key, so Save upserts.
	if err := db.Save(sess).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
