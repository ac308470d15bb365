// Package confstore persists application configuration as a JSON document on
// disk. Refresh tokens are encrypted before they hit the file and decrypted
// on the way out; a legacy encrypted-password config is migrated on first
// read. Corrupt or missing files degrade to empty state, never to a crash.
package confstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/birthdayd/internal/config"
	"github.com/birthdayd/internal/model"
	"github.com/birthdayd/internal/secrets"
)

// Document is the on-disk configuration shape.
type Document struct {
	SMTP model.SMTPSettings `json:"smtp"`
}

// legacyConfig is the pre-OAuth2 desktop format: the password encrypted with
// AES-CBC, all crypto material hex-encoded alongside it. Read once, then
// superseded by the current format.
type legacyConfig struct {
	EncryptedPassword string      `json:"encryptedPassword"`
	Key               string      `json:"key"`
	IV                string      `json:"iv"`
	SMTPServer        string      `json:"smtpServer"`
	SMTPPort          json.Number `json:"smtpPort"`
	SMTPEmail         string      `json:"smtpEmail"`
	RecipientEmail    string      `json:"recipientEmail"`
}

type Store struct {
	paths  config.Paths
	codec  *secrets.Codec
	logger *slog.Logger
}

func New(paths config.Paths, codec *secrets.Codec, logger *slog.Logger) *Store {
	return &Store{paths: paths, codec: codec, logger: logger}
}

// Load reads the config document. An absent or unparsable file yields an
// empty document: a corrupt config must never take the service down.
func (s *Store) Load() Document {
	var doc Document
	raw, err := os.ReadFile(s.paths.ConfigFile)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("config: unparsable file ignored", "path", s.paths.ConfigFile, "err", err)
		return Document{}
	}
	return doc
}

// Save writes the document, creating parent directories as needed. The write
// goes through a temp file and a rename so a concurrent reader sees either
// the old or the new document, never a torn one.
func (s *Store) Save(doc Document) error {
	if err := os.MkdirAll(filepath.Dir(s.paths.ConfigFile), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.paths.ConfigFile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.paths.ConfigFile)
}

// Reset deletes the config file. Idempotent.
func (s *Store) Reset() error {
	err := os.Remove(s.paths.ConfigFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SMTPSettings returns the stored mail settings with the refresh token
// decrypted into its plaintext field. When nothing usable is stored it
// attempts a one-time migration from the legacy config file.
func (s *Store) SMTPSettings() model.SMTPSettings {
	settings := s.Load().SMTP

	if settings.GoogleRefreshTokenEncrypted != "" {
		plaintext, err := s.codec.Decrypt(settings.GoogleRefreshTokenEncrypted)
		if err != nil {
			// Unreadable token means "not connected", not an outage.
			s.logger.Warn("config: stored refresh token unreadable, treating as absent")
			settings.GoogleRefreshToken = ""
		} else {
			settings.GoogleRefreshToken = plaintext
		}
		settings.GoogleRefreshTokenEncrypted = ""
	}

	if settings.IsZero() {
		if migrated, ok := s.migrateLegacy(); ok {
			return migrated
		}
	}
	return settings
}

// SaveSMTPSettings persists settings, replacing any plaintext refresh token
// with its ciphertext. The client secret stays in storage because token
// refresh needs it later; the read path strips it for external callers.
func (s *Store) SaveSMTPSettings(settings model.SMTPSettings) error {
	if settings.GoogleRefreshToken != "" {
		ciphertext, err := s.codec.Encrypt(settings.GoogleRefreshToken)
		if err != nil {
			return err
		}
		settings.GoogleRefreshTokenEncrypted = ciphertext
		settings.GoogleRefreshToken = ""
	}

	doc := s.Load()
	doc.SMTP = settings
	return s.Save(doc)
}

// migrateLegacy reads the old smtp.json sibling file, decrypts its password
// and persists the result in the current format. Returns ok=false when there
// is nothing to migrate or the legacy material is unreadable; both cases are
// silent by design.
func (s *Store) migrateLegacy() (model.SMTPSettings, bool) {
	raw, err := os.ReadFile(s.paths.LegacyConfigFile)
	if err != nil {
		return model.SMTPSettings{}, false
	}
	var legacy legacyConfig
	if err := json.Unmarshal(raw, &legacy); err != nil {
		s.logger.Warn("config: legacy file unparsable, skipping migration", "err", err)
		return model.SMTPSettings{}, false
	}

	password, err := secrets.DecryptLegacyCBC(legacy.EncryptedPassword, legacy.Key, legacy.IV)
	if err != nil {
		s.logger.Warn("config: legacy password unreadable, skipping migration")
		return model.SMTPSettings{}, false
	}

	port, _ := strconv.Atoi(legacy.SMTPPort.String())
	settings := model.SMTPSettings{
		SMTPServer:     legacy.SMTPServer,
		SMTPPort:       port,
		SMTPEmail:      legacy.SMTPEmail,
		RecipientEmail: legacy.RecipientEmail,
		AuthType:       model.AuthAppPassword,
		SMTPPassword:   password,
	}

	if err := s.SaveSMTPSettings(settings); err != nil {
		s.logger.Warn("config: persisting migrated settings failed", "err", err)
		return settings, true
	}
	s.logger.Info("config: migrated legacy smtp settings", "server", settings.SMTPServer)
	return settings, true
}
