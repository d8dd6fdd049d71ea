package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"reportapp/internal/core"
)

// Cipher encrypts secrets at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(cryptoText string) (string, error)
}

// FileSettingsStore keeps the runtime DB settings in a JSON file. The
// password is stored encrypted under password_enc.
type FileSettingsStore struct {
	mu     sync.Mutex
	path   string
	cipher Cipher
}

func NewFileSettingsStore(path string, cipher Cipher) *FileSettingsStore {
	return &FileSettingsStore{path: path, cipher: cipher}
}

type settingsFile struct {
	core.DBSettings
	PasswordEnc string `json:"password_enc,omitempty"`
}

// Load returns stored settings with defaults filled in. A missing file is
// not an error.
func (s *FileSettingsStore) Load() (core.DBSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := settingsFile{DBSettings: DefaultSettings()}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return f.DBSettings, nil
	} else if err != nil {
		return core.DBSettings{}, err
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return core.DBSettings{}, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}

	settings := f.DBSettings
	if f.PasswordEnc != "" {
		pw, err := s.cipher.Decrypt(f.PasswordEnc)
		if err != nil {
			return core.DBSettings{}, fmt.Errorf("failed to decrypt stored password: %w", err)
		}
		settings.Password = pw
	}
	return withDefaults(settings), nil
}

func (s *FileSettingsStore) Save(settings core.DBSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := settingsFile{DBSettings: settings}
	f.Password = ""
	if settings.Password != "" {
		enc, err := s.cipher.Encrypt(settings.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		f.PasswordEnc = enc
	}

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// DefaultSettings is what GET /admin/settings reports before anything is saved.
func DefaultSettings() core.DBSettings {
	return core.DBSettings{
		Engine:  core.EngineSQLServer,
		Driver:  core.DefaultODBCDriver,
		Port:    core.DefaultPort,
		Trusted: true,
		Encrypt: false,
	}
}

func withDefaults(s core.DBSettings) core.DBSettings {
	if s.Engine == "" {
		s.Engine = core.EngineSQLServer
	}
	if s.Driver == "" {
		s.Driver = core.DefaultODBCDriver
	}
	if s.Port == 0 {
		s.Port = core.DefaultPort
	}
	return s
}

// ApplyPatch merges non-nil fields of p into s. An empty password clears it;
// report_database is mirrored into reports_database when the latter is unset.
func ApplyPatch(s core.DBSettings, p core.SettingsPatch) core.DBSettings {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.Engine, p.Engine)
	set(&s.Driver, p.Driver)
	set(&s.Host, p.Host)
	set(&s.Database, p.Database)
	set(&s.ReportDatabase, p.ReportDatabase)
	set(&s.ReportsDatabase, p.ReportsDatabase)
	set(&s.Username, p.Username)
	set(&s.Password, p.Password)
	if p.Port != nil {
		s.Port = *p.Port
	}
	if p.Trusted != nil {
		s.Trusted = *p.Trusted
	}
	if p.Encrypt != nil {
		s.Encrypt = *p.Encrypt
	}
	if p.ReportDatabase != nil && p.ReportsDatabase == nil {
		s.ReportsDatabase = *p.ReportDatabase
	}
	return withDefaults(s)
}
