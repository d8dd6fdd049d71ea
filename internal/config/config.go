package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable the app reads.
const EnvPrefix = "REPORTAPP_"

const keyVar = EnvPrefix + "KEY"

type Config struct {
	Port                  int
	AppKey                string
	JWTSecret             string
	TokenTTL              time.Duration
	SettingsPath          string
	DBPath                string
	APIURL                string
	AdminSettingsPassword string
	PBIXDir               string
	DashboardRefresh      time.Duration

	LogDir        string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var defaults = map[string]interface{}{
	"port":                      8080,
	"token_ttl_hours":           8,
	"settings_path":             "instance/settings.json",
	"db_path":                   "reportapp.db",
	"api_url":                   "",
	"admin_settings_password":   "",
	"pbix_dir":                  ".",
	"dashboard_refresh_seconds": 60,
	"log_dir":                   "logs",
	"log_max_size_mb":           10,
	"log_max_backups":           5,
	"log_max_age_days":          30,
	"log_compress":              false,
}

func Load() (*Config, error) {
	// Try loading .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	// REPORTAPP_DB_PATH -> db_path
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	key := k.String("key")
	if len(key) < 32 {
		fmt.Println(keyVar + " not found or too short. Generating a new secure key...")
		newKey, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}

		if err := saveKeyToEnv(".env", newKey); err != nil {
			fmt.Printf("Warning: Failed to save generated key to .env: %v\n", err)
		} else {
			fmt.Println("New " + keyVar + " saved to .env file.")
		}
		key = newKey
	}

	return fromKoanf(k, key), nil
}

func fromKoanf(k *koanf.Koanf, key string) *Config {
	cfg := &Config{
		Port:                  k.Int("port"),
		AppKey:                key,
		JWTSecret:             k.String("jwt_secret"),
		TokenTTL:              time.Duration(k.Int("token_ttl_hours")) * time.Hour,
		SettingsPath:          k.String("settings_path"),
		DBPath:                k.String("db_path"),
		APIURL:                strings.TrimRight(k.String("api_url"), "/"),
		AdminSettingsPassword: k.String("admin_settings_password"),
		PBIXDir:               k.String("pbix_dir"),
		DashboardRefresh:      time.Duration(k.Int("dashboard_refresh_seconds")) * time.Second,
		LogDir:                k.String("log_dir"),
		LogMaxSizeMB:          k.Int("log_max_size_mb"),
		LogMaxBackups:         k.Int("log_max_backups"),
		LogMaxAgeDays:         k.Int("log_max_age_days"),
		LogCompress:           k.Bool("log_compress"),
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = key
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}
	if cfg.APIURL == "" {
		cfg.APIURL = fmt.Sprintf("http://127.0.0.1:%d/api", cfg.Port)
	}
	return cfg
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// saveKeyToEnv writes the key line into filename, replacing an existing one.
func saveKeyToEnv(filename, key string) error {
	content, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return os.WriteFile(filename, []byte(fmt.Sprintf("%s=%s\n%sPORT=8080\n", keyVar, key, EnvPrefix)), 0644)
	} else if err != nil {
		return err
	}

	lines := strings.Split(decodeEnvFile(content), "\n")
	found := false
	newLines := []string{}

	for _, line := range lines {
		trimmed := strings.ReplaceAll(strings.TrimSpace(line), "\x00", "")
		if strings.HasPrefix(trimmed, keyVar+"=") {
			newLines = append(newLines, fmt.Sprintf("%s=%s", keyVar, key))
			found = true
		} else if trimmed != "" {
			newLines = append(newLines, trimmed)
		}
	}

	if !found {
		newLines = append(newLines, fmt.Sprintf("%s=%s", keyVar, key))
	}

	return os.WriteFile(filename, []byte(strings.Join(newLines, "\n")+"\n"), 0644)
}

// decodeEnvFile returns the file as UTF-8. Editors on Windows like to save
// .env as UTF-16LE, with or without a BOM.
func decodeEnvFile(content []byte) string {
	hasBOM := len(content) >= 2 && content[0] == 0xff && content[1] == 0xfe

	nullCount := 0
	if !hasBOM && len(content) > 10 {
		for _, b := range content {
			if b == 0 {
				nullCount++
			}
		}
	}
	isImplicitUTF16 := !hasBOM && len(content) > 0 && (float64(nullCount)/float64(len(content)) > 0.3)

	if !hasBOM && !isImplicitUTF16 {
		return string(content)
	}

	start := 0
	if hasBOM {
		start = 2
	}
	data := content[start:]
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}

	u16s := make([]uint16, len(data)/2)
	for i := 0; i < len(u16s); i++ {
		u16s[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return string(utf16.Decode(u16s))
}
