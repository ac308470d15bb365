package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	configFileName = "birthday_reminder_config.json"
	legacyFileName = "smtp.json"
	keyFileName    = ".oauth_key"
	dbFileName     = "birthdays.db"
)

// Paths holds every filesystem location the application touches. Resolved
// once at startup so nothing else has to ask the environment where files live.
type Paths struct {
	// DataDir holds the config file, key file and database.
	DataDir string

	ConfigFile       string
	LegacyConfigFile string
	KeyFile          string
	DBFile           string
	UploadsDir       string
}

type Config struct {
	// Server
	Host string
	Port string
	Env  string // development, production

	// Portable mode keeps all state in a data/ directory beside the binary
	// instead of the user's home directory.
	Portable bool

	Paths Paths
}

func Load() (*Config, error) {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	flag.StringVar(&cfg.Host, "host", getEnv("HOST", "127.0.0.1"), "Host to bind to")
	flag.StringVar(&cfg.Port, "port", getEnv("PORT", "5000"), "Port to bind to")
	flag.StringVar(&cfg.Env, "env", getEnv("ENV", "development"), "Environment (development, production)")
	flag.BoolVar(&cfg.Portable, "portable", getEnv("BIRTHDAY_REMINDER_PORTABLE", "") == "true", "Use portable mode (local data directory)")

	flag.Parse()

	dataDir, err := resolveDataDir(cfg.Portable)
	if err != nil {
		return nil, err
	}
	cfg.Paths = PathsIn(dataDir)

	return cfg, nil
}

// PathsIn derives all file locations from a data directory. Split out so
// tests can point the application at a temporary directory.
func PathsIn(dataDir string) Paths {
	return Paths{
		DataDir:          dataDir,
		ConfigFile:       filepath.Join(dataDir, configFileName),
		LegacyConfigFile: filepath.Join(dataDir, legacyFileName),
		KeyFile:          filepath.Join(dataDir, keyFileName),
		DBFile:           filepath.Join(dataDir, dbFileName),
		UploadsDir:       filepath.Join(dataDir, "uploads"),
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// resolveDataDir picks the state directory: data/ beside the executable in
// portable mode, ~/.birthday_reminder otherwise.
func resolveDataDir(portable bool) (string, error) {
	if portable {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolving executable path: %w", err)
		}
		return filepath.Join(filepath.Dir(exe), "data"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".birthday_reminder"), nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
