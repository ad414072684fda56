package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// HomeDirName is the per-user directory holding config, token, and journal.
	HomeDirName = ".riskscore"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RISKSCORE_"

	AddressDefault   = ":8080"
	ArtifactsDefault = "artifacts"
	LogFormatDefault = "text"
	journalFileName  = "journal.db"

	configFileName = "config.yaml"
	dirMode        = 0700
	fileMode       = 0600
)

// Config represents app config object.
type Config struct {
	Address     string   `yaml:"address"`
	Artifacts   string   `yaml:"artifacts"`
	ArtifactURL string   `yaml:"artifact_url,omitempty"`
	Threshold   *float64 `yaml:"threshold,omitempty"`
	Journal     string   `yaml:"journal,omitempty"`
	LogFormat   string   `yaml:"log_format"`
}

func getDefaultConfig(dirPath string) *Config {
	return &Config{
		Address:   AddressDefault,
		Artifacts: ArtifactsDefault,
		Journal:   filepath.Join(dirPath, journalFileName),
		LogFormat: LogFormatDefault,
	}
}

// Save writes c into the config file of dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	path := filepath.Join(dirPath, configFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return errors.Wrapf(err, "failed to write config file: %s", configFileName)
	}
	return nil
}

// ReadOrCreate reads app config from directory or creates a new one.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirPath, dirMode); err != nil {
			return nil, errors.Wrapf(err, "failed to create dir: %s", dirPath)
		}
	}

	path := filepath.Join(dirPath, configFileName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(dirPath, getDefaultConfig(dirPath)); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file: %s", path)
	}

	c := getDefaultConfig(dirPath)
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling config file: %s", path)
	}
	return c, nil
}

// LoadEnv loads variables from the given .env files into the process
// environment without overriding what is already set. Missing files are
// ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "failed to load env file: %s", f)
		}
		slog.Debug("loaded env file", "path", f)
	}
	return nil
}

// ApplyEnv overrides c with any RISKSCORE_* variables set in the environment.
func (c *Config) ApplyEnv() error {
	set := func(key string, target *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	set("ADDRESS", &c.Address)
	set("ARTIFACTS", &c.Artifacts)
	set("ARTIFACT_URL", &c.ArtifactURL)
	set("JOURNAL", &c.Journal)
	set("LOG_FORMAT", &c.LogFormat)

	if v, ok := os.LookupEnv(EnvPrefix + "THRESHOLD"); ok && strings.TrimSpace(v) != "" {
		t, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %sTHRESHOLD: %s", EnvPrefix, v)
		}
		c.Threshold = &t
	}
	return nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get user home dir")
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, errors.Wrapf(err, "failed to create dir: %s", dir)
		}
		created = true
	}
	return dir, created, nil
}
