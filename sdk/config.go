package sdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gosuda.org/walletconnect/utils"
	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
	"gosuda.org/walletconnect/walletconnect/store"
)

// Store backends selectable from a config file.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StorePebble = "pebble"
)

// StoreConfig selects where saved sessions live.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Slot    string `yaml:"slot"`
}

// FileConfig is the YAML form of Config. Booleans are pointers so an omitted
// key keeps its default.
type FileConfig struct {
	BridgeURL                    string              `yaml:"bridge_url"`
	ChainID                      int                 `yaml:"chain_id"`
	ConnectRetryCount            int                 `yaml:"connect_retry_count"`
	AutoSaveAndResume            *bool               `yaml:"auto_save_and_resume"`
	CreateNewSessionOnDisconnect *bool               `yaml:"create_new_session_on_disconnect"`
	RequestTimeout               time.Duration       `yaml:"request_timeout"`
	Backoff                      *BackoffConfig      `yaml:"backoff"`
	ClientMeta                   *wcproto.ClientMeta `yaml:"client_meta"`
	Store                        StoreConfig         `yaml:"store"`
}

func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *FileConfig) validate() error {
	var errs []string

	if cfg.BridgeURL != "" {
		if _, err := utils.NormalizeBridgeURL(cfg.BridgeURL); err != nil {
			errs = append(errs, fmt.Sprintf("bridge_url: %v", err))
		}
	}
	if cfg.ChainID < 0 {
		errs = append(errs, "chain_id: must be positive")
	}
	if cfg.ConnectRetryCount < 0 {
		errs = append(errs, "connect_retry_count: cannot be negative")
	}
	if cfg.RequestTimeout < 0 {
		errs = append(errs, "request_timeout: cannot be negative")
	}
	if b := cfg.Backoff; b != nil {
		if b.InitialDelay < 0 || b.MaxDelay < 0 {
			errs = append(errs, "backoff: delays cannot be negative")
		}
		if b.Multiplier != 0 && b.Multiplier < 1 {
			errs = append(errs, "backoff.multiplier: must be at least 1")
		}
	}
	if cfg.ClientMeta != nil && strings.TrimSpace(cfg.ClientMeta.Name) == "" {
		errs = append(errs, "client_meta.name: is required")
	}

	switch cfg.Store.Backend {
	case StoreMemory:
	case StoreFile, StorePebble:
		if strings.TrimSpace(cfg.Store.Dir) == "" {
			errs = append(errs, fmt.Sprintf("store.dir: required for the %s backend", cfg.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend: %v %q", ErrUnknownStoreBackend, cfg.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n - %s", ErrInvalidConfig, strings.Join(errs, "\n - "))
	}

	return nil
}

// Options converts the file into client options. The store is opened here;
// Client.Shutdown closes it.
func (cfg *FileConfig) Options() ([]Option, error) {
	var opts []Option
	if cfg.BridgeURL != "" {
		opts = append(opts, WithBridgeURL(cfg.BridgeURL))
	}
	if cfg.ChainID > 0 {
		opts = append(opts, WithChainID(cfg.ChainID))
	}
	if cfg.ConnectRetryCount > 0 {
		opts = append(opts, WithConnectRetryCount(cfg.ConnectRetryCount))
	}
	if cfg.AutoSaveAndResume != nil {
		opts = append(opts, WithAutoSaveAndResume(*cfg.AutoSaveAndResume))
	}
	if cfg.CreateNewSessionOnDisconnect != nil {
		opts = append(opts, WithCreateNewSessionOnDisconnect(*cfg.CreateNewSessionOnDisconnect))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.Backoff != nil {
		opts = append(opts, WithBackoff(*cfg.Backoff))
	}
	if cfg.ClientMeta != nil {
		opts = append(opts, WithClientMeta(cfg.ClientMeta))
	}

	st, err := cfg.Store.open()
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithStore(st))
	return opts, nil
}

func (sc StoreConfig) open() (walletconnect.SessionStore, error) {
	slot := sc.Slot
	if slot == "" {
		slot = DefaultStorageSlot
	}
	switch sc.Backend {
	case "", StoreMemory:
		return store.NewMemoryStore(), nil
	case StoreFile:
		return store.NewFileStore(sc.Dir, slot)
	case StorePebble:
		return store.OpenPebbleStore(filepath.Join(sc.Dir, "sessions"), slot, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStoreBackend, sc.Backend)
	}
}
