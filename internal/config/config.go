// Package config loads and validates the server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/artifactd/artifactd/internal/domain"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig             `mapstructure:"server"`
	Auth          AuthConfig               `mapstructure:"auth"`
	ChecksumCache ChecksumCacheConfig      `mapstructure:"checksum_cache"`
	EventLog      EventLogConfig           `mapstructure:"event_log"`
	Storages      map[string]StorageConfig `mapstructure:"storages"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ChecksumCacheConfig carries the digest cache knobs, in milliseconds.
type ChecksumCacheConfig struct {
	ExpiredCheckInterval int64 `mapstructure:"expired_check_interval"`
	Lifetime             int64 `mapstructure:"lifetime"`
}

// Interval returns the sweep interval as a duration.
func (c ChecksumCacheConfig) Interval() time.Duration {
	return time.Duration(c.ExpiredCheckInterval) * time.Millisecond
}

// TTL returns the entry lifetime as a duration.
func (c ChecksumCacheConfig) TTL() time.Duration {
	return time.Duration(c.Lifetime) * time.Millisecond
}

type EventLogConfig struct {
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Basedir      string                      `mapstructure:"basedir"`
	Repositories map[string]RepositoryConfig `mapstructure:"repositories"`
}

type RepositoryConfig struct {
	Type                   string   `mapstructure:"type"`
	Policy                 string   `mapstructure:"policy"`
	InService              *bool    `mapstructure:"in_service"`
	AllowsRedeployment     *bool    `mapstructure:"allows_redeployment"`
	ChecksumHeadersEnabled bool     `mapstructure:"checksum_headers_enabled"`
	Basedir                string   `mapstructure:"basedir"`
	GroupRepositories      []string `mapstructure:"group_repositories"`
}

// Load reads the configuration file (optional) and environment overrides.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 48080)
	v.SetDefault("server.data_dir", defaultDataDir())
	v.SetDefault("auth.enabled", false)
	v.SetDefault("checksum_cache.expired_check_interval", 300000)
	v.SetDefault("checksum_cache.lifetime", 60000)

	v.SetEnvPrefix("ARTIFACTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("artifactd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/artifactd")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			log.Debug().Msg("no config file found, using defaults")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./artifactd-data"
	}
	return filepath.Join(home, ".local", "share", "artifactd")
}

// normalize fills derived defaults: storage and repository base directories
// and the event log path.
func (c *Config) normalize() {
	if c.EventLog.Path == "" {
		c.EventLog.Path = filepath.Join(c.Server.DataDir, "events.db")
	}

	for storageID, storage := range c.Storages {
		if storage.Basedir == "" {
			storage.Basedir = filepath.Join(c.Server.DataDir, "storages", storageID)
		}
		for repoID, repo := range storage.Repositories {
			if repo.Basedir == "" {
				repo.Basedir = filepath.Join(storage.Basedir, repoID)
			}
			if repo.Type == "" {
				repo.Type = string(domain.RepositoryTypeHosted)
			}
			if repo.Policy == "" {
				repo.Policy = string(domain.PolicyMixed)
			}
			storage.Repositories[repoID] = repo
		}
		c.Storages[storageID] = storage
	}
}

// Validate rejects unknown repository types and policies, and group
// repositories whose member list is empty or names unknown repositories.
func (c *Config) Validate() error {
	for storageID, storage := range c.Storages {
		for repoID, repo := range storage.Repositories {
			switch domain.RepositoryType(repo.Type) {
			case domain.RepositoryTypeHosted, domain.RepositoryTypeGroup, domain.RepositoryTypeProxy:
			default:
				return fmt.Errorf("storage %s: repository %s: unknown type %q", storageID, repoID, repo.Type)
			}

			switch domain.VersionPolicy(repo.Policy) {
			case domain.PolicyRelease, domain.PolicySnapshot, domain.PolicyMixed:
			default:
				return fmt.Errorf("storage %s: repository %s: unknown policy %q", storageID, repoID, repo.Policy)
			}

			if domain.RepositoryType(repo.Type) == domain.RepositoryTypeGroup {
				if len(repo.GroupRepositories) == 0 {
					return fmt.Errorf("storage %s: group repository %s has no members", storageID, repoID)
				}
				for _, memberID := range repo.GroupRepositories {
					if _, ok := storage.Repositories[memberID]; !ok {
						return fmt.Errorf("storage %s: group repository %s: unknown member %q", storageID, repoID, memberID)
					}
				}
			}
		}
	}

	if c.Auth.Enabled && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth is enabled but username or password is empty")
	}
	return nil
}

// Topology builds the immutable domain model from the configuration.
func (c *Config) Topology() *domain.Topology {
	topology := &domain.Topology{Storages: make(map[string]*domain.Storage, len(c.Storages))}

	for storageID, storage := range c.Storages {
		s := &domain.Storage{
			ID:           storageID,
			Basedir:      storage.Basedir,
			Repositories: make(map[string]*domain.Repository, len(storage.Repositories)),
		}
		for repoID, repo := range storage.Repositories {
			inService := true
			if repo.InService != nil {
				inService = *repo.InService
			}
			allowsRedeployment := true
			if repo.AllowsRedeployment != nil {
				allowsRedeployment = *repo.AllowsRedeployment
			}
			s.Repositories[repoID] = &domain.Repository{
				ID:                     repoID,
				StorageID:              storageID,
				Type:                   domain.RepositoryType(repo.Type),
				Policy:                 domain.VersionPolicy(repo.Policy),
				InService:              inService,
				AllowsRedeployment:     allowsRedeployment,
				ChecksumHeadersEnabled: repo.ChecksumHeadersEnabled,
				Basedir:                repo.Basedir,
				GroupRepositories:      append([]string(nil), repo.GroupRepositories...),
			}
		}
		topology.Storages[storageID] = s
	}
	return topology
}
