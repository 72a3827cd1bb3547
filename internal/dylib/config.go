// Package dylib assembles the runtime described across internal/dylib's
// subpackages into the host application: it decodes the [[domain_proxy]]
// and [[plugin_config]] sections of the TOML config via viper, builds the
// rendezvous store / library cache / invoker / router, and launches any
// configured server plugins.
package dylib

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/goatkit/goatflow/internal/assetstore"
	"github.com/goatkit/goatflow/internal/dproxy"
	"github.com/goatkit/goatflow/internal/dylib/abi"
)

// AssetStoreConfig configures the chunked asset store.
type AssetStoreConfig struct {
	MetaDBPath string   `mapstructure:"meta_db_path"`
	ChunkDBs   []string `mapstructure:"chunk_dbs"`
	ChunkSize  string   `mapstructure:"chunk_size"`
	SweepCron  string   `mapstructure:"sweep_cron"`
}

// Config is the dylib runtime's section of the host's TOML configuration.
type Config struct {
	DomainProxy  []dproxy.DomainProxy `mapstructure:"domain_proxy"`
	PluginConfig []abi.PluginConfig   `mapstructure:"plugin_config"`
	AssetStore   AssetStoreConfig     `mapstructure:"asset_store"`
}

// LoadConfig decodes the dylib runtime's settings out of an already-read
// viper instance (the host binds its TOML file to v before calling this).
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode dylib config: %w", err)
	}
	return &cfg, nil
}

// ResolvedChunkSize parses AssetStore.ChunkSize via assetstore.ParseChunkSize,
// defaulting to 4 MiB when unset.
func (c Config) ResolvedChunkSize() (int64, error) {
	if c.AssetStore.ChunkSize == "" {
		return 4 * 1024 * 1024, nil
	}
	return assetstore.ParseChunkSize(c.AssetStore.ChunkSize)
}
