// Package config - vault operational configuration
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alwitt/custody/encryption"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

// EnvPrefix prefix of the environment variables overriding the config file
const EnvPrefix = "VAULT"

// DatabaseConfig persistence config
type DatabaseConfig struct {
	// File sqlite database file
	File string `mapstructure:"file" json:"file" validate:"required"`
	// LogLevel SQL statement log level
	LogLevel string `mapstructure:"log_level" json:"log_level" validate:"required,oneof=silent error warn info"`
}

// GORMLogLevel the SQL log level as a GORM log level
func (c DatabaseConfig) GORMLogLevel() logger.LogLevel {
	switch c.LogLevel {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Error
	}
}

// IdentityConfig vault identity key config
type IdentityConfig struct {
	// EncapsulationKeyFile ML-KEM-768 private key PEM
	EncapsulationKeyFile string `mapstructure:"encapsulation_key_file" json:"encapsulation_key_file" validate:"required,file"`
	// SigningKeyFile ML-DSA-65 private key PEM
	SigningKeyFile string `mapstructure:"signing_key_file" json:"signing_key_file" validate:"required,file"`
	// TrustedSigningKeyFiles signing public key PEMs of earlier vault identities
	TrustedSigningKeyFiles []string `mapstructure:"trusted_signing_key_files" json:"trusted_signing_key_files,omitempty" validate:"omitempty,dive,file"`
}

/*
LoadTrustedSigningKeys read the signing public keys of earlier vault identities

	@returns the packed public keys
*/
func (c IdentityConfig) LoadTrustedSigningKeys() ([][]byte, error) {
	keys := make([][]byte, 0, len(c.TrustedSigningKeyFiles))
	for _, keyFile := range c.TrustedSigningKeyFiles {
		content, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("%s read error [%w]", keyFile, err)
		}
		pubKey, err := encryption.ParseSigningPublicKeyPEM(string(content))
		if err != nil {
			return nil, fmt.Errorf("%s is not a signing public key [%w]", keyFile, err)
		}
		keys = append(keys, pubKey)
	}
	return keys, nil
}

// ShareConfig share link policy config
type ShareConfig struct {
	// MaxTTL longest lifetime a link may be issued with
	MaxTTL time.Duration `mapstructure:"max_ttl" json:"max_ttl" validate:"gt=0"`
	// CleanupInterval time between janitor passes
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval" validate:"gt=0"`
	// GracePeriod how long an expired link is kept before it is deleted
	GracePeriod time.Duration `mapstructure:"grace_period" json:"grace_period" validate:"gte=0"`
	// Password link password hashing cost
	Password encryption.PasswordParams `mapstructure:"password" json:"password"`
}

// VaultConfig vault config
type VaultConfig struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Identity IdentityConfig `mapstructure:"identity" json:"identity"`
	Share    ShareConfig    `mapstructure:"share" json:"share"`
}

// installDefaults register every config key with its default. Environment overrides
// only apply to keys viper knows about.
func installDefaults(v *viper.Viper) {
	password := encryption.DefaultPasswordParams()

	v.SetDefault("database.file", "custody.db")
	v.SetDefault("database.log_level", "error")
	v.SetDefault("identity.encapsulation_key_file", "")
	v.SetDefault("identity.signing_key_file", "")
	v.SetDefault("identity.trusted_signing_key_files", []string{})
	v.SetDefault("share.max_ttl", 7*24*time.Hour)
	v.SetDefault("share.cleanup_interval", 5*time.Minute)
	v.SetDefault("share.grace_period", 24*time.Hour)
	v.SetDefault("share.password.memory_kib", password.MemoryKiB)
	v.SetDefault("share.password.iterations", password.Iterations)
	v.SetDefault("share.password.parallelism", password.Parallelism)
}

/*
LoadConfig load the vault config from a YAML file, with VAULT_ environment overrides.

An environment variable is the key path upper-cased with "." replaced by "_", e.g.
VAULT_SHARE_MAX_TTL.

	@param configFile string - the config file. Defaults and environment only if empty.
	@returns the validated config
*/
func LoadConfig(configFile string) (VaultConfig, error) {
	v := viper.New()
	installDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return VaultConfig{}, fmt.Errorf("failed to read config file %s [%w]", configFile, err)
		}
	}

	var cfg VaultConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return VaultConfig{}, fmt.Errorf("failed to parse config [%w]", err)
	}

	// Lists given through the environment arrive as one space separated string
	if len(cfg.Identity.TrustedSigningKeyFiles) == 1 {
		cfg.Identity.TrustedSigningKeyFiles = strings.Fields(cfg.Identity.TrustedSigningKeyFiles[0])
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return VaultConfig{}, fmt.Errorf("invalid config [%w]", err)
	}

	return cfg, nil
}
