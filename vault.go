// Package custody - confidential document vault with signed version chains and expiring
// share links
package custody

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/config"
	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/ledger"
	"github.com/alwitt/custody/models"
	"github.com/alwitt/custody/share"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Vault the assembled document vault
type Vault struct {
	// Persistence persistence layer client
	Persistence db.Client
	// Crypto the vault cryptography provider
	Crypto encryption.Provider
	// Ledger the document version ledger
	Ledger ledger.VersionLedger
	// Shares the share link issuer
	Shares share.LinkIssuer
}

// SharePolicy share link issuing policy
type SharePolicy struct {
	// MaxTTL longest allowed link lifetime. 0 is unbounded.
	MaxTTL time.Duration `validate:"gte=0"`
	// GracePeriod how long expired links are kept before deletion
	GracePeriod time.Duration `validate:"gte=0"`
	// Password argon2id cost for link passwords
	Password encryption.PasswordParams
}

// VaultParams vault init parameters
type VaultParams struct {
	// DBDialector GORM dialector
	DBDialector gorm.Dialector `validate:"required"`
	// DBLogLevel SQL log level
	DBLogLevel logger.LogLevel `validate:"-"`
	// DefineSchema create missing tables on start
	DefineSchema bool `validate:"-"`
	// Identity the vault identity
	Identity encryption.Identity `validate:"-"`
	// PreviousSigningKeys signing public keys of earlier vault identities
	PreviousSigningKeys [][]byte `validate:"-"`
	// Blobs the document blob store
	Blobs blob.Store `validate:"required"`
	// Share share link policy
	Share SharePolicy
}

/*
NewVault initialize a vault instance.

On first start the vault records its identity public keys. Later starts refuse a
different identity, unless the recorded signing key is one of the trusted previous
signing keys, in which case the identity is rotated.

	@param ctx context.Context - execution context
	@param params VaultParams - vault parameters
	@returns new vault instance
*/
func NewVault(ctx context.Context, params VaultParams) (*Vault, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid vault init parameters [%w]", err)
	}

	// Prepare persistence
	persistence, err := db.NewConnection(params.DBDialector, params.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}
	if params.DefineSchema {
		if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
			_ = persistence.Close()
			return nil, fmt.Errorf("failed to define vault tables [%w]", err)
		}
	}

	vault, err := assembleVault(ctx, persistence, params)
	if err != nil {
		_ = persistence.Close()
		return nil, err
	}
	return vault, nil
}

func assembleVault(ctx context.Context, persistence db.Client, params VaultParams) (*Vault, error) {
	// Prepare cryptography provider
	provider, err := encryption.NewProviderFromIdentity(ctx, params.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized cryptography provider [%w]", err)
	}

	if err := pinIdentity(ctx, persistence, provider, params.PreviousSigningKeys); err != nil {
		return nil, err
	}

	versions, err := ledger.NewVersionLedger(ledger.VersionLedgerParams{
		Persistence:         persistence,
		Crypto:              provider,
		Blobs:               params.Blobs,
		PreviousSigningKeys: params.PreviousSigningKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized version ledger [%w]", err)
	}

	ephemeral, err := encryption.NewEphemeralCipher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialized share link cipher [%w]", err)
	}

	issuer, err := share.NewLinkIssuer(share.IssuerParams{
		Persistence: persistence,
		Crypto:      provider,
		Ephemeral:   ephemeral,
		Blobs:       params.Blobs,
		Ledger:      versions,
		Password:    params.Share.Password,
		MaxTTL:      params.Share.MaxTTL,
		GracePeriod: params.Share.GracePeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized share link issuer [%w]", err)
	}

	return &Vault{
		Persistence: persistence, Crypto: provider, Ledger: versions, Shares: issuer,
	}, nil
}

// identityLogTags log tags of the identity pinning step
var identityLogTags = log.Fields{"package": "custody", "module": "vault", "component": "identity"}

// pinIdentity record the vault identity on first start, and check it on later starts
func pinIdentity(
	ctx context.Context,
	persistence db.Client,
	provider encryption.Provider,
	previousSigningKeys [][]byte,
) error {
	encPub := provider.EncapsulationPublicKey()
	sigPub := provider.SigningPublicKey()

	return persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			params, err := dbClient.GetVaultParamEntry(dbCtx)
			if err != nil {
				return err
			}

			switch params.State {
			case models.SystemStatePreInit:
				if err := dbClient.MarkVaultInitializing(dbCtx, encPub, sigPub); err != nil {
					return err
				}
				log.WithFields(identityLogTags).Info("Recorded vault identity")
				return dbClient.MarkVaultInitialized(dbCtx)

			case models.SystemStateInit:
				// Earlier start stopped half way
				if !bytes.Equal(params.SigningPublicKey, sigPub) ||
					!bytes.Equal(params.EncapsulationPublicKey, encPub) {
					return fmt.Errorf(
						"%w: vault was initializing with a different identity", models.ErrAccessDenied,
					)
				}
				return dbClient.MarkVaultInitialized(dbCtx)
			}

			if bytes.Equal(params.SigningPublicKey, sigPub) &&
				bytes.Equal(params.EncapsulationPublicKey, encPub) {
				return nil
			}

			for _, trusted := range previousSigningKeys {
				if bytes.Equal(trusted, params.SigningPublicKey) {
					log.WithFields(identityLogTags).
						Warn("Vault identity changed, rotating to the new identity")
					return dbClient.RotateVaultIdentity(dbCtx, encPub, sigPub)
				}
			}
			return fmt.Errorf(
				"%w: vault identity does not match the recorded identity", models.ErrAccessDenied,
			)
		},
	)
}

/*
NewVaultFromConfig initialize a vault instance from the operational config

	@param ctx context.Context - execution context
	@param cfg config.VaultConfig - the vault config
	@param blobs blob.Store - the document blob store
	@param defineSchema bool - create missing tables on start
	@returns new vault instance
*/
func NewVaultFromConfig(
	ctx context.Context, cfg config.VaultConfig, blobs blob.Store, defineSchema bool,
) (*Vault, error) {
	identity, err := encryption.LoadIdentity(
		cfg.Identity.EncapsulationKeyFile, cfg.Identity.SigningKeyFile,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault identity [%w]", err)
	}
	previous, err := cfg.Identity.LoadTrustedSigningKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted signing keys [%w]", err)
	}

	return NewVault(ctx, VaultParams{
		DBDialector:         db.GetSqliteDialector(cfg.Database.File),
		DBLogLevel:          cfg.Database.GORMLogLevel(),
		DefineSchema:        defineSchema,
		Identity:            identity,
		PreviousSigningKeys: previous,
		Blobs:               blobs,
		Share: SharePolicy{
			MaxTTL:      cfg.Share.MaxTTL,
			GracePeriod: cfg.Share.GracePeriod,
			Password:    cfg.Share.Password,
		},
	})
}

// Close release the vault's persistence connections
func (v *Vault) Close() error {
	return v.Persistence.Close()
}
