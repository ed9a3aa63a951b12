// Package share - time and access limited share links to document snapshots
package share

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/ledger"
	"github.com/alwitt/custody/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// CreateLinkRequest parameters for issuing a share link
type CreateLinkRequest struct {
	// DocumentID the document to share
	DocumentID string `validate:"required"`
	// Creator the issuing user. Must be allowed to access the document.
	Creator string `validate:"required"`
	// TTL how long the link stays valid
	TTL time.Duration `validate:"required,gt=0"`
	// MaxAccesses access budget. 0 is unlimited; 1 burns the link after one use.
	MaxAccesses int `validate:"gte=0"`
	// Password optional password protecting the link
	Password string `validate:"-"`
	// AllowedIPs optional source address allowlist. Addresses or CIDR prefixes.
	AllowedIPs []string `validate:"omitempty,dive,ip|cidr"`
	// Watermark optional display watermark
	Watermark string `validate:"-"`
	// RecipientInfo optional display metadata about the recipient
	RecipientInfo string `validate:"-"`
}

// AccessRequest one attempt to download through a share link
type AccessRequest struct {
	// ShareID the presented link token
	ShareID string `validate:"required"`
	// SourceIP source address of the requester
	SourceIP string `validate:"omitempty,ip"`
	// Password the supplied password, if any
	Password string `validate:"-"`
}

// CleanupReport outcome of one expired link cleanup pass
type CleanupReport struct {
	// KeysDestroyed links whose ephemeral key was wiped
	KeysDestroyed int
	// LinksDeleted links removed past the grace period
	LinksDeleted int
}

/*
LinkIssuer issues, evaluates and revokes share links.

Every access attempt re-evaluates the stored link; nothing is cached. The access counter
only moves through an atomic compare-and-increment, so a budget can never be overspent
by concurrent downloads.
*/
type LinkIssuer interface {
	/*
		CreateShareLink snapshot the current document content under a one-time key and
		issue a link to it

			@param ctx context.Context - execution context
			@param req CreateLinkRequest - link parameters
			@returns the link. Key material and password hash are not included.
	*/
	CreateShareLink(ctx context.Context, req CreateLinkRequest) (models.SecureShareLink, error)

	/*
		IsLinkValid evaluate a link's policy against its current stored state

			@param ctx context.Context - execution context
			@param shareID string - the link token
			@param sourceIP string - the requester address, if known
			@returns the verdict and, if invalid, the first failing reason
	*/
	IsLinkValid(ctx context.Context, shareID string, sourceIP string) (models.ShareValidity, error)

	/*
		VerifyPassword check a supplied password against the link's password hash. A link
		with no password never matches, and takes as long to reject as a wrong password.

			@param ctx context.Context - execution context
			@param shareID string - the link token
			@param password string - the supplied password
			@returns whether the password matches
	*/
	VerifyPassword(ctx context.Context, shareID string, password string) (bool, error)

	/*
		LogAccess record an access attempt. A successful attempt consumes one access only
		if the link is still valid for its source address at that instant; otherwise it is recorded as a failure
		and a policy violation is returned.

			@param ctx context.Context - execution context
			@param shareID string - the link token
			@param attempt models.ShareAccessEvent - the attempt
	*/
	LogAccess(ctx context.Context, shareID string, attempt models.ShareAccessEvent) error

	/*
		AccessLink resolve a link to its content: validate, check the password, decrypt,
		then consume one access

			@param ctx context.Context - execution context
			@param req AccessRequest - the access attempt
			@returns the content and its verification labels
	*/
	AccessLink(ctx context.Context, req AccessRequest) (models.ShareDownload, error)

	/*
		RevokeLink permanently revoke a link. Only its creator may revoke it.

			@param ctx context.Context - execution context
			@param shareID string - the link token
			@param revoker string - the requesting user
			@param reason string - optional reason
	*/
	RevokeLink(ctx context.Context, shareID string, revoker string, reason string) error

	/*
		ListShareLinks list links issued by a user, newest first

			@param ctx context.Context - execution context
			@param creator string - the issuing user
			@returns the links with their access logs. Key material is not included.
	*/
	ListShareLinks(ctx context.Context, creator string) ([]models.SecureShareLink, error)

	/*
		GetStats summarize the links issued by a user

			@param ctx context.Context - execution context
			@param creator string - the issuing user. Empty for all links.
			@returns the summary
	*/
	GetStats(ctx context.Context, creator string) (models.ShareLinkStats, error)

	/*
		CleanupExpiredLinks wipe the keys of dead links, and delete links which expired
		more than the grace period ago. Safe to run concurrently with normal access.

			@param ctx context.Context - execution context
			@param now time.Time - the evaluation time
			@returns what was cleaned up
	*/
	CleanupExpiredLinks(ctx context.Context, now time.Time) (CleanupReport, error)

	/*
		StartJanitor periodically run CleanupExpiredLinks until the context ends

			@param ctx context.Context - janitor lifetime
			@param interval time.Duration - time between passes
			@returns channel closed once the janitor exits
	*/
	StartJanitor(ctx context.Context, interval time.Duration) (<-chan struct{}, error)
}

// IssuerParams share link issuer init parameters
type IssuerParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"required"`
	// Crypto the vault cryptography provider, used to read the document blob
	Crypto encryption.Provider `validate:"required"`
	// Ephemeral the snapshot cipher and token source
	Ephemeral encryption.EphemeralCipher `validate:"required"`
	// Blobs the document blob store
	Blobs blob.Store `validate:"required"`
	// Ledger optional version ledger. When given, links pin the matching version.
	Ledger ledger.VersionLedger `validate:"-"`
	// Password argon2id cost for link passwords
	Password encryption.PasswordParams
	// MaxTTL longest allowed link lifetime. 0 is unbounded.
	MaxTTL time.Duration `validate:"gte=0"`
	// GracePeriod how long expired links are kept before deletion
	GracePeriod time.Duration `validate:"gte=0"`
	// Clock time source. Defaults to time.Now.
	Clock func() time.Time `validate:"-"`
	// RNG randomness source for password salts. Defaults to crypto/rand.
	RNG io.Reader `validate:"-"`
}

// linkIssuer implements LinkIssuer
type linkIssuer struct {
	goutils.Component

	persistence db.Client
	crypto      encryption.Provider
	ephemeral   encryption.EphemeralCipher
	blobs       blob.Store
	versions    ledger.VersionLedger
	passwords   *encryption.PasswordHasher
	validator   *validator.Validate

	maxTTL      time.Duration
	gracePeriod time.Duration
	clock       func() time.Time
}

/*
NewLinkIssuer define new share link issuer

	@param params IssuerParams - issuer parameters
	@returns issuer instance
*/
func NewLinkIssuer(params IssuerParams) (LinkIssuer, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid share link issuer init parameters [%w]", err)
	}

	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.RNG == nil {
		params.RNG = rand.Reader
	}

	passwords, err := encryption.NewPasswordHasher(params.Password, params.RNG)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher [%w]", err)
	}

	logTags := log.Fields{"package": "custody", "module": "share", "component": "link-issuer"}

	return &linkIssuer{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		crypto:      params.Crypto,
		ephemeral:   params.Ephemeral,
		blobs:       params.Blobs,
		versions:    params.Ledger,
		passwords:   passwords,
		validator:   validate,
		maxTTL:      params.MaxTTL,
		gracePeriod: params.GracePeriod,
		clock:       params.Clock,
	}, nil
}

// shareRef shortened link token safe for logs and audit metadata
func shareRef(shareID string) string {
	if len(shareID) > 8 {
		return shareID[:8]
	}
	return shareID
}

// redact strip key material and the password hash from a link
func redact(link models.SecureShareLink) models.SecureShareLink {
	link.EphemeralKey = nil
	link.PasswordHash = ""
	return link
}

/*
CreateShareLink snapshot the current document content under a one-time key and issue a
link to it

	@param ctx context.Context - execution context
	@param req CreateLinkRequest - link parameters
	@returns the link. Key material and password hash are not included.
*/
func (i *linkIssuer) CreateShareLink(
	ctx context.Context, req CreateLinkRequest,
) (models.SecureShareLink, error) {
	logtags := i.GetLogTagsForContext(ctx)

	if err := i.validator.Struct(&req); err != nil {
		return models.SecureShareLink{}, fmt.Errorf("invalid share link request [%w]", err)
	}
	if i.maxTTL > 0 && req.TTL > i.maxTTL {
		return models.SecureShareLink{}, fmt.Errorf(
			"share link lifetime %s exceeds the allowed %s", req.TTL, i.maxTTL,
		)
	}
	allowedIPs, err := normalizeAllowList(req.AllowedIPs)
	if err != nil {
		return models.SecureShareLink{}, err
	}

	// Creator must be able to read the document
	allowed, err := i.blobs.CanAccess(ctx, req.DocumentID, req.Creator)
	if err != nil {
		return models.SecureShareLink{}, fmt.Errorf("document access check failed [%w]", err)
	}
	if !allowed {
		return models.SecureShareLink{}, fmt.Errorf(
			"%w: user '%s' may not share document '%s'",
			models.ErrAccessDenied,
			req.Creator,
			req.DocumentID,
		)
	}

	// Decrypt the current document content
	current, err := i.blobs.GetCurrentCiphertext(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.SecureShareLink{}, fmt.Errorf(
				"no current payload for document '%s' [%w]", req.DocumentID, err,
			)
		}
		return models.SecureShareLink{}, fmt.Errorf(
			"%w: failed to read document '%s' [%w]", models.ErrBlobMissing, req.DocumentID, err,
		)
	}
	if len(current.EncapsulatedKey) == 0 {
		return models.SecureShareLink{}, fmt.Errorf(
			"%w: document '%s' has no encrypted payload", models.ErrBlobMissing, req.DocumentID,
		)
	}
	plainText, err := i.crypto.EncapsulateDecrypt(ctx, current)
	if err != nil {
		return models.SecureShareLink{}, fmt.Errorf(
			"failed to decrypt document '%s' [%w]", req.DocumentID, err,
		)
	}
	defer encryption.Wipe(plainText)
	contentHash := i.crypto.Hash(plainText)

	// Re-encrypt under a one-time key
	sealed, err := i.ephemeral.Seal(ctx, plainText)
	if err != nil {
		return models.SecureShareLink{}, fmt.Errorf("failed to seal document snapshot [%w]", err)
	}
	defer encryption.Wipe(sealed.Key)

	shareID, err := i.ephemeral.NewShareToken(ctx)
	if err != nil {
		return models.SecureShareLink{}, fmt.Errorf("failed to generate share token [%w]", err)
	}

	passwordHash := ""
	if req.Password != "" {
		if passwordHash, err = i.passwords.Hash(req.Password); err != nil {
			return models.SecureShareLink{}, fmt.Errorf("failed to hash link password [%w]", err)
		}
	}

	newLink := models.SecureShareLink{
		ShareID:             shareID,
		DocumentID:          req.DocumentID,
		CreatedBy:           req.Creator,
		ExpiresAt:           i.clock().Add(req.TTL).UTC(),
		MaxAccesses:         req.MaxAccesses,
		RequirePassword:     req.Password != "",
		PasswordHash:        passwordHash,
		AllowedIPs:          allowedIPs,
		Watermark:           req.Watermark,
		RecipientInfo:       req.RecipientInfo,
		EphemeralKey:        sealed.Key,
		IV:                  sealed.Nonce,
		AuthTag:             sealed.AuthTag,
		EncryptedData:       sealed.CipherText,
		EncryptionAlgorithm: sealed.Algorithm,
		ContentHash:         contentHash,
		HashAlgorithm:       models.AlgorithmHash,
	}

	// The link only persists if the blob store accepted the audit entry
	var recorded models.SecureShareLink
	if dbErr := i.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := i.pinVersion(dbCtx, &newLink, dbClient); err != nil {
				return err
			}
			var err error
			recorded, err = dbClient.DefineNewShareLink(dbCtx, newLink)
			if err != nil {
				return err
			}
			if err := i.blobs.LogAccess(
				dbCtx, req.DocumentID, req.Creator, blob.ActionCreateShareLink, map[string]interface{}{
					"share_ref":    shareRef(shareID),
					"expires_at":   recorded.ExpiresAt,
					"max_accesses": recorded.MaxAccesses,
				},
			); err != nil {
				return fmt.Errorf("failed to log document access [%w]", err)
			}
			return nil
		},
	); dbErr != nil {
		encryption.Wipe(recorded.EphemeralKey)
		log.WithError(dbErr).
			WithFields(logtags).
			WithField("document", req.DocumentID).
			Error("Failed to record share link")
		return models.SecureShareLink{}, fmt.Errorf(
			"failed to record share link for document '%s' [%w]", req.DocumentID, dbErr,
		)
	}
	recorded = redact(recorded)

	log.WithFields(logtags).
		WithField("document", req.DocumentID).
		WithField("share", shareRef(shareID)).
		WithField("expires", recorded.ExpiresAt).
		WithField("max-accesses", recorded.MaxAccesses).
		Info("Issued share link")

	return recorded, nil
}

// pinVersion record which ledger version the snapshot matches, if a ledger is attached
func (i *linkIssuer) pinVersion(
	ctx context.Context, link *models.SecureShareLink, dbClient db.Database,
) error {
	if i.versions == nil {
		return nil
	}
	version, err := i.versions.FindVersionByContentHash(
		ctx, link.DocumentID, link.ContentHash, dbClient,
	)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.WithFields(i.GetLogTagsForContext(ctx)).
				WithField("document", link.DocumentID).
				Debug("Shared snapshot matches no ledger version")
			return nil
		}
		return fmt.Errorf("failed to look up ledger version of snapshot [%w]", err)
	}
	versionNumber := version.VersionNumber
	chainHash := version.ChainHash
	signatureAlgorithm := version.Signature.Algorithm
	link.VersionNumber = &versionNumber
	link.ChainHash = &chainHash
	link.SignatureAlgorithm = &signatureAlgorithm
	return nil
}
