// Package ledger - document version chain-of-custody ledger
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/models"
	"github.com/alwitt/custody/utils"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// AddVersionRequest parameters for appending a document version
type AddVersionRequest struct {
	// DocumentID the document
	DocumentID string `validate:"required"`
	// Payload the version content
	Payload []byte `validate:"required,min=1"`
	// Status the lifecycle status of the new version
	Status models.DocumentStatusENUMType `validate:"required"`
	// Author identity of the author. Not verified here.
	Author string `validate:"required"`
	// Comment optional author comment
	Comment string `validate:"-"`
	// ChangeReason optional reason for the change
	ChangeReason string `validate:"-"`
	// Tags optional labels
	Tags []string `validate:"-"`
	// BaseVersion optional version number the author edited. The append is rejected if
	// it is no longer the latest version.
	BaseVersion *int `validate:"omitempty,gte=0"`
}

// VerifyOptions chain verification options
type VerifyOptions struct {
	// RecomputeContent also decrypt every version and check its content hash
	RecomputeContent bool
}

/*
VersionLedger the append-only, per-document sequence of signed, hash-linked versions.

Appends to the same document are serialized; appends to different documents are not.
*/
type VersionLedger interface {
	/*
		AddVersion append a new version to a document

			@param ctx context.Context - execution context
			@param req AddVersionRequest - the new version
			@param activeDBClient Database - existing database transaction
			@returns the recorded version
	*/
	AddVersion(
		ctx context.Context, req AddVersionRequest, activeDBClient db.Database,
	) (models.DocumentVersion, error)

	/*
		VerifyChain re-verify the full version chain of a document. Every break is
		reported; the scan does not stop at the first one.

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param opts VerifyOptions - verification options
			@param activeDBClient Database - existing database transaction
			@returns the itemized verification result
	*/
	VerifyChain(
		ctx context.Context, documentID string, opts VerifyOptions, activeDBClient db.Database,
	) (models.ChainVerification, error)

	/*
		GetVersionByNumber fetch one version of a document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param versionNumber int - the version sequence number
			@param activeDBClient Database - existing database transaction
			@returns the version
	*/
	GetVersionByNumber(
		ctx context.Context, documentID string, versionNumber int, activeDBClient db.Database,
	) (models.DocumentVersion, error)

	/*
		GetLatestVersion fetch the newest version of a document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param activeDBClient Database - existing database transaction
			@returns the version
	*/
	GetLatestVersion(
		ctx context.Context, documentID string, activeDBClient db.Database,
	) (models.DocumentVersion, error)

	/*
		GetVersionHistory list the metadata of every version of a document, oldest first

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param activeDBClient Database - existing database transaction
			@returns the version metadata
	*/
	GetVersionHistory(
		ctx context.Context, documentID string, activeDBClient db.Database,
	) ([]models.VersionMetadata, error)

	/*
		FindVersionByContentHash find the newest version of a document with given content

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param contentHash string - the content hash
			@param activeDBClient Database - existing database transaction
			@returns the version
	*/
	FindVersionByContentHash(
		ctx context.Context, documentID string, contentHash string, activeDBClient db.Database,
	) (models.DocumentVersion, error)

	/*
		GetStats summarize the version chain of a document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param activeDBClient Database - existing database transaction
			@returns the summary
	*/
	GetStats(
		ctx context.Context, documentID string, activeDBClient db.Database,
	) (models.LedgerStats, error)

	/*
		UpdateVersionStatus change the lifecycle status of a version

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param versionNumber int - the version sequence number
			@param newStatus models.DocumentStatusENUMType - the new status
			@param actor string - who requested the change
			@param activeDBClient Database - existing database transaction
			@returns the updated version
	*/
	UpdateVersionStatus(
		ctx context.Context,
		documentID string,
		versionNumber int,
		newStatus models.DocumentStatusENUMType,
		actor string,
		activeDBClient db.Database,
	) (models.DocumentVersion, error)

	/*
		DecryptVersion decrypt the content of a version, if the user may access the document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param versionNumber int - the version sequence number
			@param userID string - the requesting user
			@returns the version content
	*/
	DecryptVersion(
		ctx context.Context, documentID string, versionNumber int, userID string,
	) ([]byte, error)
}

// versionLedger implements VersionLedger
type versionLedger struct {
	goutils.Component

	persistence db.Client
	crypto      encryption.Provider
	blobs       blob.Store
	validator   *validator.Validate

	trustedSigners [][]byte
	documentLocks  *utils.KeyedMutex
}

// VersionLedgerParams version ledger init parameters
type VersionLedgerParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"required"`
	// Crypto the vault cryptography provider
	Crypto encryption.Provider `validate:"required"`
	// Blobs the document blob store, used to gate decryption
	Blobs blob.Store `validate:"required"`
	// PreviousSigningKeys signing public keys of earlier vault identities whose
	// signatures are still trusted
	PreviousSigningKeys [][]byte `validate:"-"`
}

/*
NewVersionLedger define new version ledger

	@param params VersionLedgerParams - ledger parameters
	@returns ledger instance
*/
func NewVersionLedger(params VersionLedgerParams) (VersionLedger, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid ledger init parameters [%w]", err)
	}

	logTags := log.Fields{"package": "custody", "module": "ledger", "component": "version-ledger"}

	trusted := [][]byte{params.Crypto.SigningPublicKey()}
	for _, oneKey := range params.PreviousSigningKeys {
		trusted = append(trusted, append([]byte{}, oneKey...))
	}

	return &versionLedger{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:    params.Persistence,
		crypto:         params.Crypto,
		blobs:          params.Blobs,
		validator:      validate,
		trustedSigners: trusted,
		documentLocks:  utils.NewKeyedMutex(),
	}, nil
}

/*
ComputeChainHash derive the chain hash of a version.

H(contentHash) for the first version, H(contentHash || previousContentHash) after, where
both hashes are the hex digests.

	@param hash func([]byte) string - the content hash function
	@param contentHash string - content hash of the version
	@param previousContentHash *string - content hash of the previous version, nil for the first
	@returns the chain hash
*/
func ComputeChainHash(
	hash func([]byte) string, contentHash string, previousContentHash *string,
) string {
	if previousContentHash == nil {
		return hash([]byte(contentHash))
	}
	return hash([]byte(contentHash + *previousContentHash))
}

// isTrustedSigner whether the key belongs to the current or a previous vault identity
func (l *versionLedger) isTrustedSigner(pubKey []byte) bool {
	for _, trusted := range l.trustedSigners {
		if bytes.Equal(trusted, pubKey) {
			return true
		}
	}
	return false
}

/*
AddVersion append a new version to a document

	@param ctx context.Context - execution context
	@param req AddVersionRequest - the new version
	@param activeDBClient Database - existing database transaction
	@returns the recorded version
*/
func (l *versionLedger) AddVersion(
	ctx context.Context, req AddVersionRequest, activeDBClient db.Database,
) (models.DocumentVersion, error) {
	logtags := l.GetLogTagsForContext(ctx)

	if !req.Status.IsKnown() {
		return models.DocumentVersion{}, fmt.Errorf(
			"%w: '%s' is not a lifecycle status", models.ErrInvalidStatus, req.Status,
		)
	}
	if err := l.validator.Struct(&req); err != nil {
		return models.DocumentVersion{}, fmt.Errorf("invalid new version request [%w]", err)
	}

	// Read-modify-append must not interleave with another append to the same document
	release := l.documentLocks.Lock(req.DocumentID)
	defer release()

	var newVersion models.DocumentVersion
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var previous *models.DocumentVersion
			latest, err := dbClient.GetLatestDocumentVersion(dbCtx, req.DocumentID)
			if err == nil {
				previous = &latest
			} else if !errors.Is(err, models.ErrDocumentNotFound) {
				return err
			}

			if req.BaseVersion != nil {
				switch {
				case previous == nil && *req.BaseVersion > 0:
					return fmt.Errorf(
						"%w: base version %d given for a document with no versions",
						models.ErrDocumentNotFound,
						*req.BaseVersion,
					)
				case previous != nil && previous.VersionNumber != *req.BaseVersion:
					return fmt.Errorf(
						"%w: edited version %d, latest is %d",
						models.ErrVersionConflict,
						*req.BaseVersion,
						previous.VersionNumber,
					)
				}
			}

			versionNumber := 1
			var previousContentHash *string
			if previous != nil {
				versionNumber = previous.VersionNumber + 1
				prevHash := previous.ContentHash
				previousContentHash = &prevHash
			}

			contentHash := l.crypto.Hash(req.Payload)
			chainHash := ComputeChainHash(l.crypto.Hash, contentHash, previousContentHash)

			signature, err := l.crypto.Sign(dbCtx, []byte(chainHash))
			if err != nil {
				return fmt.Errorf("failed to sign chain hash [%w]", err)
			}

			payload, err := l.crypto.EncapsulateEncrypt(dbCtx, req.Payload, nil)
			if err != nil {
				return fmt.Errorf("failed to encrypt version payload [%w]", err)
			}

			newVersion, err = dbClient.DefineNewDocumentVersion(dbCtx, models.DocumentVersion{
				DocumentID:          req.DocumentID,
				VersionNumber:       versionNumber,
				ContentHash:         contentHash,
				PreviousVersionHash: previousContentHash,
				ChainHash:           chainHash,
				HashAlgorithm:       models.AlgorithmHash,
				Signature:           signature,
				Status:              req.Status,
				Payload:             payload,
				CreatedBy:           req.Author,
				Comment:             req.Comment,
				ChangeReason:        req.ChangeReason,
				Tags:                req.Tags,
			})
			if err != nil {
				return err
			}

			if req.Status == models.DocumentStatusFinal {
				return l.supersedeFinalVersions(dbCtx, dbClient, newVersion, req.Author)
			}
			return nil
		},
	); dbErr != nil {
		log.WithError(dbErr).
			WithFields(logtags).
			WithField("document", req.DocumentID).
			Error("Failed to append document version")
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to append version to document '%s' [%w]", req.DocumentID, dbErr,
		)
	}

	log.WithFields(logtags).
		WithField("document", newVersion.DocumentID).
		WithField("version", newVersion.VersionNumber).
		WithField("status", newVersion.Status).
		Info("Appended document version")

	return newVersion, nil
}

// supersedeFinalVersions mark older FINAL versions of the document SUPERSEDED
func (l *versionLedger) supersedeFinalVersions(
	ctx context.Context, dbClient db.Database, newFinal models.DocumentVersion, actor string,
) error {
	finals, err := dbClient.ListDocumentVersions(ctx, db.DocumentVersionQueryFilter{
		TargetDocumentID: &newFinal.DocumentID,
		TargetStatus:     []models.DocumentStatusENUMType{models.DocumentStatusFinal},
	})
	if err != nil {
		return err
	}
	for _, oneFinal := range finals {
		if oneFinal.VersionNumber >= newFinal.VersionNumber {
			continue
		}
		if _, err := dbClient.UpdateDocumentVersionStatus(
			ctx,
			oneFinal.DocumentID,
			oneFinal.VersionNumber,
			models.DocumentStatusSuperseded,
			actor,
		); err != nil {
			return fmt.Errorf(
				"failed to supersede version %d [%w]", oneFinal.VersionNumber, err,
			)
		}
	}
	return nil
}

/*
GetVersionByNumber fetch one version of a document

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param versionNumber int - the version sequence number
	@param activeDBClient Database - existing database transaction
	@returns the version
*/
func (l *versionLedger) GetVersionByNumber(
	ctx context.Context, documentID string, versionNumber int, activeDBClient db.Database,
) (models.DocumentVersion, error) {
	var version models.DocumentVersion
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			version, err = dbClient.GetDocumentVersionByNumber(dbCtx, documentID, versionNumber)
			return err
		},
	); dbErr != nil {
		return models.DocumentVersion{}, dbErr
	}
	return version, nil
}

/*
GetLatestVersion fetch the newest version of a document

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param activeDBClient Database - existing database transaction
	@returns the version
*/
func (l *versionLedger) GetLatestVersion(
	ctx context.Context, documentID string, activeDBClient db.Database,
) (models.DocumentVersion, error) {
	var version models.DocumentVersion
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			version, err = dbClient.GetLatestDocumentVersion(dbCtx, documentID)
			return err
		},
	); dbErr != nil {
		return models.DocumentVersion{}, dbErr
	}
	return version, nil
}

// listVersions list all versions of a document, oldest first. Fails if there are none.
func (l *versionLedger) listVersions(
	ctx context.Context, documentID string, activeDBClient db.Database,
) ([]models.DocumentVersion, error) {
	var versions []models.DocumentVersion
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			versions, err = dbClient.ListDocumentVersions(
				dbCtx, db.DocumentVersionQueryFilter{TargetDocumentID: &documentID},
			)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list versions of document '%s' [%w]", documentID, dbErr)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: '%s' has no versions", models.ErrDocumentNotFound, documentID)
	}
	return versions, nil
}

/*
GetVersionHistory list the metadata of every version of a document, oldest first

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param activeDBClient Database - existing database transaction
	@returns the version metadata
*/
func (l *versionLedger) GetVersionHistory(
	ctx context.Context, documentID string, activeDBClient db.Database,
) ([]models.VersionMetadata, error) {
	versions, err := l.listVersions(ctx, documentID, activeDBClient)
	if err != nil {
		return nil, err
	}
	history := make([]models.VersionMetadata, 0, len(versions))
	for _, oneVersion := range versions {
		history = append(history, oneVersion.Metadata())
	}
	return history, nil
}

/*
FindVersionByContentHash find the newest version of a document with given content

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param contentHash string - the content hash
	@param activeDBClient Database - existing database transaction
	@returns the version
*/
func (l *versionLedger) FindVersionByContentHash(
	ctx context.Context, documentID string, contentHash string, activeDBClient db.Database,
) (models.DocumentVersion, error) {
	versions, err := l.listVersions(ctx, documentID, activeDBClient)
	if err != nil {
		return models.DocumentVersion{}, err
	}
	for itr := len(versions) - 1; itr >= 0; itr-- {
		if versions[itr].ContentHash == contentHash {
			return versions[itr], nil
		}
	}
	return models.DocumentVersion{}, fmt.Errorf(
		"%w: no version of '%s' has content hash %s",
		models.ErrVersionNotFound,
		documentID,
		contentHash,
	)
}

/*
GetStats summarize the version chain of a document

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param activeDBClient Database - existing database transaction
	@returns the summary
*/
func (l *versionLedger) GetStats(
	ctx context.Context, documentID string, activeDBClient db.Database,
) (models.LedgerStats, error) {
	versions, err := l.listVersions(ctx, documentID, activeDBClient)
	if err != nil {
		return models.LedgerStats{}, err
	}

	stats := models.LedgerStats{
		DocumentID:    documentID,
		TotalVersions: len(versions),
		StatusCounts:  map[models.DocumentStatusENUMType]int{},
		Authors:       []string{},
	}
	seenAuthors := map[string]bool{}
	for _, oneVersion := range versions {
		stats.StatusCounts[oneVersion.Status]++
		if !seenAuthors[oneVersion.CreatedBy] {
			seenAuthors[oneVersion.CreatedBy] = true
			stats.Authors = append(stats.Authors, oneVersion.CreatedBy)
		}
	}

	first := versions[0].CreatedAt
	last := versions[len(versions)-1]
	stats.FirstCreatedAt = &first
	stats.LastCreatedAt = &last.CreatedAt
	stats.LatestVersion = last.VersionNumber
	stats.LatestStatus = last.Status

	return stats, nil
}

/*
UpdateVersionStatus change the lifecycle status of a version

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param versionNumber int - the version sequence number
	@param newStatus models.DocumentStatusENUMType - the new status
	@param actor string - who requested the change
	@param activeDBClient Database - existing database transaction
	@returns the updated version
*/
func (l *versionLedger) UpdateVersionStatus(
	ctx context.Context,
	documentID string,
	versionNumber int,
	newStatus models.DocumentStatusENUMType,
	actor string,
	activeDBClient db.Database,
) (models.DocumentVersion, error) {
	release := l.documentLocks.Lock(documentID)
	defer release()

	var updated models.DocumentVersion
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			updated, err = dbClient.UpdateDocumentVersionStatus(
				dbCtx, documentID, versionNumber, newStatus, actor,
			)
			if err != nil {
				return err
			}
			if newStatus == models.DocumentStatusFinal {
				return l.supersedeFinalVersions(dbCtx, dbClient, updated, actor)
			}
			return nil
		},
	); dbErr != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to change status of version %d of document '%s' [%w]",
			versionNumber,
			documentID,
			dbErr,
		)
	}

	log.WithFields(l.GetLogTagsForContext(ctx)).
		WithField("document", documentID).
		WithField("version", versionNumber).
		WithField("status", newStatus).
		Info("Changed document version status")

	return updated, nil
}
