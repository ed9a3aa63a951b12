package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/custody/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// SystemEventQueryFilter audit event query filter conditions
type SystemEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.SystemEventTypeENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// DocumentVersionQueryFilter document version query filter conditions
type DocumentVersionQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetDocumentID fetch only versions of this document
	TargetDocumentID *string
	// TargetStatus fetch only versions in these states
	TargetStatus []models.DocumentStatusENUMType
}

// ShareLinkQueryFilter share link query filter conditions
type ShareLinkQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetCreator fetch only links issued by this user
	TargetCreator *string
	// TargetDocumentID fetch only links to this document
	TargetDocumentID *string
	// WithAccessLog also load each link's access log
	WithAccessLog bool
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// System audit events

	/*
		ListSystemEvents list captured system events

			@param ctx context.Context - execution context
			@param filters SystemEventQueryFilter - entry listing filter
			@return list of system events
	*/
	ListSystemEvents(
		ctx context.Context, filters SystemEventQueryFilter,
	) ([]models.SystemEventAudit, error)

	// ------------------------------------------------------------------------------------
	// Vault parameters

	/*
		GetVaultParamEntry fetch the global singleton vault parameter entry

			@param ctx context.Context - execution context
			@returns the entry
	*/
	GetVaultParamEntry(ctx context.Context) (models.VaultParams, error)

	/*
		MarkVaultInitializing mark vault is initializing, and record its identity

			@param ctx context.Context - execution context
			@param encapsulationPubKey []byte - the vault KEM public key
			@param signingPubKey []byte - the vault signing public key
	*/
	MarkVaultInitializing(ctx context.Context, encapsulationPubKey, signingPubKey []byte) error

	/*
		MarkVaultInitialized mark vault fully initialized

			@param ctx context.Context - execution context
	*/
	MarkVaultInitialized(ctx context.Context) error

	/*
		RotateVaultIdentity replace the recorded identity of a running vault

			@param ctx context.Context - execution context
			@param encapsulationPubKey []byte - the new vault KEM public key
			@param signingPubKey []byte - the new vault signing public key
	*/
	RotateVaultIdentity(ctx context.Context, encapsulationPubKey, signingPubKey []byte) error

	// ------------------------------------------------------------------------------------
	// Document versions

	/*
		DefineNewDocumentVersion record a new document version

			@param ctx context.Context - execution context
			@param version models.DocumentVersion - the fully populated version
			@returns the recorded version
	*/
	DefineNewDocumentVersion(
		ctx context.Context, version models.DocumentVersion,
	) (models.DocumentVersion, error)

	/*
		GetDocumentVersion fetch a document version by ID

			@param ctx context.Context - execution context
			@param versionID string - the version ID
			@returns the version
	*/
	GetDocumentVersion(ctx context.Context, versionID string) (models.DocumentVersion, error)

	/*
		GetDocumentVersionByNumber fetch a document version by its sequence number

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param versionNumber int - the version sequence number
			@returns the version
	*/
	GetDocumentVersionByNumber(
		ctx context.Context, documentID string, versionNumber int,
	) (models.DocumentVersion, error)

	/*
		GetLatestDocumentVersion fetch the highest numbered version of a document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@returns the version
	*/
	GetLatestDocumentVersion(
		ctx context.Context, documentID string,
	) (models.DocumentVersion, error)

	/*
		ListDocumentVersions list document versions in ascending version number order

			@param ctx context.Context - execution context
			@param filters DocumentVersionQueryFilter - entry listing filter
			@returns list of versions
	*/
	ListDocumentVersions(
		ctx context.Context, filters DocumentVersionQueryFilter,
	) ([]models.DocumentVersion, error)

	/*
		UpdateDocumentVersionStatus change the status of a document version

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param versionNumber int - the version sequence number
			@param newStatus models.DocumentStatusENUMType - the new status
			@param actor string - who requested the change
			@returns the updated version
	*/
	UpdateDocumentVersionStatus(
		ctx context.Context,
		documentID string,
		versionNumber int,
		newStatus models.DocumentStatusENUMType,
		actor string,
	) (models.DocumentVersion, error)

	// ------------------------------------------------------------------------------------
	// Share links

	/*
		DefineNewShareLink record a new share link

			@param ctx context.Context - execution context
			@param link models.SecureShareLink - the fully populated link
			@returns the recorded link
	*/
	DefineNewShareLink(
		ctx context.Context, link models.SecureShareLink,
	) (models.SecureShareLink, error)

	/*
		GetShareLink fetch a share link along with its access log

			@param ctx context.Context - execution context
			@param shareID string - the share link ID
			@returns the link
	*/
	GetShareLink(ctx context.Context, shareID string) (models.SecureShareLink, error)

	/*
		ListShareLinks list share links, newest first

			@param ctx context.Context - execution context
			@param filters ShareLinkQueryFilter - entry listing filter
			@returns list of links
	*/
	ListShareLinks(
		ctx context.Context, filters ShareLinkQueryFilter,
	) ([]models.SecureShareLink, error)

	/*
		RecordShareAccess append an access attempt to a link's access log

			@param ctx context.Context - execution context
			@param shareID string - the share link ID
			@param attempt models.ShareAccessEvent - the access attempt
			@returns the recorded attempt
	*/
	RecordShareAccess(
		ctx context.Context, shareID string, attempt models.ShareAccessEvent,
	) (models.ShareAccessEvent, error)

	/*
		ConsumeShareAccess atomically increment a link's access counter, only if the link
		is not revoked, not expired, and has budget left.

			@param ctx context.Context - execution context
			@param shareID string - the share link ID
			@param now time.Time - the evaluation time
			@returns whether the counter was incremented
	*/
	ConsumeShareAccess(ctx context.Context, shareID string, now time.Time) (bool, error)

	/*
		RevokeShareLink revoke a share link and wipe its ephemeral key

			@param ctx context.Context - execution context
			@param shareID string - the share link ID
			@param revoker string - who revoked the link
			@param reason string - optional revoke reason
			@param timestamp time.Time - revocation time
	*/
	RevokeShareLink(
		ctx context.Context, shareID string, revoker string, reason string, timestamp time.Time,
	) error

	/*
		DestroyShareLinkKey wipe the ephemeral key of a share link

			@param ctx context.Context - execution context
			@param shareID string - the share link ID
			@param timestamp time.Time - destruction time
	*/
	DestroyShareLinkKey(ctx context.Context, shareID string, timestamp time.Time) error

	/*
		ListDeadShareLinksWithKeys list links which are revoked, expired, or exhausted, but
		still hold their ephemeral key

			@param ctx context.Context - execution context
			@param now time.Time - the evaluation time
			@returns IDs of the links
	*/
	ListDeadShareLinksWithKeys(ctx context.Context, now time.Time) ([]string, error)

	/*
		DeleteShareLinksExpiredBefore delete links, and their access logs, which expired
		before the cutoff

			@param ctx context.Context - execution context
			@param cutoff time.Time - the cutoff time
			@returns IDs of the deleted links
	*/
	DeleteShareLinksExpiredBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "custody", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// notFoundAs replace a GORM record not found error with a vault not found sentinel
func notFoundAs(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w [%w]", sentinel, err)
	}
	return err
}
