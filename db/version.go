package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/custody/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ======================================================================================
// Document versions

/*
DefineNewDocumentVersion record a new document version

	@param ctx context.Context - execution context
	@param version models.DocumentVersion - the fully populated version
	@returns the recorded version
*/
func (d *databaseImpl) DefineNewDocumentVersion(
	_ context.Context, version models.DocumentVersion,
) (models.DocumentVersion, error) {
	if version.ID == "" {
		version.ID = ulid.Make().String()
	}
	newEntry := DocumentVersionDBEntry{DocumentVersion: version}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"new version %d of document '%s' is invalid [%w]",
			version.VersionNumber,
			version.DocumentID,
			err,
		)
	}

	// The unique (document_id, version_number) index rejects a forked chain
	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		if errors.Is(tmp.Error, gorm.ErrDuplicatedKey) {
			return models.DocumentVersion{}, fmt.Errorf(
				"%w: version %d of document '%s' already exists [%w]",
				models.ErrVersionConflict,
				version.VersionNumber,
				version.DocumentID,
				tmp.Error,
			)
		}
		return models.DocumentVersion{}, fmt.Errorf(
			"new version %d of document '%s' insert failed [%w]",
			version.VersionNumber,
			version.DocumentID,
			tmp.Error,
		)
	}

	// Record this event
	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeAddDocumentVersion,
		models.SystemEventVersionRelated{
			DocumentID:    newEntry.DocumentID,
			VersionID:     newEntry.ID,
			VersionNumber: newEntry.VersionNumber,
			Status:        newEntry.Status,
			Actor:         newEntry.CreatedBy,
		},
	); err != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to log add document version audit event [%w]", err,
		)
	}

	return newEntry.DocumentVersion, nil
}

/*
GetDocumentVersion fetch a document version by ID

	@param ctx context.Context - execution context
	@param versionID string - the version ID
	@returns the version
*/
func (d *databaseImpl) GetDocumentVersion(
	_ context.Context, versionID string,
) (models.DocumentVersion, error) {
	var entry DocumentVersionDBEntry
	if tmp := d.db.Where("id = ?", versionID).First(&entry); tmp.Error != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to fetch document version %s [%w]",
			versionID,
			notFoundAs(tmp.Error, models.ErrVersionNotFound),
		)
	}
	return entry.DocumentVersion, nil
}

/*
GetDocumentVersionByNumber fetch a document version by its sequence number

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param versionNumber int - the version sequence number
	@returns the version
*/
func (d *databaseImpl) GetDocumentVersionByNumber(
	_ context.Context, documentID string, versionNumber int,
) (models.DocumentVersion, error) {
	var entry DocumentVersionDBEntry
	if tmp := d.db.
		Where("document_id = ? AND version_number = ?", documentID, versionNumber).
		First(&entry); tmp.Error != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to fetch version %d of document '%s' [%w]",
			versionNumber,
			documentID,
			notFoundAs(tmp.Error, models.ErrVersionNotFound),
		)
	}
	return entry.DocumentVersion, nil
}

/*
GetLatestDocumentVersion fetch the highest numbered version of a document

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@returns the version
*/
func (d *databaseImpl) GetLatestDocumentVersion(
	_ context.Context, documentID string,
) (models.DocumentVersion, error) {
	var entry DocumentVersionDBEntry
	if tmp := d.db.
		Where("document_id = ?", documentID).
		Order("version_number desc").
		First(&entry); tmp.Error != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to fetch latest version of document '%s' [%w]",
			documentID,
			notFoundAs(tmp.Error, models.ErrDocumentNotFound),
		)
	}
	return entry.DocumentVersion, nil
}

/*
ListDocumentVersions list document versions in ascending version number order

	@param ctx context.Context - execution context
	@param filters DocumentVersionQueryFilter - entry listing filter
	@returns list of versions
*/
func (d *databaseImpl) ListDocumentVersions(
	_ context.Context, filters DocumentVersionQueryFilter,
) ([]models.DocumentVersion, error) {
	query := d.db.Model(&DocumentVersionDBEntry{})

	if filters.TargetDocumentID != nil {
		query = query.Where("document_id = ?", *filters.TargetDocumentID)
	}

	if len(filters.TargetStatus) > 0 {
		query = query.Where("status in ?", filters.TargetStatus)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("document_id").Order("version_number")

	var entries []DocumentVersionDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list document versions [%w]", tmp.Error)
	}

	result := []models.DocumentVersion{}
	for _, entry := range entries {
		result = append(result, entry.DocumentVersion)
	}

	return result, nil
}

/*
UpdateDocumentVersionStatus change the status of a document version

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param versionNumber int - the version sequence number
	@param newStatus models.DocumentStatusENUMType - the new status
	@param actor string - who requested the change
	@returns the updated version
*/
func (d *databaseImpl) UpdateDocumentVersionStatus(
	ctx context.Context,
	documentID string,
	versionNumber int,
	newStatus models.DocumentStatusENUMType,
	actor string,
) (models.DocumentVersion, error) {
	if !newStatus.IsKnown() {
		return models.DocumentVersion{}, fmt.Errorf(
			"%w: '%s' is not a lifecycle status", models.ErrInvalidStatus, newStatus,
		)
	}

	entry, err := d.GetDocumentVersionByNumber(ctx, documentID, versionNumber)
	if err != nil {
		return models.DocumentVersion{}, err
	}

	if entry.Status == newStatus {
		// NOOP
		return entry, nil
	}

	if err := entry.ValidateNextState(newStatus); err != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"version %d of document '%s' status change not allowed [%w]",
			versionNumber,
			documentID,
			err,
		)
	}

	if tmp := d.db.
		Model(&DocumentVersionDBEntry{}).
		Where("id = ?", entry.ID).
		Update("status", newStatus); tmp.Error != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"version %d of document '%s' status update failed [%w]",
			versionNumber,
			documentID,
			tmp.Error,
		)
	}
	entry.Status = newStatus

	// Record this event
	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeChangeVersionStatus,
		models.SystemEventVersionRelated{
			DocumentID:    entry.DocumentID,
			VersionID:     entry.ID,
			VersionNumber: entry.VersionNumber,
			Status:        newStatus,
			Actor:         actor,
		},
	); err != nil {
		return models.DocumentVersion{}, fmt.Errorf(
			"failed to log version status change audit event [%w]", err,
		)
	}

	return entry, nil
}
