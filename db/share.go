package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/custody/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ======================================================================================
// Share links

/*
DefineNewShareLink record a new share link

	@param ctx context.Context - execution context
	@param link models.SecureShareLink - the fully populated link
	@returns the recorded link
*/
func (d *databaseImpl) DefineNewShareLink(
	_ context.Context, link models.SecureShareLink,
) (models.SecureShareLink, error) {
	link.AccessLog = nil
	link.ExpiresAt = link.ExpiresAt.UTC()
	newEntry := ShareLinkDBEntry{SecureShareLink: link}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.SecureShareLink{}, fmt.Errorf(
			"new share link for document '%s' is invalid [%w]", link.DocumentID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.SecureShareLink{}, fmt.Errorf(
			"new share link for document '%s' insert failed [%w]", link.DocumentID, tmp.Error,
		)
	}

	// Record this event
	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeCreateShareLink,
		models.SystemEventShareLinkRelated{
			ShareID: newEntry.ShareID, DocumentID: newEntry.DocumentID, Actor: newEntry.CreatedBy,
		},
	); err != nil {
		return models.SecureShareLink{}, fmt.Errorf(
			"failed to log create share link audit event [%w]", err,
		)
	}

	newEntry.AccessLog = []models.ShareAccessEvent{}
	return newEntry.SecureShareLink, nil
}

// getShareLinkEntry find a share link by ID
func (d *databaseImpl) getShareLinkEntry(shareID string) (ShareLinkDBEntry, error) {
	var entry ShareLinkDBEntry
	err := d.db.Where("share_id = ?", shareID).First(&entry).Error
	return entry, notFoundAs(err, models.ErrShareLinkNotFound)
}

// listAccessEvents fetch the access logs of a set of links, oldest first
func (d *databaseImpl) listAccessEvents(
	shareIDs []string,
) (map[string][]models.ShareAccessEvent, error) {
	result := map[string][]models.ShareAccessEvent{}
	if len(shareIDs) == 0 {
		return result, nil
	}

	var entries []ShareAccessEventDBEntry
	if tmp := d.db.
		Where("share_id in ?", shareIDs).
		Order("accessed_at").
		Order("id").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list share link access events [%w]", tmp.Error)
	}

	for _, entry := range entries {
		result[entry.ShareID] = append(result[entry.ShareID], entry.ShareAccessEvent)
	}
	return result, nil
}

/*
GetShareLink fetch a share link along with its access log

	@param ctx context.Context - execution context
	@param shareID string - the share link ID
	@returns the link
*/
func (d *databaseImpl) GetShareLink(
	_ context.Context, shareID string,
) (models.SecureShareLink, error) {
	entry, err := d.getShareLinkEntry(shareID)
	if err != nil {
		return models.SecureShareLink{}, fmt.Errorf("failed to fetch share link [%w]", err)
	}

	accessLogs, err := d.listAccessEvents([]string{shareID})
	if err != nil {
		return models.SecureShareLink{}, err
	}
	entry.AccessLog = accessLogs[shareID]
	if entry.AccessLog == nil {
		entry.AccessLog = []models.ShareAccessEvent{}
	}

	return entry.SecureShareLink, nil
}

/*
ListShareLinks list share links, newest first

	@param ctx context.Context - execution context
	@param filters ShareLinkQueryFilter - entry listing filter
	@returns list of links
*/
func (d *databaseImpl) ListShareLinks(
	_ context.Context, filters ShareLinkQueryFilter,
) ([]models.SecureShareLink, error) {
	query := d.db.Model(&ShareLinkDBEntry{})

	if filters.TargetCreator != nil {
		query = query.Where("created_by = ?", *filters.TargetCreator)
	}
	if filters.TargetDocumentID != nil {
		query = query.Where("document_id = ?", *filters.TargetDocumentID)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at desc")

	var entries []ShareLinkDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list share links [%w]", tmp.Error)
	}

	var accessLogs map[string][]models.ShareAccessEvent
	if filters.WithAccessLog {
		shareIDs := []string{}
		for _, entry := range entries {
			shareIDs = append(shareIDs, entry.ShareID)
		}
		var err error
		if accessLogs, err = d.listAccessEvents(shareIDs); err != nil {
			return nil, err
		}
	}

	result := []models.SecureShareLink{}
	for _, entry := range entries {
		if filters.WithAccessLog {
			entry.AccessLog = accessLogs[entry.ShareID]
		}
		result = append(result, entry.SecureShareLink)
	}

	return result, nil
}

/*
RecordShareAccess append an access attempt to a link's access log

	@param ctx context.Context - execution context
	@param shareID string - the share link ID
	@param attempt models.ShareAccessEvent - the access attempt
	@returns the recorded attempt
*/
func (d *databaseImpl) RecordShareAccess(
	_ context.Context, shareID string, attempt models.ShareAccessEvent,
) (models.ShareAccessEvent, error) {
	attempt.ID = ulid.Make().String()
	attempt.ShareID = shareID
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}
	attempt.Timestamp = attempt.Timestamp.UTC()
	newEntry := ShareAccessEventDBEntry{ShareAccessEvent: attempt}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.ShareAccessEvent{}, fmt.Errorf("share link access event is invalid [%w]", err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.ShareAccessEvent{}, fmt.Errorf(
			"share link access event insert failed [%w]", tmp.Error,
		)
	}

	return newEntry.ShareAccessEvent, nil
}

/*
ConsumeShareAccess atomically increment a link's access counter, only if the link
is not revoked, not expired, and has budget left.

	@param ctx context.Context - execution context
	@param shareID string - the share link ID
	@param now time.Time - the evaluation time
	@returns whether the counter was incremented
*/
func (d *databaseImpl) ConsumeShareAccess(
	_ context.Context, shareID string, now time.Time,
) (bool, error) {
	tmp := d.db.
		Model(&ShareLinkDBEntry{}).
		Where("share_id = ?", shareID).
		Where("is_revoked = ?", false).
		Where("expires_at > ?", now.UTC()).
		Where("max_accesses = 0 OR access_count < max_accesses").
		UpdateColumn("access_count", gorm.Expr("access_count + ?", 1))
	if tmp.Error != nil {
		return false, fmt.Errorf("share link access counter update failed [%w]", tmp.Error)
	}
	return tmp.RowsAffected == 1, nil
}

/*
RevokeShareLink revoke a share link and wipe its ephemeral key

	@param ctx context.Context - execution context
	@param shareID string - the share link ID
	@param revoker string - who revoked the link
	@param reason string - optional revoke reason
	@param timestamp time.Time - revocation time
*/
func (d *databaseImpl) RevokeShareLink(
	_ context.Context, shareID string, revoker string, reason string, timestamp time.Time,
) error {
	entry, err := d.getShareLinkEntry(shareID)
	if err != nil {
		return fmt.Errorf("failed to fetch share link [%w]", err)
	}

	timestamp = timestamp.UTC()
	changes := map[string]interface{}{
		"is_revoked":    true,
		"revoked_at":    timestamp,
		"revoked_by":    revoker,
		"ephemeral_key": nil,
	}
	if reason != "" {
		changes["revoke_reason"] = reason
	}
	if entry.KeyDestroyedAt == nil {
		changes["key_destroyed_at"] = timestamp
	}

	tmp := d.db.
		Model(&ShareLinkDBEntry{}).
		Where("share_id = ? AND is_revoked = ?", shareID, false).
		Updates(changes)
	if tmp.Error != nil {
		return fmt.Errorf("share link revoke update failed [%w]", tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return models.ErrAlreadyRevoked
	}

	// Record this event
	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeRevokeShareLink,
		models.SystemEventShareLinkRelated{
			ShareID: shareID, DocumentID: entry.DocumentID, Actor: revoker, Reason: reason,
		},
	); err != nil {
		return fmt.Errorf("failed to log revoke share link audit event [%w]", err)
	}

	return nil
}

/*
DestroyShareLinkKey wipe the ephemeral key of a share link

	@param ctx context.Context - execution context
	@param shareID string - the share link ID
	@param timestamp time.Time - destruction time
*/
func (d *databaseImpl) DestroyShareLinkKey(
	_ context.Context, shareID string, timestamp time.Time,
) error {
	entry, err := d.getShareLinkEntry(shareID)
	if err != nil {
		return fmt.Errorf("failed to fetch share link [%w]", err)
	}

	tmp := d.db.
		Model(&ShareLinkDBEntry{}).
		Where("share_id = ? AND key_destroyed_at IS NULL", shareID).
		Updates(map[string]interface{}{
			"ephemeral_key":    nil,
			"key_destroyed_at": timestamp.UTC(),
		})
	if tmp.Error != nil {
		return fmt.Errorf("share link key destruction failed [%w]", tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		// NOOP
		return nil
	}

	// Record this event
	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeDestroyShareLinkKey,
		models.SystemEventShareLinkRelated{ShareID: shareID, DocumentID: entry.DocumentID},
	); err != nil {
		return fmt.Errorf("failed to log share link key destruction audit event [%w]", err)
	}

	return nil
}

/*
ListDeadShareLinksWithKeys list links which are revoked, expired, or exhausted, but
still hold their ephemeral key

	@param ctx context.Context - execution context
	@param now time.Time - the evaluation time
	@returns IDs of the links
*/
func (d *databaseImpl) ListDeadShareLinksWithKeys(
	_ context.Context, now time.Time,
) ([]string, error) {
	var shareIDs []string
	if tmp := d.db.
		Model(&ShareLinkDBEntry{}).
		Where("key_destroyed_at IS NULL").
		Where(
			"is_revoked = ? OR expires_at <= ? OR (max_accesses > 0 AND access_count >= max_accesses)",
			true,
			now.UTC(),
		).
		Pluck("share_id", &shareIDs); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list dead share links [%w]", tmp.Error)
	}
	return shareIDs, nil
}

/*
DeleteShareLinksExpiredBefore delete links, and their access logs, which expired
before the cutoff

	@param ctx context.Context - execution context
	@param cutoff time.Time - the cutoff time
	@returns IDs of the deleted links
*/
func (d *databaseImpl) DeleteShareLinksExpiredBefore(
	_ context.Context, cutoff time.Time,
) ([]string, error) {
	var entries []ShareLinkDBEntry
	if tmp := d.db.
		Select("share_id", "document_id").
		Where("expires_at < ?", cutoff.UTC()).
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list expired share links [%w]", tmp.Error)
	}

	deleted := []string{}
	for _, entry := range entries {
		if tmp := d.db.
			Where("share_id = ?", entry.ShareID).
			Delete(&ShareAccessEventDBEntry{}); tmp.Error != nil {
			return nil, fmt.Errorf("failed to delete share link access events [%w]", tmp.Error)
		}
		tmp := d.db.
			Where("share_id = ? AND expires_at < ?", entry.ShareID, cutoff.UTC()).
			Delete(&ShareLinkDBEntry{})
		if tmp.Error != nil {
			return nil, fmt.Errorf("failed to delete share link [%w]", tmp.Error)
		}
		if tmp.RowsAffected == 0 {
			// Already removed by a concurrent sweep
			continue
		}

		// Record this event
		if _, err := d.defineNewSystemEvent(
			models.SystemEventTypeDeleteShareLink,
			models.SystemEventShareLinkRelated{ShareID: entry.ShareID, DocumentID: entry.DocumentID},
		); err != nil {
			return nil, fmt.Errorf("failed to log delete share link audit event [%w]", err)
		}
		deleted = append(deleted, entry.ShareID)
	}

	return deleted, nil
}
