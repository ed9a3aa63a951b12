package share

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/models"
	"github.com/apex/log"
)

/*
RevokeLink permanently revoke a link. Only its creator may revoke it.

	@param ctx context.Context - execution context
	@param shareID string - the link token
	@param revoker string - the requesting user
	@param reason string - optional reason
*/
func (i *linkIssuer) RevokeLink(
	ctx context.Context, shareID string, revoker string, reason string,
) error {
	logtags := i.GetLogTagsForContext(ctx)

	var documentID string
	if dbErr := i.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			link, err := dbClient.GetShareLink(dbCtx, shareID)
			if err != nil {
				return err
			}
			if link.CreatedBy != revoker {
				return fmt.Errorf(
					"%w: only the creator may revoke share link %s",
					models.ErrAccessDenied,
					shareRef(shareID),
				)
			}
			documentID = link.DocumentID
			return dbClient.RevokeShareLink(dbCtx, shareID, revoker, reason, i.clock())
		},
	); dbErr != nil {
		log.WithError(dbErr).
			WithFields(logtags).
			WithField("share", shareRef(shareID)).
			Debug("Share link revoke refused")
		return fmt.Errorf("failed to revoke share link %s [%w]", shareRef(shareID), dbErr)
	}

	if err := i.blobs.LogAccess(
		ctx, documentID, revoker, blob.ActionRevokeShareLink, map[string]interface{}{
			"share_ref": shareRef(shareID),
			"reason":    reason,
		},
	); err != nil {
		return fmt.Errorf("failed to log document access [%w]", err)
	}

	log.WithFields(logtags).
		WithField("share", shareRef(shareID)).
		WithField("document", documentID).
		Info("Revoked share link")

	return nil
}

// listLinks list links with their access logs, key material stripped
func (i *linkIssuer) listLinks(
	ctx context.Context, creator string,
) ([]models.SecureShareLink, error) {
	filter := db.ShareLinkQueryFilter{WithAccessLog: true}
	if creator != "" {
		filter.TargetCreator = &creator
	}

	var links []models.SecureShareLink
	if dbErr := i.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			links, err = dbClient.ListShareLinks(dbCtx, filter)
			return err
		},
	); dbErr != nil {
		return nil, dbErr
	}

	for idx := range links {
		links[idx] = redact(links[idx])
	}
	return links, nil
}

/*
ListShareLinks list links issued by a user, newest first

	@param ctx context.Context - execution context
	@param creator string - the issuing user
	@returns the links with their access logs. Key material is not included.
*/
func (i *linkIssuer) ListShareLinks(
	ctx context.Context, creator string,
) ([]models.SecureShareLink, error) {
	if creator == "" {
		return nil, fmt.Errorf("share link creator not given")
	}
	return i.listLinks(ctx, creator)
}

/*
GetStats summarize the links issued by a user

	@param ctx context.Context - execution context
	@param creator string - the issuing user. Empty for all links.
	@returns the summary
*/
func (i *linkIssuer) GetStats(ctx context.Context, creator string) (models.ShareLinkStats, error) {
	links, err := i.listLinks(ctx, creator)
	if err != nil {
		return models.ShareLinkStats{}, err
	}

	now := i.clock()
	stats := models.ShareLinkStats{Total: len(links)}
	for _, link := range links {
		switch link.State(now) {
		case models.ShareLinkStateActive:
			stats.Active++
		case models.ShareLinkStateExpired:
			stats.Expired++
		case models.ShareLinkStateExhausted:
			stats.Exhausted++
		case models.ShareLinkStateRevoked:
			stats.Revoked++
		}
		stats.TotalAccesses += link.AccessCount
		for _, attempt := range link.AccessLog {
			if !attempt.Success {
				stats.FailedAttempts++
			}
		}
	}
	return stats, nil
}

/*
CleanupExpiredLinks wipe the keys of dead links, and delete links which expired more than
the grace period ago. Safe to run concurrently with normal access.

	@param ctx context.Context - execution context
	@param now time.Time - the evaluation time
	@returns what was cleaned up
*/
func (i *linkIssuer) CleanupExpiredLinks(
	ctx context.Context, now time.Time,
) (CleanupReport, error) {
	var report CleanupReport
	if dbErr := i.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			dead, err := dbClient.ListDeadShareLinksWithKeys(dbCtx, now)
			if err != nil {
				return err
			}
			for _, shareID := range dead {
				if err := dbClient.DestroyShareLinkKey(dbCtx, shareID, now); err != nil {
					return err
				}
			}
			report.KeysDestroyed = len(dead)

			deleted, err := dbClient.DeleteShareLinksExpiredBefore(dbCtx, now.Add(-i.gracePeriod))
			if err != nil {
				return err
			}
			report.LinksDeleted = len(deleted)
			return nil
		},
	); dbErr != nil {
		return CleanupReport{}, fmt.Errorf("share link cleanup failed [%w]", dbErr)
	}

	log.WithFields(i.GetLogTagsForContext(ctx)).
		WithField("keys-destroyed", report.KeysDestroyed).
		WithField("links-deleted", report.LinksDeleted).
		Debug("Share link cleanup pass complete")

	return report, nil
}

/*
StartJanitor periodically run CleanupExpiredLinks until the context ends

	@param ctx context.Context - janitor lifetime
	@param interval time.Duration - time between passes
	@returns channel closed once the janitor exits
*/
func (i *linkIssuer) StartJanitor(
	ctx context.Context, interval time.Duration,
) (<-chan struct{}, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("janitor interval must be positive, got %s", interval)
	}

	logtags := i.GetLogTagsForContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.WithFields(logtags).WithField("interval", interval).Info("Share link janitor started")
		for {
			select {
			case <-ctx.Done():
				log.WithFields(logtags).Info("Share link janitor stopped")
				return
			case <-ticker.C:
				if _, err := i.CleanupExpiredLinks(ctx, i.clock()); err != nil {
					log.WithError(err).WithFields(logtags).Error("Share link cleanup pass failed")
				}
			}
		}
	}()
	return done, nil
}
