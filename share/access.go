package share

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/models"
	"github.com/apex/log"
)

// normalizeAllowList parse allowlist entries into canonical address and prefix form
func normalizeAllowList(entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	normalized := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist prefix '%s' [%w]", entry, err)
			}
			normalized = append(normalized, prefix.Masked().String())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist address '%s' [%w]", entry, err)
		}
		normalized = append(normalized, addr.Unmap().String())
	}
	return normalized, nil
}

// sourceAllowed whether the source address is on the allowlist. An empty list allows all.
func sourceAllowed(allowList []string, sourceIP string) bool {
	if len(allowList) == 0 {
		return true
	}
	source, err := netip.ParseAddr(strings.TrimSpace(sourceIP))
	if err != nil {
		return false
	}
	source = source.Unmap()
	for _, entry := range allowList {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(source) {
				return true
			}
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err == nil && addr.Unmap() == source {
			return true
		}
	}
	return false
}

// evaluate check a link's policy in order: revocation, expiry, budget, source address
func evaluate(link models.SecureShareLink, sourceIP string, now time.Time) models.ShareValidity {
	switch link.State(now) {
	case models.ShareLinkStateRevoked:
		return models.ShareValidity{Reason: models.ReasonRevoked}
	case models.ShareLinkStateExpired:
		return models.ShareValidity{Reason: models.ReasonExpired}
	case models.ShareLinkStateExhausted:
		return models.ShareValidity{Reason: models.ReasonExhausted}
	}
	if !sourceAllowed(link.AllowedIPs, sourceIP) {
		return models.ShareValidity{Reason: models.ReasonIPNotAllowed}
	}
	return models.ShareValidity{Valid: true}
}

// fetchLink read a link with its access log outside of any transaction
func (i *linkIssuer) fetchLink(ctx context.Context, shareID string) (models.SecureShareLink, error) {
	var link models.SecureShareLink
	err := i.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		var err error
		link, err = dbClient.GetShareLink(dbCtx, shareID)
		return err
	})
	return link, err
}

/*
IsLinkValid evaluate a link's policy against its current stored state

	@param ctx context.Context - execution context
	@param shareID string - the link token
	@param sourceIP string - the requester address, if known
	@returns the verdict and, if invalid, the first failing reason
*/
func (i *linkIssuer) IsLinkValid(
	ctx context.Context, shareID string, sourceIP string,
) (models.ShareValidity, error) {
	link, err := i.fetchLink(ctx, shareID)
	if err != nil {
		if errors.Is(err, models.ErrShareLinkNotFound) {
			return models.ShareValidity{Reason: models.ReasonNotFound}, nil
		}
		return models.ShareValidity{}, err
	}
	return evaluate(link, sourceIP, i.clock()), nil
}

/*
VerifyPassword check a supplied password against the link's password hash. A link with
no password never matches, and takes as long to reject as a wrong password.

	@param ctx context.Context - execution context
	@param shareID string - the link token
	@param password string - the supplied password
	@returns whether the password matches
*/
func (i *linkIssuer) VerifyPassword(
	ctx context.Context, shareID string, password string,
) (bool, error) {
	link, err := i.fetchLink(ctx, shareID)
	if err != nil {
		if errors.Is(err, models.ErrShareLinkNotFound) {
			i.passwords.Verify("", password)
			return false, nil
		}
		return false, err
	}
	if !link.RequirePassword {
		i.passwords.Verify("", password)
		return false, nil
	}
	return i.passwords.Verify(link.PasswordHash, password), nil
}

// rejectionReason why a link refused to be consumed at a point in time
func rejectionReason(link models.SecureShareLink, now time.Time) string {
	switch link.State(now) {
	case models.ShareLinkStateRevoked:
		return models.ReasonRevoked
	case models.ShareLinkStateExpired:
		return models.ReasonExpired
	}
	return models.ReasonExhausted
}

/*
recordAttempt append an attempt to the access log.

A successful attempt must come from an allowed source address and win the atomic
compare-and-increment of the access counter, else it is downgraded to a failure with the
reason the link refused. The access that
uses up the budget also wipes the link key.

Returns the link as it stands after the attempt.
*/
func (i *linkIssuer) recordAttempt(
	ctx context.Context, shareID string, attempt models.ShareAccessEvent,
) (models.SecureShareLink, error) {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = i.clock()
	}

	var after models.SecureShareLink
	var rejected error
	if dbErr := i.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			before, err := dbClient.GetShareLink(dbCtx, shareID)
			if err != nil {
				if errors.Is(err, models.ErrShareLinkNotFound) {
					rejected = models.NewPolicyError(models.ReasonNotFound)
					return nil
				}
				return err
			}

			if attempt.Success && !sourceAllowed(before.AllowedIPs, attempt.SourceIP) {
				attempt.Success = false
				attempt.FailureReason = models.ReasonIPNotAllowed
				rejected = models.NewPolicyError(models.ReasonIPNotAllowed)
			}

			if attempt.Success {
				consumed, err := dbClient.ConsumeShareAccess(dbCtx, shareID, attempt.Timestamp)
				if err != nil {
					return err
				}
				if !consumed {
					reason := rejectionReason(before, attempt.Timestamp)
					attempt.Success = false
					attempt.FailureReason = reason
					rejected = models.NewPolicyError(reason)
				}
			}

			if _, err := dbClient.RecordShareAccess(dbCtx, shareID, attempt); err != nil {
				return err
			}

			if after, err = dbClient.GetShareLink(dbCtx, shareID); err != nil {
				return err
			}

			// Burn the key once the budget is used up
			if attempt.Success &&
				after.MaxAccesses > 0 &&
				after.AccessCount >= after.MaxAccesses {
				if err := dbClient.DestroyShareLinkKey(dbCtx, shareID, attempt.Timestamp); err != nil {
					return err
				}
				encryption.Wipe(after.EphemeralKey)
				after.EphemeralKey = nil
			}
			return nil
		},
	); dbErr != nil {
		return models.SecureShareLink{}, fmt.Errorf(
			"failed to record share link access attempt [%w]", dbErr,
		)
	}

	return after, rejected
}

/*
LogAccess record an access attempt. A successful attempt consumes one access only if the
link is still valid for its source address at that instant; otherwise it is recorded as a failure and a policy
violation is returned.

	@param ctx context.Context - execution context
	@param shareID string - the link token
	@param attempt models.ShareAccessEvent - the attempt
*/
func (i *linkIssuer) LogAccess(
	ctx context.Context, shareID string, attempt models.ShareAccessEvent,
) error {
	after, err := i.recordAttempt(ctx, shareID, attempt)
	encryption.Wipe(after.EphemeralKey)
	return err
}

// reject record a failed attempt and return the matching policy violation
func (i *linkIssuer) reject(
	ctx context.Context, link models.SecureShareLink, sourceIP string, now time.Time, reason string,
) error {
	if _, err := i.recordAttempt(ctx, link.ShareID, models.ShareAccessEvent{
		Timestamp: now, SourceIP: sourceIP, FailureReason: reason,
	}); err != nil {
		log.WithError(err).
			WithFields(i.GetLogTagsForContext(ctx)).
			WithField("share", shareRef(link.ShareID)).
			Error("Failed to record rejected share link access")
	}
	log.WithFields(i.GetLogTagsForContext(ctx)).
		WithField("share", shareRef(link.ShareID)).
		WithField("reason", reason).
		Debug("Share link access rejected")
	return models.NewPolicyError(reason)
}

/*
AccessLink resolve a link to its content: validate, check the password, decrypt, then
consume one access

	@param ctx context.Context - execution context
	@param req AccessRequest - the access attempt
	@returns the content and its verification labels
*/
func (i *linkIssuer) AccessLink(
	ctx context.Context, req AccessRequest,
) (models.ShareDownload, error) {
	logtags := i.GetLogTagsForContext(ctx)

	if err := i.validator.Struct(&req); err != nil {
		// A malformed source address can never pass an allowlist
		if req.ShareID == "" {
			return models.ShareDownload{}, models.NewPolicyError(models.ReasonNotFound)
		}
		req.SourceIP = ""
	}
	now := i.clock()

	link, err := i.fetchLink(ctx, req.ShareID)
	if err != nil {
		if errors.Is(err, models.ErrShareLinkNotFound) {
			log.WithFields(logtags).
				WithField("share", shareRef(req.ShareID)).
				Debug("Unknown share link presented")
			return models.ShareDownload{}, models.NewPolicyError(models.ReasonNotFound)
		}
		return models.ShareDownload{}, err
	}
	defer encryption.Wipe(link.EphemeralKey)

	if verdict := evaluate(link, req.SourceIP, now); !verdict.Valid {
		return models.ShareDownload{}, i.reject(ctx, link, req.SourceIP, now, verdict.Reason)
	}

	if link.RequirePassword && !i.passwords.Verify(link.PasswordHash, req.Password) {
		return models.ShareDownload{}, i.reject(
			ctx, link, req.SourceIP, now, models.ReasonInvalidPassword,
		)
	}

	content, err := i.ephemeral.Open(ctx, encryption.SealedSnapshot{
		Key:        link.EphemeralKey,
		Nonce:      link.IV,
		CipherText: link.EncryptedData,
		AuthTag:    link.AuthTag,
		Algorithm:  link.EncryptionAlgorithm,
	})
	if err != nil {
		_ = i.reject(ctx, link, req.SourceIP, now, models.ReasonDecryptFailed)
		return models.ShareDownload{}, fmt.Errorf(
			"failed to open snapshot of share link %s [%w]", shareRef(link.ShareID), err,
		)
	}
	if i.crypto.Hash(content) != link.ContentHash {
		encryption.Wipe(content)
		_ = i.reject(ctx, link, req.SourceIP, now, models.ReasonDecryptFailed)
		return models.ShareDownload{}, fmt.Errorf(
			"%w: snapshot of share link %s does not match its content hash",
			models.ErrChainIntegrity,
			shareRef(link.ShareID),
		)
	}

	// Consume one access. Losing the race to a concurrent download is a rejection.
	after, err := i.recordAttempt(ctx, link.ShareID, models.ShareAccessEvent{
		Timestamp: now, SourceIP: req.SourceIP, Success: true,
	})
	encryption.Wipe(after.EphemeralKey)
	if err != nil {
		encryption.Wipe(content)
		return models.ShareDownload{}, err
	}

	download := models.ShareDownload{
		ShareID:             link.ShareID,
		DocumentID:          link.DocumentID,
		Content:             content,
		RemainingAccesses:   after.RemainingAccesses(),
		Burned:              after.MaxAccesses > 0 && after.RemainingAccesses() == 0,
		Watermark:           link.Watermark,
		ContentHash:         link.ContentHash,
		HashAlgorithm:       link.HashAlgorithm,
		EncryptionAlgorithm: link.EncryptionAlgorithm,
	}
	if link.ChainHash != nil {
		download.ChainHash = *link.ChainHash
	}
	if link.SignatureAlgorithm != nil {
		download.SignatureAlgorithm = *link.SignatureAlgorithm
	}
	if link.VersionNumber != nil {
		download.VersionNumber = *link.VersionNumber
	}

	log.WithFields(logtags).
		WithField("share", shareRef(link.ShareID)).
		WithField("remaining", download.RemainingAccesses).
		WithField("burned", download.Burned).
		Info("Share link accessed")

	return download, nil
}
