package ledger

import (
	"context"
	"fmt"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/models"
	"github.com/apex/log"
)

/*
VerifyChain re-verify the full version chain of a document. Every break is reported; the
scan does not stop at the first one.

A version is a direct break when its own chain hash or previous hash does not recompute
from the stored content hashes, or when its number leaves a gap. A version that follows a
break commits to a tainted history, so it is reported in BrokenLinks as well.

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param opts VerifyOptions - verification options
	@param activeDBClient Database - existing database transaction
	@returns the itemized verification result
*/
func (l *versionLedger) VerifyChain(
	ctx context.Context, documentID string, opts VerifyOptions, activeDBClient db.Database,
) (models.ChainVerification, error) {
	logtags := l.GetLogTagsForContext(ctx)

	versions, err := l.listVersions(ctx, documentID, activeDBClient)
	if err != nil {
		return models.ChainVerification{}, err
	}

	result := models.ChainVerification{
		DocumentID:        documentID,
		TotalCount:        len(versions),
		BrokenLinks:       []int{},
		DirectBreaks:      []int{},
		SignatureFailures: []int{},
	}
	if opts.RecomputeContent {
		result.ContentMismatches = []int{}
	}

	tainted := false
	for idx, oneVersion := range versions {
		var previous *models.DocumentVersion
		if idx > 0 {
			previous = &versions[idx-1]
		}

		linkOK := l.linkIntact(oneVersion, previous, idx+1)

		contentOK := true
		if opts.RecomputeContent {
			contentOK = l.contentIntact(ctx, oneVersion)
			if !contentOK {
				result.ContentMismatches = append(result.ContentMismatches, oneVersion.VersionNumber)
			}
		}

		signatureOK := l.signatureIntact(ctx, oneVersion)
		if !signatureOK {
			result.SignatureFailures = append(result.SignatureFailures, oneVersion.VersionNumber)
		}

		if !linkOK || !contentOK {
			result.DirectBreaks = append(result.DirectBreaks, oneVersion.VersionNumber)
			if !tainted {
				tainted = true
				result.IntactThrough = idx
			}
		}
		if tainted {
			result.BrokenLinks = append(result.BrokenLinks, oneVersion.VersionNumber)
		}

		if !tainted && signatureOK {
			result.VerifiedCount++
		}
	}
	if !tainted {
		result.IntactThrough = len(versions)
	}

	result.Valid = len(result.BrokenLinks) == 0 &&
		len(result.SignatureFailures) == 0 &&
		len(result.ContentMismatches) == 0

	entry := log.WithFields(logtags).
		WithField("document", documentID).
		WithField("verified", result.VerifiedCount).
		WithField("total", result.TotalCount)
	if result.Valid {
		entry.Debug("Version chain intact")
	} else {
		entry.
			WithField("broken", result.BrokenLinks).
			WithField("bad-signatures", result.SignatureFailures).
			WithField("bad-content", result.ContentMismatches).
			Warn("Version chain integrity failure")
	}

	return result, nil
}

// linkIntact whether a version's own link recomputes from the stored content hashes
func (l *versionLedger) linkIntact(
	version models.DocumentVersion, previous *models.DocumentVersion, expectedNumber int,
) bool {
	if version.VersionNumber != expectedNumber {
		return false
	}
	if version.HashAlgorithm != models.AlgorithmHash {
		return false
	}

	var previousContentHash *string
	if previous == nil {
		if version.PreviousVersionHash != nil {
			return false
		}
	} else {
		if version.PreviousVersionHash == nil ||
			*version.PreviousVersionHash != previous.ContentHash {
			return false
		}
		previousContentHash = &previous.ContentHash
	}

	return ComputeChainHash(l.crypto.Hash, version.ContentHash, previousContentHash) ==
		version.ChainHash
}

// signatureIntact whether a trusted vault identity signed the version's chain hash
func (l *versionLedger) signatureIntact(ctx context.Context, version models.DocumentVersion) bool {
	if !l.isTrustedSigner(version.Signature.PublicKey) {
		return false
	}
	return l.crypto.Verify(ctx, []byte(version.ChainHash), version.Signature) == nil
}

// contentIntact whether the version payload decrypts to content matching its hash
func (l *versionLedger) contentIntact(ctx context.Context, version models.DocumentVersion) bool {
	plainText, err := l.crypto.EncapsulateDecrypt(ctx, version.Payload)
	if err != nil {
		log.WithError(err).
			WithFields(l.GetLogTagsForContext(ctx)).
			WithField("document", version.DocumentID).
			WithField("version", version.VersionNumber).
			Warn("Version payload failed to decrypt")
		return false
	}
	return l.crypto.Hash(plainText) == version.ContentHash
}

/*
DecryptVersion decrypt the content of a version, if the user may access the document

	@param ctx context.Context - execution context
	@param documentID string - the document ID
	@param versionNumber int - the version sequence number
	@param userID string - the requesting user
	@returns the version content
*/
func (l *versionLedger) DecryptVersion(
	ctx context.Context, documentID string, versionNumber int, userID string,
) ([]byte, error) {
	allowed, err := l.blobs.CanAccess(ctx, documentID, userID)
	if err != nil {
		return nil, fmt.Errorf("document access check failed [%w]", err)
	}
	if !allowed {
		return nil, fmt.Errorf(
			"%w: user '%s' may not read document '%s'", models.ErrAccessDenied, userID, documentID,
		)
	}

	version, err := l.GetVersionByNumber(ctx, documentID, versionNumber, nil)
	if err != nil {
		return nil, err
	}

	plainText, err := l.crypto.EncapsulateDecrypt(ctx, version.Payload)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to decrypt version %d of document '%s' [%w]", versionNumber, documentID, err,
		)
	}
	if l.crypto.Hash(plainText) != version.ContentHash {
		return nil, fmt.Errorf(
			"%w: version %d of document '%s' does not match its content hash",
			models.ErrChainIntegrity,
			versionNumber,
			documentID,
		)
	}

	if err := l.blobs.LogAccess(
		ctx, documentID, userID, blob.ActionDecryptVersion, map[string]interface{}{
			"version_number": versionNumber,
			"content_hash":   version.ContentHash,
		},
	); err != nil {
		return nil, fmt.Errorf("failed to log document access [%w]", err)
	}

	return plainText, nil
}
