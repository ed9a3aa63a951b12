package models

import (
	"errors"
	"fmt"
)

// Error categories. Every error surfaced by the vault wraps exactly one of these.
var (
	// ErrNotFound document, version or link is absent
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied policy or ownership failure
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidState wrong status transition or repeated one-way transition
	ErrInvalidState = errors.New("invalid state")
	// ErrCryptoFailure signature, decryption or authentication tag failure
	ErrCryptoFailure = errors.New("cryptographic failure")
	// ErrChainIntegrity version chain verification found a break
	ErrChainIntegrity = errors.New("chain integrity failure")
	// ErrPolicyViolation share link access rejected by its policy
	ErrPolicyViolation = errors.New("policy violation")
)

var (
	// ErrDocumentNotFound no version exists for the document
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)
	// ErrVersionNotFound the requested version does not exist
	ErrVersionNotFound = fmt.Errorf("document version %w", ErrNotFound)
	// ErrShareLinkNotFound the share link does not exist
	ErrShareLinkNotFound = fmt.Errorf("share link %w", ErrNotFound)
	// ErrBlobMissing the blob store has no payload for the document
	ErrBlobMissing = fmt.Errorf("document blob %w", ErrNotFound)

	// ErrInvalidStatus the lifecycle status is not recognized or transition not allowed
	ErrInvalidStatus = fmt.Errorf("document status %w", ErrInvalidState)
	// ErrVersionConflict the caller's base version is not the latest version
	ErrVersionConflict = fmt.Errorf("version conflict: %w", ErrInvalidState)
	// ErrAlreadyRevoked the share link was already revoked
	ErrAlreadyRevoked = fmt.Errorf("share link already revoked: %w", ErrInvalidState)

	// ErrDecryptionFailed decryption or authentication tag check failed
	ErrDecryptionFailed = fmt.Errorf("decryption failed: %w", ErrCryptoFailure)
	// ErrSignatureFailed signing or signature verification failed
	ErrSignatureFailed = fmt.Errorf("signature failed: %w", ErrCryptoFailure)
)

// Share link rejection reasons. These are the only reasons ever reported to the
// party presenting a link.
const (
	ReasonNotFound        = "not_found"
	ReasonRevoked         = "revoked"
	ReasonExpired         = "expired"
	ReasonExhausted       = "exhausted"
	ReasonIPNotAllowed    = "ip_not_allowed"
	ReasonInvalidPassword = "invalid_password"
	ReasonDecryptFailed   = "decryption_failed"
)

// PolicyError share link access rejected for a documented reason
type PolicyError struct {
	Reason string
}

// Error implements error
func (e *PolicyError) Error() string {
	return fmt.Sprintf("share link rejected: %s", e.Reason)
}

// Unwrap allows errors.Is(err, ErrPolicyViolation)
func (e *PolicyError) Unwrap() error {
	return ErrPolicyViolation
}

// NewPolicyError define a policy violation with reason
func NewPolicyError(reason string) error {
	return &PolicyError{Reason: reason}
}

// PolicyReason extract the rejection reason, if err is a policy violation
func PolicyReason(err error) (string, bool) {
	var policyErr *PolicyError
	if errors.As(err, &policyErr) {
		return policyErr.Reason, true
	}
	return "", false
}
