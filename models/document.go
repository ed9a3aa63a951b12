package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// DocumentStatusENUMType document version lifecycle status ENUM type
type DocumentStatusENUMType string

const (
	// DocumentStatusDraft the version is a draft
	DocumentStatusDraft DocumentStatusENUMType = "DRAFT"
	// DocumentStatusFinal the version is the finalized content
	DocumentStatusFinal DocumentStatusENUMType = "FINAL"
	// DocumentStatusSuperseded a newer finalized version exists
	DocumentStatusSuperseded DocumentStatusENUMType = "SUPERSEDED"
	// DocumentStatusRevoked the version is withdrawn
	DocumentStatusRevoked DocumentStatusENUMType = "REVOKED"
)

// IsKnown whether the status is a recognized lifecycle value
func (s DocumentStatusENUMType) IsKnown() bool {
	switch s {
	case DocumentStatusDraft:
		fallthrough
	case DocumentStatusFinal:
		fallthrough
	case DocumentStatusSuperseded:
		fallthrough
	case DocumentStatusRevoked:
		return true
	}
	return false
}

// DocumentVersion one immutable version of a document.
//
// Only Status may change after the version is recorded.
type DocumentVersion struct {
	// ID version ID
	ID string `json:"version_id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// DocumentID the document this version belongs to
	DocumentID string `json:"document_id" gorm:"column:document_id;not null;uniqueIndex:idx_document_version_number" validate:"required"`

	// VersionNumber 1-based version sequence number within the document
	VersionNumber int `json:"version_number" gorm:"column:version_number;not null;uniqueIndex:idx_document_version_number" validate:"required,gte=1"`

	// ContentHash hash of the plain text payload of this version
	ContentHash string `json:"content_hash" gorm:"column:content_hash;not null" validate:"required"`
	// PreviousVersionHash content hash of the previous version. Absent for version 1.
	PreviousVersionHash *string `json:"previous_version_hash,omitempty" gorm:"column:previous_version_hash;default:null"`
	// ChainHash hash binding this version to the entire prior history
	ChainHash string `json:"chain_hash" gorm:"column:chain_hash;not null" validate:"required"`
	// HashAlgorithm hash algorithm label
	HashAlgorithm string `json:"hash_algorithm" gorm:"column:hash_algorithm;not null" validate:"required"`

	// Signature signature over ChainHash
	Signature Signature `json:"signature" gorm:"embedded;embeddedPrefix:signature_"`

	// Status lifecycle status
	Status DocumentStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,document_status"`

	// Payload the encrypted version payload
	Payload EncryptedPayload `json:"payload" gorm:"embedded;embeddedPrefix:payload_"`

	// CreatedBy identity of the author
	CreatedBy string `json:"created_by" gorm:"column:created_by;not null" validate:"required"`
	// Comment optional author comment
	Comment string `json:"comment,omitempty" gorm:"column:comment"`
	// ChangeReason optional reason for the change
	ChangeReason string `json:"change_reason,omitempty" gorm:"column:change_reason"`
	// Tags optional labels
	Tags datatypes.JSONSlice[string] `json:"tags,omitempty" gorm:"column:tags"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextState verify can transition to new status
func (v *DocumentVersion) ValidateNextState(newState DocumentStatusENUMType) error {
	statesWithTransitions := map[DocumentStatusENUMType]map[DocumentStatusENUMType]bool{
		DocumentStatusDraft: {
			DocumentStatusDraft:      true,
			DocumentStatusFinal:      true,
			DocumentStatusSuperseded: true,
			DocumentStatusRevoked:    true,
		},
		DocumentStatusFinal: {
			DocumentStatusFinal:      true,
			DocumentStatusSuperseded: true,
			DocumentStatusRevoked:    true,
		},
		DocumentStatusSuperseded: {
			DocumentStatusSuperseded: true,
			DocumentStatusRevoked:    true,
		},
		DocumentStatusRevoked: {
			DocumentStatusRevoked: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[v.Status]
	if !ok {
		return fmt.Errorf("%w: version can't transition out of '%s'", ErrInvalidStatus, v.Status)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf(
			"%w: version can't transition from '%s' to '%s'", ErrInvalidStatus, v.Status, newState,
		)
	}

	return nil
}

// VersionMetadata the non-secret portion of a document version
type VersionMetadata struct {
	ID                  string                 `json:"version_id"`
	DocumentID          string                 `json:"document_id"`
	VersionNumber       int                    `json:"version_number"`
	ContentHash         string                 `json:"content_hash"`
	PreviousVersionHash *string                `json:"previous_version_hash,omitempty"`
	ChainHash           string                 `json:"chain_hash"`
	HashAlgorithm       string                 `json:"hash_algorithm"`
	SignatureAlgorithm  string                 `json:"signature_algorithm"`
	EncryptionAlgorithm string                 `json:"encryption_algorithm"`
	Status              DocumentStatusENUMType `json:"status"`
	CreatedBy           string                 `json:"created_by"`
	Comment             string                 `json:"comment,omitempty"`
	ChangeReason        string                 `json:"change_reason,omitempty"`
	Tags                []string               `json:"tags,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// Metadata strip the encrypted payload and signature bytes from the version
func (v DocumentVersion) Metadata() VersionMetadata {
	return VersionMetadata{
		ID:                  v.ID,
		DocumentID:          v.DocumentID,
		VersionNumber:       v.VersionNumber,
		ContentHash:         v.ContentHash,
		PreviousVersionHash: v.PreviousVersionHash,
		ChainHash:           v.ChainHash,
		HashAlgorithm:       v.HashAlgorithm,
		SignatureAlgorithm:  v.Signature.Algorithm,
		EncryptionAlgorithm: v.Payload.Algorithm,
		Status:              v.Status,
		CreatedBy:           v.CreatedBy,
		Comment:             v.Comment,
		ChangeReason:        v.ChangeReason,
		Tags:                v.Tags,
		CreatedAt:           v.CreatedAt,
	}
}

// ChainVerification result of re-verifying a document's version chain.
//
// All version lists hold 1-based version numbers.
type ChainVerification struct {
	// DocumentID the verified document
	DocumentID string `json:"document_id"`
	// Valid true iff no break of any kind was found
	Valid bool `json:"valid"`
	// VerifiedCount number of versions that passed every check
	VerifiedCount int `json:"verified_count"`
	// TotalCount number of versions in the chain
	TotalCount int `json:"total_count"`
	// BrokenLinks versions whose own link failed, plus every version after the first failure
	BrokenLinks []int `json:"broken_links"`
	// DirectBreaks versions whose own chain hash or previous hash did not recompute
	DirectBreaks []int `json:"direct_breaks"`
	// SignatureFailures versions whose signature over the chain hash did not verify
	SignatureFailures []int `json:"signature_failures"`
	// ContentMismatches versions whose decrypted payload did not hash to the content hash.
	// Only populated when content recomputation was requested.
	ContentMismatches []int `json:"content_mismatches,omitempty"`
	// IntactThrough the last version number before the first break, 0 if version 1 is broken
	IntactThrough int `json:"intact_through"`
}

// LedgerStats summary of a document's version chain
type LedgerStats struct {
	DocumentID     string                         `json:"document_id"`
	TotalVersions  int                            `json:"total_versions"`
	LatestVersion  int                            `json:"latest_version"`
	LatestStatus   DocumentStatusENUMType         `json:"latest_status,omitempty"`
	StatusCounts   map[DocumentStatusENUMType]int `json:"status_counts"`
	Authors        []string                       `json:"authors"`
	FirstCreatedAt *time.Time                     `json:"first_created_at,omitempty"`
	LastCreatedAt  *time.Time                     `json:"last_created_at,omitempty"`
}

// Err the verification outcome as an error wrapping ErrChainIntegrity, nil if valid
func (c ChainVerification) Err() error {
	if c.Valid {
		return nil
	}
	return fmt.Errorf(
		"%w: document '%s' intact through version %d, broken %v, bad signatures %v, bad content %v",
		ErrChainIntegrity,
		c.DocumentID,
		c.IntactThrough,
		c.BrokenLinks,
		c.SignatureFailures,
		c.ContentMismatches,
	)
}
