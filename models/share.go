package models

import (
	"time"

	"gorm.io/datatypes"
)

// ShareLinkStateENUMType share link lifecycle state ENUM type
//
// Only REVOKED is stored. EXPIRED and EXHAUSTED are derived from the expiry time and
// the access counter at query time.
type ShareLinkStateENUMType string

const (
	// ShareLinkStateActive the link can be accessed
	ShareLinkStateActive ShareLinkStateENUMType = "ACTIVE"
	// ShareLinkStateExpired the link is past its expiry time
	ShareLinkStateExpired ShareLinkStateENUMType = "EXPIRED"
	// ShareLinkStateExhausted the link has used up its access budget
	ShareLinkStateExhausted ShareLinkStateENUMType = "EXHAUSTED"
	// ShareLinkStateRevoked the link was revoked by its creator
	ShareLinkStateRevoked ShareLinkStateENUMType = "REVOKED"
)

// SecureShareLink a time-limited, access-limited link to a re-encrypted document snapshot
type SecureShareLink struct {
	// ShareID the unguessable link token. Sole lookup key.
	ShareID string `json:"share_id" gorm:"column:share_id;primaryKey;unique" validate:"required"`

	// DocumentID the shared document
	DocumentID string `json:"document_id" gorm:"column:document_id;not null;index" validate:"required"`
	// CreatedBy the link creator
	CreatedBy string `json:"created_by" gorm:"column:created_by;not null;index" validate:"required"`
	// ExpiresAt link expiry. Immutable.
	ExpiresAt time.Time `json:"expires_at" gorm:"column:expires_at;not null;index" validate:"required"`

	// MaxAccesses access budget. 0 is unlimited.
	MaxAccesses int `json:"max_accesses" gorm:"column:max_accesses;not null" validate:"gte=0"`
	// AccessCount number of successful accesses
	AccessCount int `json:"access_count" gorm:"column:access_count;not null" validate:"gte=0"`

	// RequirePassword whether a password is needed
	RequirePassword bool `json:"require_password" gorm:"column:require_password;not null"`
	// PasswordHash one-way hash of the password
	PasswordHash string `json:"password_hash,omitempty" gorm:"column:password_hash"`

	// AllowedIPs optional source address allowlist. Addresses or CIDR prefixes.
	AllowedIPs datatypes.JSONSlice[string] `json:"allowed_ips,omitempty" gorm:"column:allowed_ips"`
	// Watermark display watermark
	Watermark string `json:"watermark,omitempty" gorm:"column:watermark"`
	// RecipientInfo display metadata about the recipient
	RecipientInfo string `json:"recipient_info,omitempty" gorm:"column:recipient_info"`

	// EphemeralKey the one-time symmetric key. Wiped once the link is dead.
	EphemeralKey []byte `json:"ephemeral_key,omitempty" gorm:"column:ephemeral_key"`
	// IV the AEAD nonce
	IV []byte `json:"iv" gorm:"column:iv;not null" validate:"required"`
	// AuthTag the AEAD authentication tag
	AuthTag []byte `json:"auth_tag" gorm:"column:auth_tag;not null" validate:"required"`
	// EncryptedData the re-encrypted snapshot
	EncryptedData []byte `json:"encrypted_data" gorm:"column:encrypted_data"`
	// EncryptionAlgorithm snapshot encryption algorithm label
	EncryptionAlgorithm string `json:"encryption_algorithm" gorm:"column:encryption_algorithm;not null" validate:"required"`

	// ContentHash hash of the snapshot plain text
	ContentHash string `json:"content_hash" gorm:"column:content_hash;not null" validate:"required"`
	// HashAlgorithm hash algorithm label
	HashAlgorithm string `json:"hash_algorithm" gorm:"column:hash_algorithm;not null" validate:"required"`
	// VersionNumber the ledger version the snapshot matches, if known
	VersionNumber *int `json:"version_number,omitempty" gorm:"column:version_number;default:null"`
	// ChainHash chain hash of the pinned ledger version
	ChainHash *string `json:"chain_hash,omitempty" gorm:"column:chain_hash;default:null"`
	// SignatureAlgorithm signature algorithm of the pinned ledger version
	SignatureAlgorithm *string `json:"signature_algorithm,omitempty" gorm:"column:signature_algorithm;default:null"`

	// IsRevoked whether the link was revoked
	IsRevoked bool `json:"is_revoked" gorm:"column:is_revoked;not null"`
	// RevokedAt revocation timestamp
	RevokedAt *time.Time `json:"revoked_at,omitempty" gorm:"column:revoked_at;default:null"`
	// RevokedBy who revoked the link
	RevokedBy *string `json:"revoked_by,omitempty" gorm:"column:revoked_by;default:null"`
	// RevokeReason why the link was revoked
	RevokeReason *string `json:"revoke_reason,omitempty" gorm:"column:revoke_reason;default:null"`
	// KeyDestroyedAt when the ephemeral key was wiped
	KeyDestroyedAt *time.Time `json:"key_destroyed_at,omitempty" gorm:"column:key_destroyed_at;default:null"`

	// AccessLog access attempts, oldest first
	AccessLog []ShareAccessEvent `json:"access_log" gorm:"-" validate:"-"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// State derive the link state at a point in time
func (l *SecureShareLink) State(now time.Time) ShareLinkStateENUMType {
	if l.IsRevoked {
		return ShareLinkStateRevoked
	}
	if !now.Before(l.ExpiresAt) {
		return ShareLinkStateExpired
	}
	if l.MaxAccesses > 0 && l.AccessCount >= l.MaxAccesses {
		return ShareLinkStateExhausted
	}
	return ShareLinkStateActive
}

// RemainingAccesses number of accesses left. -1 if unlimited.
func (l *SecureShareLink) RemainingAccesses() int {
	if l.MaxAccesses == 0 {
		return -1
	}
	if remain := l.MaxAccesses - l.AccessCount; remain > 0 {
		return remain
	}
	return 0
}

// ShareAccessEvent one access attempt against a share link
type ShareAccessEvent struct {
	// ID event ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// ShareID the accessed link
	ShareID string `json:"share_id" gorm:"column:share_id;not null;index" validate:"required"`
	// Timestamp when the attempt was made
	Timestamp time.Time `json:"timestamp" gorm:"column:accessed_at;not null" validate:"required"`
	// SourceIP source address of the attempt
	SourceIP string `json:"source_ip,omitempty" gorm:"column:source_ip"`
	// Success whether the attempt passed policy and was served
	Success bool `json:"success" gorm:"column:success;not null"`
	// FailureReason rejection reason of a failed attempt
	FailureReason string `json:"failure_reason,omitempty" gorm:"column:failure_reason"`
}

// ShareValidity result of evaluating a link's policy
type ShareValidity struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ShareDownload the resolved content of a share link
type ShareDownload struct {
	// ShareID the accessed link
	ShareID string `json:"share_id"`
	// DocumentID the shared document
	DocumentID string `json:"document_id"`
	// Content the decrypted snapshot
	Content []byte `json:"content"`
	// RemainingAccesses accesses left after this one. -1 if unlimited.
	RemainingAccesses int `json:"remaining_accesses"`
	// Burned whether this access used up the link
	Burned bool `json:"burned"`
	// Watermark display watermark
	Watermark string `json:"watermark,omitempty"`
	// ContentHash hash of Content
	ContentHash string `json:"content_hash"`
	// ChainHash chain hash of the pinned ledger version
	ChainHash string `json:"chain_hash,omitempty"`
	// HashAlgorithm hash algorithm label
	HashAlgorithm string `json:"hash_algorithm"`
	// EncryptionAlgorithm snapshot encryption algorithm label
	EncryptionAlgorithm string `json:"encryption_algorithm"`
	// SignatureAlgorithm signature algorithm of the pinned ledger version
	SignatureAlgorithm string `json:"signature_algorithm,omitempty"`
	// VersionNumber the pinned ledger version
	VersionNumber int `json:"version_number,omitempty"`
}

// ShareLinkStats summary over a set of share links
type ShareLinkStats struct {
	Total          int `json:"total"`
	Active         int `json:"active"`
	Expired        int `json:"expired"`
	Exhausted      int `json:"exhausted"`
	Revoked        int `json:"revoked"`
	TotalAccesses  int `json:"total_accesses"`
	FailedAttempts int `json:"failed_attempts"`
}
