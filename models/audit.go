package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// SystemEventTypeENUMType system event type ENUM value type
type SystemEventTypeENUMType string

const (
	// SystemEventTypeInitializing vault is being initialized
	SystemEventTypeInitializing SystemEventTypeENUMType = "VAULT_INITIALIZING"

	// SystemEventTypeInitialized vault is initialized
	SystemEventTypeInitialized SystemEventTypeENUMType = "VAULT_INITIALIZED"

	// SystemEventTypeIdentityRotated vault identity key pairs replaced
	SystemEventTypeIdentityRotated SystemEventTypeENUMType = "VAULT_IDENTITY_ROTATED"

	// SystemEventTypeAddDocumentVersion new document version appended to the ledger
	SystemEventTypeAddDocumentVersion SystemEventTypeENUMType = "ADD_DOCUMENT_VERSION"

	// SystemEventTypeChangeVersionStatus document version status changed
	SystemEventTypeChangeVersionStatus SystemEventTypeENUMType = "CHANGE_VERSION_STATUS"

	// SystemEventTypeCreateShareLink share link issued
	SystemEventTypeCreateShareLink SystemEventTypeENUMType = "CREATE_SHARE_LINK"

	// SystemEventTypeRevokeShareLink share link revoked
	SystemEventTypeRevokeShareLink SystemEventTypeENUMType = "REVOKE_SHARE_LINK"

	// SystemEventTypeDestroyShareLinkKey share link ephemeral key wiped
	SystemEventTypeDestroyShareLinkKey SystemEventTypeENUMType = "DESTROY_SHARE_LINK_KEY"

	// SystemEventTypeDeleteShareLink share link record removed
	SystemEventTypeDeleteShareLink SystemEventTypeENUMType = "DELETE_SHARE_LINK"
)

// SystemEventAudit recording of events occurring at the system level
type SystemEventAudit struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// EventType system event type
	EventType SystemEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,system_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a SystemEventAudit) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	// Ledger related system audit events
	case SystemEventTypeAddDocumentVersion:
		fallthrough
	case SystemEventTypeChangeVersionStatus:
		var parsed SystemEventVersionRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Share link related system audit events
	case SystemEventTypeCreateShareLink:
		fallthrough
	case SystemEventTypeRevokeShareLink:
		fallthrough
	case SystemEventTypeDestroyShareLinkKey:
		fallthrough
	case SystemEventTypeDeleteShareLink:
		var parsed SystemEventShareLinkRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// SystemEventVersionRelated system event metadata related to a document version
type SystemEventVersionRelated struct {
	// DocumentID the document
	DocumentID string `json:"document_id" validate:"required"`
	// VersionID the document version
	VersionID string `json:"version_id" validate:"required"`
	// VersionNumber the version sequence number
	VersionNumber int `json:"version_number" validate:"required,gte=1"`
	// Status the version status after the event
	Status DocumentStatusENUMType `json:"status" validate:"required,document_status"`
	// Actor who triggered the event
	Actor string `json:"actor,omitempty"`
}

// SystemEventShareLinkRelated system event metadata related to a share link
type SystemEventShareLinkRelated struct {
	// ShareID the share link
	ShareID string `json:"share_id" validate:"required"`
	// DocumentID the shared document
	DocumentID string `json:"document_id" validate:"required"`
	// Actor who triggered the event
	Actor string `json:"actor,omitempty"`
	// Reason optional reason
	Reason string `json:"reason,omitempty"`
}
