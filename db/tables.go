package db

import "github.com/alwitt/custody/models"

// --------------------------------------------------------------------------------------
// System audit events

// SystemEventAuditDBEntry system audit event DB entry
type SystemEventAuditDBEntry struct {
	models.SystemEventAudit
}

// TableName hard code table name
func (SystemEventAuditDBEntry) TableName() string {
	return "system_audit_events"
}

// --------------------------------------------------------------------------------------
// Vault parameters

// VaultParamsDBEntry vault parameter DB entry
type VaultParamsDBEntry struct {
	models.VaultParams
}

// TableName hard code table name
func (VaultParamsDBEntry) TableName() string {
	return "vault_params"
}

// --------------------------------------------------------------------------------------
// Document versions

// DocumentVersionDBEntry document version DB entry
type DocumentVersionDBEntry struct {
	models.DocumentVersion
}

// TableName hard code table name
func (DocumentVersionDBEntry) TableName() string {
	return "document_versions"
}

// --------------------------------------------------------------------------------------
// Share links

// ShareLinkDBEntry share link DB entry
type ShareLinkDBEntry struct {
	models.SecureShareLink
}

// TableName hard code table name
func (ShareLinkDBEntry) TableName() string {
	return "share_links"
}

// ShareAccessEventDBEntry share link access attempt DB entry
type ShareAccessEventDBEntry struct {
	models.ShareAccessEvent
	ShareLink ShareLinkDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:ShareID;references:ShareID" validate:"-"`
}

// TableName hard code table name
func (ShareAccessEventDBEntry) TableName() string {
	return "share_access_events"
}
