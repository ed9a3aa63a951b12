// Package blob - document blob store collaborator
package blob

import (
	"context"

	"github.com/alwitt/custody/models"
)

// Actions reported to the blob store access log
const (
	ActionDecryptVersion  = "decrypt_version"
	ActionCreateShareLink = "create_share_link"
	ActionRevokeShareLink = "revoke_share_link"
)

/*
Store the base document blob store. It holds each document's current encrypted payload,
decides who may access a document, and keeps the document access audit log.

The vault only consumes this contract; upload and ACL management live elsewhere.
*/
type Store interface {
	/*
		GetCurrentCiphertext fetch the current encrypted payload of a document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@returns the payload, encrypted for the vault
	*/
	GetCurrentCiphertext(ctx context.Context, documentID string) (models.EncryptedPayload, error)

	/*
		CanAccess whether a user may access a document

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param userID string - the user ID
			@returns whether access is allowed
	*/
	CanAccess(ctx context.Context, documentID string, userID string) (bool, error)

	/*
		LogAccess append to the document access audit log

			@param ctx context.Context - execution context
			@param documentID string - the document ID
			@param userID string - the user ID
			@param action string - the action performed
			@param metadata map[string]interface{} - additional details
	*/
	LogAccess(
		ctx context.Context,
		documentID string,
		userID string,
		action string,
		metadata map[string]interface{},
	) error
}
