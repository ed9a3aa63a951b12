package db

import (
	"context"
	"fmt"

	"github.com/alwitt/custody/models"
)

// GlobalVaultParamEntryID ID of the singleton vault parameter entry
const GlobalVaultParamEntryID = "vault-parameters"

// getVaultParamEntry fetch the vault param entry
//
// If the entry does not exist, initialize a new one.
func (d *databaseImpl) getVaultParamEntry() (VaultParamsDBEntry, error) {
	var entries []VaultParamsDBEntry
	dbErr := d.db.Where("id = ?", GlobalVaultParamEntryID).Find(&entries).Error
	if dbErr != nil {
		return VaultParamsDBEntry{}, fmt.Errorf("failed to read vault params table [%w]", dbErr)
	}
	if len(entries) == 0 {
		// Make a new one
		newEntry := VaultParamsDBEntry{
			VaultParams: models.VaultParams{
				ID:    GlobalVaultParamEntryID,
				State: models.SystemStatePreInit,
			},
		}
		if dbErr = d.db.Create(&newEntry).Error; dbErr != nil {
			return VaultParamsDBEntry{}, fmt.Errorf(
				"failed to setup singleton vault params table [%w]", dbErr,
			)
		}
		return newEntry, nil
	}
	return entries[0], nil
}

/*
GetVaultParamEntry fetch the global singleton vault parameter entry

	@param ctx context.Context - execution context
	@returns the entry
*/
func (d *databaseImpl) GetVaultParamEntry(_ context.Context) (models.VaultParams, error) {
	entry, err := d.getVaultParamEntry()
	if err != nil {
		return entry.VaultParams, fmt.Errorf("unable to fetch vault parameter entry [%w]", err)
	}
	return entry.VaultParams, nil
}

// updateVaultParamState update the vault parameter entry with new state
func (d *databaseImpl) updateVaultParamState(
	newState models.SystemStateENUMType, modify func(entry *VaultParamsDBEntry),
) error {
	entry, err := d.getVaultParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch vault parameter entry [%w]", err)
	}

	if entry.State == newState {
		// NOOP
		return nil
	}

	if err := entry.ValidateNextState(newState); err != nil {
		return fmt.Errorf("vault state change to %s not allowed [%w]", newState, err)
	}

	oldState := entry.State
	entry.State = newState
	if modify != nil {
		modify(&entry)
	}
	if tmp := d.db.Updates(&entry); tmp.Error != nil {
		return fmt.Errorf("vault state change update failed [%w]", tmp.Error)
	}

	// record this event
	switch newState {
	case models.SystemStateInit:
		_, err = d.defineNewSystemEvent(models.SystemEventTypeInitializing, nil)
		if err != nil {
			return fmt.Errorf("failed to log vault state change audit event [%w]", err)
		}

	case models.SystemStateRunning:
		if oldState == models.SystemStateInit {
			_, err = d.defineNewSystemEvent(models.SystemEventTypeInitialized, nil)
			if err != nil {
				return fmt.Errorf("failed to log vault state change audit event [%w]", err)
			}
		}
	}

	return nil
}

/*
MarkVaultInitializing mark vault is initializing, and record its identity

	@param ctx context.Context - execution context
	@param encapsulationPubKey []byte - the vault KEM public key
	@param signingPubKey []byte - the vault signing public key
*/
func (d *databaseImpl) MarkVaultInitializing(
	_ context.Context, encapsulationPubKey, signingPubKey []byte,
) error {
	return d.updateVaultParamState(models.SystemStateInit, func(entry *VaultParamsDBEntry) {
		entry.EncapsulationPublicKey = encapsulationPubKey
		entry.SigningPublicKey = signingPubKey
	})
}

/*
MarkVaultInitialized mark vault fully initialized

	@param ctx context.Context - execution context
*/
func (d *databaseImpl) MarkVaultInitialized(_ context.Context) error {
	return d.updateVaultParamState(models.SystemStateRunning, nil)
}

/*
RotateVaultIdentity replace the recorded identity of a running vault

	@param ctx context.Context - execution context
	@param encapsulationPubKey []byte - the new vault KEM public key
	@param signingPubKey []byte - the new vault signing public key
*/
func (d *databaseImpl) RotateVaultIdentity(
	_ context.Context, encapsulationPubKey, signingPubKey []byte,
) error {
	entry, err := d.getVaultParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch vault parameter entry [%w]", err)
	}
	if entry.State != models.SystemStateRunning {
		return fmt.Errorf(
			"%w: vault identity can't be rotated in state '%s'", models.ErrInvalidState, entry.State,
		)
	}

	entry.EncapsulationPublicKey = encapsulationPubKey
	entry.SigningPublicKey = signingPubKey
	if tmp := d.db.Updates(&entry); tmp.Error != nil {
		return fmt.Errorf("vault identity update failed [%w]", tmp.Error)
	}

	if _, err := d.defineNewSystemEvent(models.SystemEventTypeIdentityRotated, nil); err != nil {
		return fmt.Errorf("failed to log vault identity rotation audit event [%w]", err)
	}
	return nil
}
