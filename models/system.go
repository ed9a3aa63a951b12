package models

import (
	"fmt"
	"time"
)

// SystemStateENUMType system operating state ENUM
type SystemStateENUMType string

const (
	// SystemStatePreInit first time system start
	SystemStatePreInit SystemStateENUMType = "PRE_INITIALIZATION"
	// SystemStateInit system perform first time initialization
	SystemStateInit SystemStateENUMType = "INITIALIZING"
	// SystemStateRunning system running normally
	SystemStateRunning SystemStateENUMType = "RUNNING"
)

// VaultParams vault operating parameters
//
// The vault identity public keys are recorded on first start so later starts can
// detect being pointed at the wrong key material.
type VaultParams struct {
	// ID param entry ID. It must always be vault-parameters
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,oneof=vault-parameters"`

	// State system operating state
	State SystemStateENUMType `json:"state" gorm:"column:state;not null" validate:"required,system_state"`

	// EncapsulationPublicKey the vault's KEM public key
	EncapsulationPublicKey []byte `json:"encapsulation_public_key,omitempty" gorm:"column:encapsulation_public_key"`
	// SigningPublicKey the vault's signing public key
	SigningPublicKey []byte `json:"signing_public_key,omitempty" gorm:"column:signing_public_key"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextState verify can transition to new state
func (p *VaultParams) ValidateNextState(newState SystemStateENUMType) error {
	statesWithTransitions := map[SystemStateENUMType]map[SystemStateENUMType]bool{
		SystemStatePreInit: {
			SystemStatePreInit: true,
			SystemStateInit:    true,
		},
		SystemStateInit: {
			SystemStateInit:    true,
			SystemStateRunning: true,
		},
		SystemStateRunning: {
			SystemStateRunning: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[p.State]
	if !ok {
		return fmt.Errorf("vault can't transition out of state '%s'", p.State)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf("vault can't transition from '%s' to '%s'", p.State, newState)
	}

	return nil
}
