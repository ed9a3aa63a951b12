// Package encryption - vault cryptography provider
package encryption

import (
	"context"
	"fmt"

	"github.com/alwitt/custody/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/go-playground/validator/v10"
)

/*
Provider the vault's asymmetric cryptography provider. It is solely responsible for the
vault's long-term key material: key encapsulation, signatures, and content hashing.

The rest of the system never touches the private keys; it only composes these calls.
*/
type Provider interface {
	/*
		EncapsulateEncrypt encrypt plain text for a KEM recipient

			@param ctx context.Context - execution context
			@param plainText []byte - the plain text to encrypt
			@param recipientPubKey []byte - recipient KEM public key. The vault's own key if empty.
			@returns the encrypted payload
	*/
	EncapsulateEncrypt(
		ctx context.Context, plainText []byte, recipientPubKey []byte,
	) (models.EncryptedPayload, error)

	/*
		EncapsulateDecrypt decrypt a payload encrypted for the vault

			@param ctx context.Context - execution context
			@param payload models.EncryptedPayload - the encrypted payload
			@returns the plain text
	*/
	EncapsulateDecrypt(ctx context.Context, payload models.EncryptedPayload) ([]byte, error)

	/*
		Sign sign a message with the vault signing key

			@param ctx context.Context - execution context
			@param message []byte - the message to sign
			@returns the signature
	*/
	Sign(ctx context.Context, message []byte) (models.Signature, error)

	/*
		Verify verify a signature against the public key embedded in it

			@param ctx context.Context - execution context
			@param message []byte - the signed message
			@param signature models.Signature - the signature
			@returns nil if the signature is valid
	*/
	Verify(ctx context.Context, message []byte, signature models.Signature) error

	/*
		Hash compute the hex encoded content hash of data

			@param data []byte - the data to hash
			@returns the digest
	*/
	Hash(data []byte) string

	// EncapsulationPublicKey the vault KEM public key
	EncapsulationPublicKey() []byte

	// SigningPublicKey the vault signing public key
	SigningPublicKey() []byte
}

// pqProvider implements Provider with ML-KEM-768 and ML-DSA-65
type pqProvider struct {
	goutils.Component

	kemKey    *mlkem768.PrivateKey
	kemPubKey []byte

	sigKey    *mldsa65.PrivateKey
	sigPubKey []byte
}

// ProviderParams cryptography provider init parameters
type ProviderParams struct {
	// EncapsulationKeyFile file path to the ML-KEM-768 private key PEM
	EncapsulationKeyFile string `validate:"required,file"`
	// SigningKeyFile file path to the ML-DSA-65 private key PEM
	SigningKeyFile string `validate:"required,file"`
}

/*
NewProvider define new cryptography provider from identity key files

	@param ctx context.Context - execution context
	@param params ProviderParams - provider parameters
	@returns provider instance
*/
func NewProvider(ctx context.Context, params ProviderParams) (Provider, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid provider init parameters [%w]", err)
	}

	identity, err := LoadIdentity(params.EncapsulationKeyFile, params.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault identity [%w]", err)
	}

	return NewProviderFromIdentity(ctx, identity)
}

/*
NewProviderFromIdentity define new cryptography provider from an in-memory identity

	@param ctx context.Context - execution context
	@param identity Identity - the vault identity
	@returns provider instance
*/
func NewProviderFromIdentity(_ context.Context, identity Identity) (Provider, error) {
	if identity.EncapsulationKey == nil || identity.SigningKey == nil {
		return nil, fmt.Errorf("vault identity is incomplete")
	}

	kemPubKey, err := identity.EncapsulationPublicKey()
	if err != nil {
		return nil, err
	}
	sigPubKey, err := identity.SigningPublicKey()
	if err != nil {
		return nil, err
	}

	logTags := log.Fields{"package": "custody", "module": "encryption", "component": "pq-provider"}

	return &pqProvider{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		kemKey:    identity.EncapsulationKey,
		kemPubKey: kemPubKey,
		sigKey:    identity.SigningKey,
		sigPubKey: sigPubKey,
	}, nil
}

func (p *pqProvider) EncapsulationPublicKey() []byte {
	return append([]byte{}, p.kemPubKey...)
}

func (p *pqProvider) SigningPublicKey() []byte {
	return append([]byte{}, p.sigPubKey...)
}
