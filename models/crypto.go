// Package models - system data models
package models

const (
	// AlgorithmEncapsulation ML-KEM-768 (Kyber768) encapsulation with HKDF-SHA-512 derived
	// AES-256-GCM content encryption
	AlgorithmEncapsulation = "kyber768-aes256-gcm"
	// AlgorithmSignature ML-DSA-65 (Dilithium3) signatures
	AlgorithmSignature = "dilithium3"
	// AlgorithmHash hash function used for content and chain hashes
	AlgorithmHash = "sha3-256"
	// AlgorithmEphemeral symmetric AEAD used for share link snapshots
	AlgorithmEphemeral = "xchacha20-poly1305"
)

// EncryptedPayload an encrypted payload along with the material needed to decrypt it
type EncryptedPayload struct {
	// CipherText the encrypted payload, without the authentication tag
	CipherText []byte `json:"ciphertext" gorm:"column:ciphertext"`
	// EncapsulatedKey the KEM ciphertext protecting the content encryption key
	EncapsulatedKey []byte `json:"encapsulated_key" gorm:"column:encapsulated_key" validate:"required"`
	// IV the AEAD nonce
	IV []byte `json:"iv" gorm:"column:iv" validate:"required"`
	// AuthTag the AEAD authentication tag
	AuthTag []byte `json:"auth_tag" gorm:"column:auth_tag" validate:"required"`
	// Algorithm encryption algorithm label
	Algorithm string `json:"algorithm" gorm:"column:algorithm" validate:"required"`
}

// Signature a digital signature along with the signer identity
type Signature struct {
	// Value the raw signature
	Value []byte `json:"value" gorm:"column:value" validate:"required"`
	// PublicKey the signer's public key
	PublicKey []byte `json:"public_key" gorm:"column:public_key" validate:"required"`
	// Algorithm signature algorithm label
	Algorithm string `json:"algorithm" gorm:"column:algorithm" validate:"required"`
}
