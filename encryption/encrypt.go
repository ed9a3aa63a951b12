package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/alwitt/custody/models"
	"github.com/apex/log"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

const (
	// payloadKDFContext HKDF domain separation string for vault payloads
	payloadKDFContext = "custody:payload:v1"

	aesKeySize   = 32
	aesNonceSize = 12
	aesTagSize   = 16
)

// deriveContentKey derive the AES-256 content key from a KEM shared secret.
//
// salt = SHA-256(KEM ciphertext), info = context || len(aad) as 4 bytes BE || aad
func deriveContentKey(sharedSecret, aad, ctKem []byte) ([]byte, error) {
	saltHash := sha256.Sum256(ctKem)

	info := make([]byte, 0, len(payloadKDFContext)+4+len(aad))
	info = append(info, []byte(payloadKDFContext)...)
	info = binary.BigEndian.AppendUint32(info, uint32(len(aad)))
	info = append(info, aad...)

	reader := hkdf.New(sha512.New, sharedSecret, saltHash[:], info)
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("content key derivation failed [%w]", err)
	}
	return key, nil
}

// payloadAAD the associated data bound into every payload
func payloadAAD() []byte {
	return []byte(models.AlgorithmEncapsulation)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to define AES cipher [%w]", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to define AES-GCM [%w]", err)
	}
	return gcm, nil
}

/*
EncapsulateEncrypt encrypt plain text for a KEM recipient

	@param ctx context.Context - execution context
	@param plainText []byte - the plain text to encrypt
	@param recipientPubKey []byte - recipient KEM public key. The vault's own key if empty.
	@returns the encrypted payload
*/
func (p *pqProvider) EncapsulateEncrypt(
	ctx context.Context, plainText []byte, recipientPubKey []byte,
) (models.EncryptedPayload, error) {
	if len(recipientPubKey) == 0 {
		recipientPubKey = p.kemPubKey
	}
	if len(recipientPubKey) != mlkem768.PublicKeySize {
		return models.EncryptedPayload{}, fmt.Errorf(
			"recipient public key is %d bytes, expected %d",
			len(recipientPubKey),
			mlkem768.PublicKeySize,
		)
	}

	var pubKey mlkem768.PublicKey
	if err := pubKey.Unpack(recipientPubKey); err != nil {
		return models.EncryptedPayload{}, fmt.Errorf("failed to parse recipient public key [%w]", err)
	}

	// 1. Encapsulate a fresh shared secret
	ctKem := make([]byte, mlkem768.CiphertextSize)
	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	pubKey.EncapsulateTo(ctKem, sharedSecret, nil)
	defer Wipe(sharedSecret)

	// 2. Derive the content key
	aad := payloadAAD()
	contentKey, err := deriveContentKey(sharedSecret, aad, ctKem)
	if err != nil {
		return models.EncryptedPayload{}, err
	}
	defer Wipe(contentKey)

	// 3. AES-256-GCM
	gcm, err := newGCM(contentKey)
	if err != nil {
		return models.EncryptedPayload{}, err
	}
	nonce := make([]byte, aesNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.EncryptedPayload{}, fmt.Errorf("failed to generate nonce [%w]", err)
	}
	sealed := gcm.Seal(nil, nonce, plainText, aad)
	tagStart := len(sealed) - aesTagSize

	log.WithFields(p.GetLogTagsForContext(ctx)).
		WithField("size", len(plainText)).
		Debug("Encrypted payload")

	return models.EncryptedPayload{
		CipherText:      sealed[:tagStart],
		EncapsulatedKey: ctKem,
		IV:              nonce,
		AuthTag:         sealed[tagStart:],
		Algorithm:       models.AlgorithmEncapsulation,
	}, nil
}

/*
EncapsulateDecrypt decrypt a payload encrypted for the vault

	@param ctx context.Context - execution context
	@param payload models.EncryptedPayload - the encrypted payload
	@returns the plain text
*/
func (p *pqProvider) EncapsulateDecrypt(
	ctx context.Context, payload models.EncryptedPayload,
) ([]byte, error) {
	if payload.Algorithm != models.AlgorithmEncapsulation {
		return nil, fmt.Errorf(
			"%w: unsupported payload algorithm '%s'", models.ErrDecryptionFailed, payload.Algorithm,
		)
	}
	if len(payload.EncapsulatedKey) != mlkem768.CiphertextSize {
		return nil, fmt.Errorf(
			"%w: encapsulated key is %d bytes, expected %d",
			models.ErrDecryptionFailed,
			len(payload.EncapsulatedKey),
			mlkem768.CiphertextSize,
		)
	}
	if len(payload.IV) != aesNonceSize || len(payload.AuthTag) != aesTagSize {
		return nil, fmt.Errorf("%w: malformed nonce or authentication tag", models.ErrDecryptionFailed)
	}

	// 1. Decapsulate
	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	p.kemKey.DecapsulateTo(sharedSecret, payload.EncapsulatedKey)
	defer Wipe(sharedSecret)

	// 2. Derive the content key
	aad := payloadAAD()
	contentKey, err := deriveContentKey(sharedSecret, aad, payload.EncapsulatedKey)
	if err != nil {
		return nil, err
	}
	defer Wipe(contentKey)

	// 3. AES-256-GCM
	gcm, err := newGCM(contentKey)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(payload.CipherText)+aesTagSize)
	sealed = append(sealed, payload.CipherText...)
	sealed = append(sealed, payload.AuthTag...)
	plainText, err := gcm.Open(nil, payload.IV, sealed, aad)
	if err != nil {
		log.WithError(err).WithFields(p.GetLogTagsForContext(ctx)).Debug("Payload failed authentication")
		return nil, fmt.Errorf("%w: authentication tag mismatch", models.ErrDecryptionFailed)
	}
	if plainText == nil {
		plainText = []byte{}
	}

	return plainText, nil
}

// Wipe zero a buffer holding secret material
func Wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
