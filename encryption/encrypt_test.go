package encryption_test

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func newTestProvider(t *testing.T) encryption.Provider {
	identity, err := encryption.GenerateIdentity(rand.Reader)
	assert.Nil(t, err)
	uut, err := encryption.NewProviderFromIdentity(context.Background(), identity)
	assert.Nil(t, err)
	return uut
}

func TestProviderEncapsulationRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestProvider(t)

	for _, size := range []int{0, 1, 31, 1024, 65537, 10 * 1024 * 1024} {
		plainText := make([]byte, size)
		_, err := rand.Read(plainText)
		assert.Nil(err)

		payload, err := uut.EncapsulateEncrypt(utCtx, plainText, nil)
		assert.Nil(err, "size %d", size)
		assert.Equal(models.AlgorithmEncapsulation, payload.Algorithm)
		assert.Len(payload.CipherText, size)
		assert.Len(payload.AuthTag, 16)
		assert.Len(payload.IV, 12)

		decrypted, err := uut.EncapsulateDecrypt(utCtx, payload)
		assert.Nil(err, "size %d", size)
		assert.Equal(plainText, decrypted, "size %d", size)
	}
}

func TestProviderEncapsulationTamper(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestProvider(t)

	payload, err := uut.EncapsulateEncrypt(utCtx, []byte("hello custody"), nil)
	assert.Nil(err)

	// Case 0: flipped cipher text
	{
		tampered := payload
		tampered.CipherText = append([]byte{}, payload.CipherText...)
		tampered.CipherText[0] ^= 0x01
		_, err := uut.EncapsulateDecrypt(utCtx, tampered)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
		assert.True(errors.Is(err, models.ErrCryptoFailure))
	}

	// Case 1: flipped authentication tag
	{
		tampered := payload
		tampered.AuthTag = append([]byte{}, payload.AuthTag...)
		tampered.AuthTag[3] ^= 0x80
		_, err := uut.EncapsulateDecrypt(utCtx, tampered)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
	}

	// Case 2: unknown algorithm label
	{
		tampered := payload
		tampered.Algorithm = "rsa-oaep"
		_, err := uut.EncapsulateDecrypt(utCtx, tampered)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
	}

	// Case 3: payload sealed for another vault
	{
		other := newTestProvider(t)
		foreign, err := uut.EncapsulateEncrypt(utCtx, []byte("hello"), other.EncapsulationPublicKey())
		assert.Nil(err)
		_, err = uut.EncapsulateDecrypt(utCtx, foreign)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
		decrypted, err := other.EncapsulateDecrypt(utCtx, foreign)
		assert.Nil(err)
		assert.Equal([]byte("hello"), decrypted)
	}

	// Case 4: malformed recipient key
	{
		_, err := uut.EncapsulateEncrypt(utCtx, []byte("hello"), []byte{1, 2, 3})
		assert.NotNil(err)
	}
}

func TestProviderSignature(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestProvider(t)
	other := newTestProvider(t)

	message := []byte(encryption.HashHex([]byte("A")))
	sig, err := uut.Sign(utCtx, message)
	assert.Nil(err)
	assert.Equal(models.AlgorithmSignature, sig.Algorithm)
	assert.Equal(uut.SigningPublicKey(), sig.PublicKey)

	// Case 0: valid, from either provider since the key travels with the signature
	assert.Nil(uut.Verify(utCtx, message, sig))
	assert.Nil(other.Verify(utCtx, message, sig))

	// Case 1: different message
	{
		err := uut.Verify(utCtx, []byte("B"), sig)
		assert.True(errors.Is(err, models.ErrSignatureFailed))
	}

	// Case 2: signer key swapped
	{
		swapped := sig
		swapped.PublicKey = other.SigningPublicKey()
		err := uut.Verify(utCtx, message, swapped)
		assert.True(errors.Is(err, models.ErrSignatureFailed))
	}

	// Case 3: garbage key
	{
		swapped := sig
		swapped.PublicKey = []byte("not a key")
		err := uut.Verify(utCtx, message, swapped)
		assert.True(errors.Is(err, models.ErrSignatureFailed))
	}
}

func TestContentHash(t *testing.T) {
	assert := assert.New(t)

	uut := newTestProvider(t)

	// SHA3-256("")
	assert.Equal(
		"a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", uut.Hash([]byte{}),
	)
	assert.Len(uut.Hash([]byte("A")), 64)
	assert.Equal(uut.Hash([]byte("A")), encryption.HashHex([]byte("A")))
	assert.NotEqual(uut.Hash([]byte("A")), uut.Hash([]byte("B")))
}

func TestWipe(t *testing.T) {
	assert := assert.New(t)

	secret := []byte("ephemeral key material")
	view := secret[4:10]
	encryption.Wipe(secret)
	assert.Equal(make([]byte, len(secret)), secret)
	assert.Equal(make([]byte, len(view)), view)

	// Empty and nil buffers are fine
	encryption.Wipe(nil)
	encryption.Wipe([]byte{})
}

func TestIdentityFiles(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	kemFile := fmt.Sprintf("/tmp/ut_kem_%s.pem", ulid.Make().String())
	sigFile := fmt.Sprintf("/tmp/ut_sig_%s.pem", ulid.Make().String())
	defer func() {
		_ = os.Remove(kemFile)
		_ = os.Remove(sigFile)
	}()

	// Case 0: no files
	{
		_, err := encryption.NewProvider(utCtx, encryption.ProviderParams{})
		assert.NotNil(err)
	}

	identity, err := encryption.GenerateIdentity(rand.Reader)
	assert.Nil(err)
	assert.Nil(identity.WriteFiles(kemFile, sigFile))

	// Case 1: swapped files are rejected
	{
		_, err := encryption.LoadIdentity(sigFile, kemFile)
		assert.NotNil(err)
	}

	// Case 2: reload
	reloaded, err := encryption.NewProvider(utCtx, encryption.ProviderParams{
		EncapsulationKeyFile: kemFile, SigningKeyFile: sigFile,
	})
	assert.Nil(err)
	original, err := encryption.NewProviderFromIdentity(utCtx, identity)
	assert.Nil(err)
	assert.Equal(original.EncapsulationPublicKey(), reloaded.EncapsulationPublicKey())
	assert.Equal(original.SigningPublicKey(), reloaded.SigningPublicKey())

	payload, err := original.EncapsulateEncrypt(utCtx, []byte("persisted"), nil)
	assert.Nil(err)
	decrypted, err := reloaded.EncapsulateDecrypt(utCtx, payload)
	assert.Nil(err)
	assert.Equal([]byte("persisted"), decrypted)

	// Case 3: public key PEM
	{
		pemText := encryption.EncodeSigningPublicKeyPEM(original.SigningPublicKey())
		parsed, err := encryption.ParseSigningPublicKeyPEM(pemText)
		assert.Nil(err)
		assert.Equal(original.SigningPublicKey(), parsed)
		_, err = encryption.ParseSigningPublicKeyPEM("garbage")
		assert.NotNil(err)
	}
}
