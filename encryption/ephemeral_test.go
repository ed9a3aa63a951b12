package encryption_test

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestEphemeralCipherRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut, err := encryption.NewEphemeralCipher()
	assert.Nil(err)

	// Case 0: empty snapshot
	{
		_, err := uut.Seal(utCtx, []byte{})
		assert.NotNil(err)
	}

	for _, size := range []int{1, 1024, 10 * 1024 * 1024} {
		plainText := make([]byte, size)
		_, err := rand.Read(plainText)
		assert.Nil(err)

		sealed, err := uut.Seal(utCtx, plainText)
		assert.Nil(err)
		assert.Equal(models.AlgorithmEphemeral, sealed.Algorithm)
		assert.Len(sealed.Key, 32)
		assert.Len(sealed.Nonce, 24)
		assert.Len(sealed.AuthTag, 16)
		assert.Len(sealed.CipherText, size)

		opened, err := uut.Open(utCtx, sealed)
		assert.Nil(err)
		assert.Equal(plainText, opened)
	}
}

func TestEphemeralCipherTamper(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut, err := encryption.NewEphemeralCipher()
	assert.Nil(err)

	sealed, err := uut.Seal(utCtx, []byte("burn after reading"))
	assert.Nil(err)
	other, err := uut.Seal(utCtx, []byte("burn after reading"))
	assert.Nil(err)
	assert.NotEqual(sealed.Key, other.Key)
	assert.NotEqual(sealed.Nonce, other.Nonce)

	// Case 0: wrong key
	{
		tampered := sealed
		tampered.Key = other.Key
		_, err := uut.Open(utCtx, tampered)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
	}

	// Case 1: flipped tag
	{
		tampered := sealed
		tampered.AuthTag = append([]byte{}, sealed.AuthTag...)
		tampered.AuthTag[0] ^= 0x01
		_, err := uut.Open(utCtx, tampered)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
	}

	// Case 2: destroyed key
	{
		tampered := sealed
		tampered.Key = nil
		_, err := uut.Open(utCtx, tampered)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
	}

	// Case 3: truncated key
	{
		tampered := sealed
		tampered.Key = sealed.Key[:16]
		_, err := uut.Open(utCtx, tampered)
		assert.NotNil(err)
	}
}

func TestShareToken(t *testing.T) {
	assert := assert.New(t)

	utCtx := context.Background()

	uut, err := encryption.NewEphemeralCipher()
	assert.Nil(err)

	seen := map[string]bool{}
	for itr := 0; itr < 256; itr++ {
		token, err := uut.NewShareToken(utCtx)
		assert.Nil(err)
		// 32 bytes, unpadded base64url
		assert.Len(token, 43)
		assert.NotContains(token, "+")
		assert.NotContains(token, "/")
		assert.False(seen[token])
		seen[token] = true
	}
}

func TestPasswordHasher(t *testing.T) {
	assert := assert.New(t)

	uut, err := encryption.NewPasswordHasher(encryption.DefaultPasswordParams(), rand.Reader)
	assert.Nil(err)

	encoded, err := uut.Hash("correct horse")
	assert.Nil(err)
	assert.NotContains(encoded, "correct horse")

	again, err := uut.Hash("correct horse")
	assert.Nil(err)
	assert.NotEqual(encoded, again, "salts must differ")

	assert.True(uut.Verify(encoded, "correct horse"))
	assert.True(uut.Verify(again, "correct horse"))
	assert.False(uut.Verify(encoded, "correct horse "))
	assert.False(uut.Verify(encoded, ""))
	assert.False(uut.Verify("", ""))
	assert.False(uut.Verify("", "correct horse"))
	assert.False(uut.Verify("$argon2id$garbage", "correct horse"))
}

func TestPasswordHasherTiming(t *testing.T) {
	assert := assert.New(t)

	uut, err := encryption.NewPasswordHasher(encryption.DefaultPasswordParams(), rand.Reader)
	assert.Nil(err)

	encoded, err := uut.Hash("s3cret")
	assert.Nil(err)

	measure := func(stored, supplied string) time.Duration {
		const rounds = 8
		start := time.Now()
		for itr := 0; itr < rounds; itr++ {
			uut.Verify(stored, supplied)
		}
		return time.Since(start) / rounds
	}

	// Warm up
	measure(encoded, "s3cret")

	correct := measure(encoded, "s3cret")
	wrong := measure(encoded, "wrong")
	empty := measure(encoded, "")
	noPassword := measure("", "s3cret")

	within := func(a, b time.Duration) bool {
		return a < 3*b && b < 3*a
	}
	assert.True(within(correct, wrong), "correct %s wrong %s", correct, wrong)
	assert.True(within(correct, empty), "correct %s empty %s", correct, empty)
	assert.True(within(correct, noPassword), "correct %s no password %s", correct, noPassword)
}
