package encryption

import (
	"context"
	"encoding/base64"
	"fmt"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/custody/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// ShareTokenBytes share link token entropy in bytes
const ShareTokenBytes = 32

// SealedSnapshot a document snapshot sealed under a one-time key
type SealedSnapshot struct {
	// Key the one-time symmetric key
	Key []byte
	// Nonce the AEAD nonce
	Nonce []byte
	// CipherText the sealed snapshot without the authentication tag
	CipherText []byte
	// AuthTag the AEAD authentication tag
	AuthTag []byte
	// Algorithm AEAD algorithm label
	Algorithm string
}

/*
EphemeralCipher one-time key AEAD used for share link snapshots, plus the randomness
source for share link tokens.
*/
type EphemeralCipher interface {
	/*
		Seal encrypt a snapshot under a freshly generated key and nonce

			@param ctx context.Context - execution context
			@param plainText []byte - the snapshot
			@returns the sealed snapshot, including its key
	*/
	Seal(ctx context.Context, plainText []byte) (SealedSnapshot, error)

	/*
		Open decrypt a sealed snapshot

			@param ctx context.Context - execution context
			@param sealed SealedSnapshot - the sealed snapshot
			@returns the snapshot
	*/
	Open(ctx context.Context, sealed SealedSnapshot) ([]byte, error)

	/*
		NewShareToken generate an unguessable URL safe share link token

			@param ctx context.Context - execution context
			@returns the token
	*/
	NewShareToken(ctx context.Context) (string, error)
}

// ephemeralCipher implements EphemeralCipher with libsodium XChaCha20-Poly1305
type ephemeralCipher struct {
	goutils.Component
	crypto cgoCrypto.Engine
}

/*
NewEphemeralCipher define new share link snapshot cipher

	@returns cipher instance
*/
func NewEphemeralCipher() (EphemeralCipher, error) {
	engine, err := cgoCrypto.NewEngine(log.Fields{
		"package": "cgoutils", "module": "crypto", "component": "crypto-engine",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare core cryptography [%w]", err)
	}

	logTags := log.Fields{
		"package": "custody", "module": "encryption", "component": "ephemeral-cipher",
	}

	return &ephemeralCipher{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		crypto: engine,
	}, nil
}

// setupAEAD prepare AEAD
func (e *ephemeralCipher) setupAEAD(
	ctx context.Context, key []byte, nonce []byte,
) (cgoCrypto.AEAD, error) {
	aead, err := e.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	// Set the AEAD encryption key
	keyBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedKeyLen())
	if err != nil {
		return nil, fmt.Errorf("failed to init AEAD key buffer [%w]", err)
	}
	if err := fillSecureBuffer(keyBuffer, key, "key"); err != nil {
		return nil, err
	}
	if err := aead.SetKey(keyBuffer); err != nil {
		return nil, fmt.Errorf("failed to install AEAD key [%w]", err)
	}

	// Set the AEAD nonce
	if len(nonce) > 0 {
		// Use existing nonce
		nonceBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce buffer [%w]", err)
		}
		if err := fillSecureBuffer(nonceBuffer, nonce, "nonce"); err != nil {
			return nil, err
		}
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
	} else {
		// Generate random nonce
		nonceBuffer, err := e.crypto.GetRandomBuf(ctx, aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce [%w]", err)
		}
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
	}

	return aead, nil
}

// fillSecureBuffer copy a Go buffer into secure C memory of exactly the same length
func fillSecureBuffer(
	buffer interface{ GetSlice() ([]byte, error) }, content []byte, name string,
) error {
	bufferCore, err := buffer.GetSlice()
	if err != nil {
		return fmt.Errorf("failed to access AEAD %s buffer core [%w]", name, err)
	}
	if len(content) != len(bufferCore) {
		return fmt.Errorf(
			"%w: AEAD %s is %d bytes, expected %d",
			models.ErrDecryptionFailed,
			name,
			len(content),
			len(bufferCore),
		)
	}
	copy(bufferCore, content)
	return nil
}

/*
Seal encrypt a snapshot under a freshly generated key and nonce

	@param ctx context.Context - execution context
	@param plainText []byte - the snapshot
	@returns the sealed snapshot, including its key
*/
func (e *ephemeralCipher) Seal(ctx context.Context, plainText []byte) (SealedSnapshot, error) {
	if len(plainText) == 0 {
		return SealedSnapshot{}, fmt.Errorf("can't seal an empty snapshot")
	}

	aead, err := e.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return SealedSnapshot{}, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	// One-time key
	keyLen := aead.ExpectedKeyLen()
	key := make([]byte, keyLen)
	if n, err := e.crypto.GetRNGReader().Read(key); err != nil {
		return SealedSnapshot{}, fmt.Errorf("failed to read %d bytes from RNG [%w]", keyLen, err)
	} else if n != keyLen {
		return SealedSnapshot{}, fmt.Errorf("did not get %d bytes from RNG, only %d", keyLen, n)
	}

	aead, err = e.setupAEAD(ctx, key, nil)
	if err != nil {
		Wipe(key)
		return SealedSnapshot{}, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	// Grab the nonce
	nonce, err := aead.Nonce().GetSlice()
	if err != nil {
		Wipe(key)
		return SealedSnapshot{}, fmt.Errorf("failed to get nonce [%w]", err)
	}
	nonceCopy := make([]byte, aead.ExpectedNonceLen())
	if copied := copy(nonceCopy, nonce); copied != aead.ExpectedNonceLen() {
		Wipe(key)
		return SealedSnapshot{}, fmt.Errorf(
			"failed to copy nonce %d =/= %d", copied, aead.ExpectedNonceLen(),
		)
	}

	sealed := make([]byte, aead.ExpectedCipherLen(int64(len(plainText))))
	if err := aead.Seal(ctx, 0, plainText, nil, sealed); err != nil {
		Wipe(key)
		return SealedSnapshot{}, fmt.Errorf("failed to encrypt snapshot [%w]", err)
	}
	tagStart := len(sealed) - int(aead.ExpectedCipherLen(0))

	return SealedSnapshot{
		Key:        key,
		Nonce:      nonceCopy,
		CipherText: sealed[:tagStart],
		AuthTag:    sealed[tagStart:],
		Algorithm:  models.AlgorithmEphemeral,
	}, nil
}

/*
Open decrypt a sealed snapshot

	@param ctx context.Context - execution context
	@param sealed SealedSnapshot - the sealed snapshot
	@returns the snapshot
*/
func (e *ephemeralCipher) Open(ctx context.Context, sealed SealedSnapshot) ([]byte, error) {
	if sealed.Algorithm != models.AlgorithmEphemeral {
		return nil, fmt.Errorf(
			"%w: unsupported snapshot algorithm '%s'", models.ErrDecryptionFailed, sealed.Algorithm,
		)
	}
	if len(sealed.Key) == 0 {
		return nil, fmt.Errorf("%w: snapshot key was destroyed", models.ErrDecryptionFailed)
	}

	aead, err := e.setupAEAD(ctx, sealed.Key, sealed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	if len(sealed.AuthTag) != int(aead.ExpectedCipherLen(0)) {
		return nil, fmt.Errorf("%w: malformed authentication tag", models.ErrDecryptionFailed)
	}
	combined := make([]byte, 0, len(sealed.CipherText)+len(sealed.AuthTag))
	combined = append(combined, sealed.CipherText...)
	combined = append(combined, sealed.AuthTag...)

	plainText := make([]byte, aead.ExpectedPlainTextLen(int64(len(combined))))
	if err := aead.Unseal(ctx, 0, combined, nil, plainText); err != nil {
		log.WithError(err).WithFields(e.GetLogTagsForContext(ctx)).Debug("Snapshot failed authentication")
		return nil, fmt.Errorf("%w: snapshot authentication failed", models.ErrDecryptionFailed)
	}

	return plainText, nil
}

/*
NewShareToken generate an unguessable URL safe share link token

	@param ctx context.Context - execution context
	@returns the token
*/
func (e *ephemeralCipher) NewShareToken(_ context.Context) (string, error) {
	raw := make([]byte, ShareTokenBytes)
	if n, err := e.crypto.GetRNGReader().Read(raw); err != nil {
		return "", fmt.Errorf("failed to read %d bytes from RNG [%w]", ShareTokenBytes, err)
	} else if n != ShareTokenBytes {
		return "", fmt.Errorf("did not get %d bytes from RNG, only %d", ShareTokenBytes, n)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
