package encryption

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/alwitt/custody/models"
	"github.com/apex/log"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/sha3"
)

/*
Sign sign a message with the vault signing key

	@param ctx context.Context - execution context
	@param message []byte - the message to sign
	@returns the signature
*/
func (p *pqProvider) Sign(ctx context.Context, message []byte) (models.Signature, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(p.sigKey, message, nil, false, sig); err != nil {
		log.WithError(err).WithFields(p.GetLogTagsForContext(ctx)).Error("Signing failed")
		return models.Signature{}, fmt.Errorf("%w: %s", models.ErrSignatureFailed, err.Error())
	}
	return models.Signature{
		Value:     sig,
		PublicKey: p.SigningPublicKey(),
		Algorithm: models.AlgorithmSignature,
	}, nil
}

/*
Verify verify a signature against the public key embedded in it

	@param ctx context.Context - execution context
	@param message []byte - the signed message
	@param signature models.Signature - the signature
	@returns nil if the signature is valid
*/
func (p *pqProvider) Verify(_ context.Context, message []byte, signature models.Signature) error {
	if signature.Algorithm != models.AlgorithmSignature {
		return fmt.Errorf(
			"%w: unsupported signature algorithm '%s'", models.ErrSignatureFailed, signature.Algorithm,
		)
	}

	var pubKey mldsa65.PublicKey
	if err := pubKey.UnmarshalBinary(signature.PublicKey); err != nil {
		return fmt.Errorf("%w: unparsable signer public key [%w]", models.ErrSignatureFailed, err)
	}

	if !mldsa65.Verify(&pubKey, message, nil, signature.Value) {
		return fmt.Errorf("%w: signature does not verify", models.ErrSignatureFailed)
	}
	return nil
}

/*
Hash compute the hex encoded SHA3-256 digest of data

	@param data []byte - the data to hash
	@returns the digest
*/
func (p *pqProvider) Hash(data []byte) string {
	return HashHex(data)
}

// HashHex hex encoded SHA3-256 digest
func HashHex(data []byte) string {
	digest := sha3.Sum256(data)
	return hex.EncodeToString(digest[:])
}
