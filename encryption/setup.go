package encryption

import (
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

const (
	// PEMTypeEncapsulationKey PEM block type of the vault KEM private key
	PEMTypeEncapsulationKey = "ML-KEM-768 PRIVATE KEY"
	// PEMTypeSigningKey PEM block type of the vault signing private key
	PEMTypeSigningKey = "ML-DSA-65 PRIVATE KEY"
	// PEMTypeSigningPublicKey PEM block type of a signing public key
	PEMTypeSigningPublicKey = "ML-DSA-65 PUBLIC KEY"

	// kemPublicKeyOffset offset of the public key within an ML-KEM-768 private key
	kemPublicKeyOffset = 1152
)

// Identity the vault's long-term key pairs
type Identity struct {
	// EncapsulationKey protects the document payloads
	EncapsulationKey *mlkem768.PrivateKey
	// SigningKey signs the version chain hashes
	SigningKey *mldsa65.PrivateKey
}

/*
GenerateIdentity generate a fresh vault identity

	@param rng io.Reader - randomness source
	@returns the identity
*/
func GenerateIdentity(rng io.Reader) (Identity, error) {
	_, kemKey, err := mlkem768.GenerateKeyPair(rng)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate ML-KEM-768 key pair [%w]", err)
	}
	_, sigKey, err := mldsa65.GenerateKey(rng)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate ML-DSA-65 key pair [%w]", err)
	}
	return Identity{EncapsulationKey: kemKey, SigningKey: sigKey}, nil
}

// EncapsulationPublicKey the packed KEM public key
func (i Identity) EncapsulationPublicKey() ([]byte, error) {
	packed, err := i.EncapsulationKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to pack ML-KEM-768 private key [%w]", err)
	}
	defer Wipe(packed)
	if len(packed) != mlkem768.PrivateKeySize {
		return nil, fmt.Errorf("packed ML-KEM-768 private key is %d bytes", len(packed))
	}
	pubKey := make([]byte, mlkem768.PublicKeySize)
	copy(pubKey, packed[kemPublicKeyOffset:kemPublicKeyOffset+mlkem768.PublicKeySize])
	return pubKey, nil
}

// SigningPublicKey the packed signing public key
func (i Identity) SigningPublicKey() ([]byte, error) {
	pubKey, ok := i.SigningKey.Public().(*mldsa65.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected ML-DSA-65 public key type")
	}
	packed, err := pubKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to pack ML-DSA-65 public key [%w]", err)
	}
	return packed, nil
}

/*
WriteFiles persist the identity as two PEM files readable only by the owner

	@param encapsulationKeyFile string - output path of the KEM private key
	@param signingKeyFile string - output path of the signing private key
*/
func (i Identity) WriteFiles(encapsulationKeyFile, signingKeyFile string) error {
	kemBytes, err := i.EncapsulationKey.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to pack ML-KEM-768 private key [%w]", err)
	}
	defer Wipe(kemBytes)
	if err := writePEMFile(encapsulationKeyFile, PEMTypeEncapsulationKey, kemBytes); err != nil {
		return err
	}

	sigBytes, err := i.SigningKey.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to pack ML-DSA-65 private key [%w]", err)
	}
	defer Wipe(sigBytes)
	return writePEMFile(signingKeyFile, PEMTypeSigningKey, sigBytes)
}

/*
LoadIdentity load the vault identity from PEM files

	@param encapsulationKeyFile string - path of the KEM private key
	@param signingKeyFile string - path of the signing private key
	@returns the identity
*/
func LoadIdentity(encapsulationKeyFile, signingKeyFile string) (Identity, error) {
	kemBytes, err := readPEMFile(encapsulationKeyFile, PEMTypeEncapsulationKey)
	if err != nil {
		return Identity{}, err
	}
	defer Wipe(kemBytes)
	kemKey := &mlkem768.PrivateKey{}
	if err := kemKey.Unpack(kemBytes); err != nil {
		return Identity{}, fmt.Errorf(
			"failed to parse ML-KEM-768 private key in %s [%w]", encapsulationKeyFile, err,
		)
	}

	sigBytes, err := readPEMFile(signingKeyFile, PEMTypeSigningKey)
	if err != nil {
		return Identity{}, err
	}
	defer Wipe(sigBytes)
	sigKey := &mldsa65.PrivateKey{}
	if err := sigKey.UnmarshalBinary(sigBytes); err != nil {
		return Identity{}, fmt.Errorf(
			"failed to parse ML-DSA-65 private key in %s [%w]", signingKeyFile, err,
		)
	}

	return Identity{EncapsulationKey: kemKey, SigningKey: sigKey}, nil
}

/*
EncodeSigningPublicKeyPEM encode a signing public key as PEM

	@param pubKey []byte - packed signing public key
	@returns the PEM text
*/
func EncodeSigningPublicKeyPEM(pubKey []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypeSigningPublicKey, Bytes: pubKey}))
}

/*
ParseSigningPublicKeyPEM parse a PEM encoded signing public key

	@param pemText string - the PEM text
	@returns packed signing public key
*/
func ParseSigningPublicKeyPEM(pemText string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil || block.Type != PEMTypeSigningPublicKey {
		return nil, fmt.Errorf("not a '%s' PEM block", PEMTypeSigningPublicKey)
	}
	var pubKey mldsa65.PublicKey
	if err := pubKey.UnmarshalBinary(block.Bytes); err != nil {
		return nil, fmt.Errorf("failed to parse ML-DSA-65 public key [%w]", err)
	}
	return block.Bytes, nil
}

func writePEMFile(path, blockType string, content []byte) error {
	encoded := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: content})
	defer Wipe(encoded)
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("failed to write %s [%w]", path, err)
	}
	return nil
}

func readPEMFile(path, blockType string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s read error [%w]", path, err)
	}
	defer Wipe(content)
	block, _ := pem.Decode(content)
	if block == nil {
		return nil, fmt.Errorf("%s holds no PEM block", path)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("%s holds a '%s' PEM block, expected '%s'", path, block.Type, blockType)
	}
	return block.Bytes, nil
}
