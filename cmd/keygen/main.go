// Package main - vault identity key generation binary
package main

import (
	"crypto/rand"
	"os"

	"github.com/alwitt/custody/encryption"
	"github.com/apex/log"
	"github.com/spf13/pflag"
)

func main() {
	kemFile := pflag.String("encapsulation-key", "vault-kem.pem", "output ML-KEM-768 private key PEM")
	sigFile := pflag.String("signing-key", "vault-sig.pem", "output ML-DSA-65 private key PEM")
	pubFile := pflag.String(
		"signing-public-key",
		"vault-sig.pub.pem",
		"output ML-DSA-65 public key PEM, for trusting this identity after rotation",
	)
	pflag.Parse()

	for _, oneFile := range []string{*kemFile, *sigFile, *pubFile} {
		if _, err := os.Stat(oneFile); err == nil {
			log.WithField("file", oneFile).Fatal("Refusing to overwrite existing key file")
		}
	}

	identity, err := encryption.GenerateIdentity(rand.Reader)
	if err != nil {
		log.WithError(err).Fatal("Failed to generate vault identity")
	}
	if err := identity.WriteFiles(*kemFile, *sigFile); err != nil {
		log.WithError(err).Fatal("Failed to write vault identity")
	}

	sigPub, err := identity.SigningPublicKey()
	if err != nil {
		log.WithError(err).Fatal("Failed to derive signing public key")
	}
	if err := os.WriteFile(
		*pubFile, []byte(encryption.EncodeSigningPublicKeyPEM(sigPub)), 0o644,
	); err != nil {
		log.WithError(err).Fatal("Failed to write signing public key")
	}

	log.WithFields(log.Fields{
		"encapsulation-key":  *kemFile,
		"signing-key":        *sigFile,
		"signing-public-key": *pubFile,
	}).Info("Generated vault identity")
}
