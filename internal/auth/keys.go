package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Secret format: a recognizable prefix followed by base64url over 32 random
// bytes. The displayable prefix stored next to the hash lets operators match
// a leaked secret to its row without storing the secret.
const (
	secretPrefix      = "mgk_"
	secretRandomBytes = 32
	saltBytes         = 16
	displayPrefixLen  = 12
)

// scrypt parameters. Interactive-strength: key verification happens on every
// authenticated request.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// GeneratedKey is the one-time creation result. The Secret field is shown to
// the caller exactly once and never persisted.
type GeneratedKey struct {
	Secret string
	Prefix string
	Salt   string
	Hash   string
}

// GenerateKey mints a new API key secret and its storable hash material.
func GenerateKey() (*GeneratedKey, error) {
	random := make([]byte, secretRandomBytes)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("reading random bytes for api key: %w", err)
	}
	secret := secretPrefix + base64.RawURLEncoding.EncodeToString(random)

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("reading random bytes for salt: %w", err)
	}

	hash, err := hashSecret(secret, salt)
	if err != nil {
		return nil, err
	}

	return &GeneratedKey{
		Secret: secret,
		Prefix: secret[:displayPrefixLen],
		Salt:   hex.EncodeToString(salt),
		Hash:   hex.EncodeToString(hash),
	}, nil
}

func hashSecret(secret string, salt []byte) ([]byte, error) {
	hash, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("hashing api key: %w", err)
	}
	return hash, nil
}

// VerifySecret reports whether the presented secret matches the stored
// hex-encoded salt and hash. The comparison is constant time; malformed
// stored material simply fails to match.
func VerifySecret(secret, saltHex, hashHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	stored, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	derived, err := hashSecret(secret, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, stored) == 1
}
