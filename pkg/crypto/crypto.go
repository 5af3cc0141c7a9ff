package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// RefreshSecretBytes is the number of random bytes behind each refresh token.
const RefreshSecretBytes = 40

// LookupPrefixLen is the length of the non-secret index prefix stored next to
// each refresh token hash. It narrows the candidate set during rotation without
// making the stored secret recoverable.
const LookupPrefixLen = 12

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// HashSecret hashes an opaque secret (refresh token or OTP code) with bcrypt.
// Secrets are pre-digested with SHA-256 so values longer than bcrypt's 72-byte
// input limit remain usable.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(digestSecret(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret reports whether the candidate matches the stored bcrypt hash.
func VerifySecret(hashedSecret, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), digestSecret(candidate)) == nil
}

func digestSecret(secret string) []byte {
	digest := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(digest[:]))
}

// GenerateRefreshSecret returns a hex-encoded random secret for refresh tokens.
func GenerateRefreshSecret() (string, error) {
	buffer := make([]byte, RefreshSecretBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// LookupPrefix derives the short non-secret index prefix for a refresh secret.
// SHA-256 is one-way, and twelve hex characters reveal too little of the digest
// to help an attacker reconstruct the secret.
func LookupPrefix(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])[:LookupPrefixLen]
}

// GenerateOTPCode returns a uniformly random six-digit numeric code.
// Leading zeros are preserved.
func GenerateOTPCode() (string, error) {
	// Rejection sampling keeps the distribution uniform across 000000-999999.
	const bound = 1_000_000
	const limit = (1 << 32) / bound * bound

	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		n := binary.BigEndian.Uint32(buf[:])
		if n < limit {
			return fmt.Sprintf("%06d", n%bound), nil
		}
	}
}
