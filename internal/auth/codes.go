package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// GenerateEmergencyCodes generates N random single-use codes.
// Format: 8 characters, alphanumeric (excluding ambiguous chars like 0/O, 1/I/l)
// so they survive being read over the phone or transcribed by hand.
func GenerateEmergencyCodes(count int) ([]string, error) {
	// Charset: A-Z 2-9 (excluding 0/O/1/I/L which are ambiguous)
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		for j := 0; j < 8; j++ {
			b := make([]byte, 1)
			if _, err := rand.Read(b); err != nil {
				return nil, fmt.Errorf("failed to generate random byte: %w", err)
			}
			code[j] = charset[b[0]%byte(len(charset))]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// DeviceFingerprint creates a hash of IP + User-Agent for device identification
func DeviceFingerprint(ipAddress, userAgent string) string {
	data := []byte(fmt.Sprintf("%s:%s", ipAddress, userAgent))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}
