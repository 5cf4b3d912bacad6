package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Active reports whether plugin requests may authenticate with the license.
// Any value other than ACTIVE is treated as not active.
func (s Status) Active() bool {
	return s == StatusActive
}

type License struct {
	ID          string    `json:"id"`
	LicenseKey  string    `json:"licenseKey"`
	HasAPIToken bool      `json:"hasApiToken"`
	Status      Status    `json:"status"`
	ClientName  string    `json:"clientName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Input struct {
	ClientName string `json:"clientName"`
}

type StatusInput struct {
	Status Status `json:"status"`
}

var ErrNotFound = errors.New("license not found")

const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateKey returns a license key of the form RP-XXXX-XXXX-XXXX-XXXX.
func GenerateKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	groups := make([]string, 0, 4)
	for i := 0; i < len(raw); i += 4 {
		var b strings.Builder
		for _, v := range raw[i : i+4] {
			b.WriteByte(keyAlphabet[int(v)%len(keyAlphabet)])
		}
		groups = append(groups, b.String())
	}
	return "RP-" + strings.Join(groups, "-"), nil
}

func GenerateAPIToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// hashToken is what the store keeps instead of the bearer token itself.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
