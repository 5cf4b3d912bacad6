package twofactor

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
)

const (
	DefaultBackupCodeCount = 10
	backupCodeLength       = 10
	backupCodeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// BackupCodeSet is an ordered list of normalised single-use codes. Values are
// immutable; Remove returns a new set.
type BackupCodeSet struct {
	codes []string
}

func NewBackupCodeSet(codes []string) BackupCodeSet {
	normalised := make([]string, 0, len(codes))
	for _, code := range codes {
		if n := NormaliseBackupCode(code); n != "" {
			normalised = append(normalised, n)
		}
	}
	return BackupCodeSet{codes: normalised}
}

func (s BackupCodeSet) Len() int {
	return len(s.codes)
}

func (s BackupCodeSet) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

func (s BackupCodeSet) Contains(code string) bool {
	return s.indexOf(code) >= 0
}

// Remove drops code from the set. ok is false when the code was not present.
func (s BackupCodeSet) Remove(code string) (BackupCodeSet, bool) {
	idx := s.indexOf(code)
	if idx < 0 {
		return s, false
	}

	next := make([]string, 0, len(s.codes)-1)
	next = append(next, s.codes[:idx]...)
	next = append(next, s.codes[idx+1:]...)
	return BackupCodeSet{codes: next}, true
}

func (s BackupCodeSet) indexOf(code string) int {
	candidate := []byte(NormaliseBackupCode(code))
	if len(candidate) == 0 {
		return -1
	}

	found := -1
	for i, stored := range s.codes {
		if subtle.ConstantTimeCompare([]byte(stored), candidate) == 1 && found < 0 {
			found = i
		}
	}
	return found
}

// NormaliseBackupCode upper-cases a submitted code and strips separators.
func NormaliseBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// FormatBackupCode renders a stored code the way it is shown to users.
func FormatBackupCode(code string) string {
	if len(code) != backupCodeLength {
		return code
	}
	return code[:backupCodeLength/2] + "-" + code[backupCodeLength/2:]
}

func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := randomCode(backupCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate backup code: %w", err)
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
