package twofactor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	codeDigits        = otp.DigitsSix
	codePeriodSeconds = 30
	codeSkewWindows   = 1
	qrSizePixels      = 200

	maxConsumeAttempts = 5
)

var ErrBackupCodesContended = errors.New("backup codes updated concurrently")

// BackupCodeStore persists the encrypted backup-code blob together with a
// version used for compare-and-swap updates.
type BackupCodeStore interface {
	GetBackupCodes(ctx context.Context, userID string) (blob string, version int64, err error)
	SwapBackupCodes(ctx context.Context, userID string, expectedVersion int64, blob string) (bool, error)
}

type Enrollment struct {
	Secret    string `json:"secret"`
	URL       string `json:"otpauthUrl"`
	QRCodeURI string `json:"qrCode"`
}

type Engine struct {
	issuer string
	cipher *Cipher
	now    func() time.Time
}

func NewEngine(issuer string, cipher *Cipher) *Engine {
	if strings.TrimSpace(issuer) == "" {
		issuer = "RoadPress Admin"
	}
	return &Engine{issuer: issuer, cipher: cipher, now: time.Now}
}

// WithClock replaces the time source used for TOTP validation.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    codePeriodSeconds,
		Skew:      codeSkewWindows,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (e *Engine) GenerateSecret(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Period:      codePeriodSeconds,
		Digits:      codeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}

	img, err := key.Image(qrSizePixels, qrSizePixels)
	if err != nil {
		return Enrollment{}, fmt.Errorf("render totp qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Enrollment{}, fmt.Errorf("encode totp qr code: %w", err)
	}

	return Enrollment{
		Secret:    key.Secret(),
		URL:       key.URL(),
		QRCodeURI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// VerifyCode checks a 6-digit code against the current window, tolerating
// one window of drift either side.
func (e *Engine) VerifyCode(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != codeDigits.Length() {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}

	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), e.validateOpts())
	return err == nil && ok
}

// CodeAt generates the code valid at t. Used by enrollment tooling and tests.
func (e *Engine) CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), e.validateOpts())
}

func (e *Engine) Encrypt(plaintext string) (string, error) {
	return e.cipher.Encrypt(plaintext)
}

func (e *Engine) Decrypt(ciphertext string) (string, error) {
	return e.cipher.Decrypt(ciphertext)
}

func (e *Engine) SealBackupCodes(set BackupCodeSet) (string, error) {
	payload, err := json.Marshal(set.Codes())
	if err != nil {
		return "", fmt.Errorf("encode backup codes: %w", err)
	}
	return e.cipher.Encrypt(string(payload))
}

func (e *Engine) OpenBackupCodes(blob string) (BackupCodeSet, error) {
	if strings.TrimSpace(blob) == "" {
		return BackupCodeSet{}, nil
	}

	plaintext, err := e.cipher.Decrypt(blob)
	if err != nil {
		return BackupCodeSet{}, err
	}

	var codes []string
	if err := json.Unmarshal([]byte(plaintext), &codes); err != nil {
		return BackupCodeSet{}, fmt.Errorf("%w: decode backup codes: %v", ErrDecrypt, err)
	}
	return NewBackupCodeSet(codes), nil
}

// ConsumeBackupCode removes code from the user's stored set. The read,
// removal and write are tied together by a version compare-and-swap: when
// another request wrote first, the set is re-read, so a code can only be
// spent once.
func (e *Engine) ConsumeBackupCode(ctx context.Context, store BackupCodeStore, userID, code string) (bool, error) {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		blob, version, err := store.GetBackupCodes(ctx, userID)
		if err != nil {
			return false, err
		}

		set, err := e.OpenBackupCodes(blob)
		if err != nil {
			return false, err
		}

		next, ok := set.Remove(code)
		if !ok {
			return false, nil
		}

		sealed, err := e.SealBackupCodes(next)
		if err != nil {
			return false, err
		}

		swapped, err := store.SwapBackupCodes(ctx, userID, version, sealed)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}

	return false, ErrBackupCodesContended
}
