package debuglog

import (
	"encoding/json"
	"errors"
	"time"
)

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

type Entry struct {
	ID        string          `json:"id"`
	LicenseID string          `json:"licenseId"`
	Level     Level           `json:"level"`
	Message   string          `json:"message"`
	Context   json.RawMessage `json:"context"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Input struct {
	Level   Level           `json:"level"`
	Message string          `json:"message"`
	Context json.RawMessage `json:"context,omitempty"`
}

type Filter struct {
	LicenseID string
	Level     Level
	Limit     int
	Offset    int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxMessageBytes = 4000
	maxContextBytes = 64 << 10
)

var ErrNotFound = errors.New("debug log not found")
