package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

// NilIfInvalid returns nil if sql.NullTime is invalid, otherwise returns the time
func NilIfInvalid(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

// Min returns the smaller of two integers
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two integers
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CSVEscape escapes quotes and wraps in quotes if needed for CSV export
func CSVEscape(s string) string {
	// Escape quotes and wrap in quotes if needed
	if strings.ContainsAny(s, ",\n\r\"") {
		s = strings.ReplaceAll(s, "\"", "\"\"")
		return "\"" + s + "\""
	}
	return s
}

// FormatNullTime formats a sql.NullTime as RFC3339 string or empty string if invalid
func FormatNullTime(t sql.NullTime) string {
	if t.Valid {
		return t.Time.Format(time.RFC3339)
	}
	return ""
}

// Round2 rounds a baht amount to two decimal places (satang)
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// OrderNumber formats a per-store daily order number, e.g. ORD-20250820-0042
func OrderNumber(date time.Time, seq int) string {
	return fmt.Sprintf("ORD-%s-%04d", date.Format("20060102"), seq)
}

// memberCodeAlphabet excludes easily confused characters (0/O, 1/I)
const memberCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewMemberCode generates an 8-character uppercase loyalty member code
func NewMemberCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = memberCodeAlphabet[int(b)%len(memberCodeAlphabet)]
	}
	return string(buf), nil
}

// SessionKey derives the Redis key for a bearer token. The raw token never
// touches Redis, only its SHA-256 digest.
func SessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("session:%x", sum)
}
