package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	roomCodePrefix = "ROOM"
	deviceIDLength = 32
)

// NewRoomCode returns a share code such as ROOM3FA91C: the fixed prefix
// followed by six upper-case hex characters taken from a random UUID.
func NewRoomCode() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return roomCodePrefix + strings.ToUpper(hex[:6])
}

// NewPIN returns a uniformly random four digit PIN, zero padded.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// DeviceFingerprint derives a fallback device identifier for clients that
// did not send one.  It is not stable across calls and is not a security
// boundary.
func DeviceFingerprint(userAgent, ip string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userAgent, ip, now.UnixNano())))
	return base64.StdEncoding.EncodeToString(sum[:])[:deviceIDLength]
}

// AnonymousNickname is used for guests that log in without a nickname.
func AnonymousNickname() string {
	return "Anonimo" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
