/*
Package randx provides functions for generating cryptographically secure random identifiers.

It is used to generate guest session tokens, pending message identifiers, and the
negative placeholder ids assigned to optimistic cart lines before the backend
confirms them.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// SessionTokenPrefix is the required prefix for client-generated guest session tokens.
	SessionTokenPrefix = "sess_"

	// SessionTokenRawLength is the fixed length of the Base62 part of a session token.
	SessionTokenRawLength = 16
)

// SessionToken generates an opaque guest session token using a cryptographically
// secure random number generator (crypto/rand). The token identifies an anonymous
// visitor until authentication and is persisted locally across restarts.
func SessionToken() (string, error) {
	result := make([]byte, SessionTokenRawLength)

	for i := 0; i < SessionTokenRawLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for session token: %v", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return SessionTokenPrefix + string(result), nil
}

// IsValidSessionToken checks if the given string is a valid client-generated session token.
// Validity criteria include: the SessionTokenPrefix and a Base62 remainder of the fixed length.
func IsValidSessionToken(token string) bool {
	if !strings.HasPrefix(token, SessionTokenPrefix) {
		return false
	}

	raw := token[len(SessionTokenPrefix):]

	if len(raw) != SessionTokenRawLength {
		return false
	}

	for _, char := range raw {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// PendingMessageID generates a standard UUID v4 string used as the local
// identifier of an optimistically appended chat message until the backend
// echoes the confirmed entry back.
func PendingMessageID() string {
	return uuid.New().String()
}

// TempLineID returns a negative, time-derived placeholder id for an optimistic
// cart line. Server-assigned line ids are always positive, so the sign alone
// distinguishes unconfirmed lines.
func TempLineID() int64 {
	return -time.Now().UnixNano()
}

// IsTempLineID reports whether the given cart line id is a local placeholder.
func IsTempLineID(id int64) bool {
	return id < 0
}
