package model

import (
	"errors"
	"unicode"
)

// MinSessionKeyLength is the shortest session key accepted anywhere in the relay.
const MinSessionKeyLength = 3

// MaxSessionKeyLength bounds the Redis key and channel names built from a session key.
const MaxSessionKeyLength = 256

var (
	ErrSessionKeyTooShort = errors.New("session key too short")
	ErrSessionKeyTooLong  = errors.New("session key too long")
	ErrSessionKeyShape    = errors.New("session key must contain an alphanumeric character")
)

// SessionKey identifies one conversation stream. It is chosen by the client,
// should be long and random, and is not an authorization token.
type SessionKey string

// Validate performs the minimal shape check: at least MinSessionKeyLength
// bytes and at least one letter or digit, so keys made only of punctuation
// or whitespace are rejected.
func (k SessionKey) Validate() error {
	if len(k) < MinSessionKeyLength {
		return ErrSessionKeyTooShort
	}
	if len(k) > MaxSessionKeyLength {
		return ErrSessionKeyTooLong
	}
	for _, r := range string(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return nil
		}
	}
	return ErrSessionKeyShape
}

func (k SessionKey) String() string {
	return string(k)
}
