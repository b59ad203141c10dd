package domain

import (
	"github.com/jaevor/go-nanoid"
)

const (
	roomIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	RoomIDLen      = 10
)

var genRoomID = mustRoomIDGenerator()

func mustRoomIDGenerator() func() string {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, RoomIDLen)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewRoomID returns a short shareable room code.
func NewRoomID() RoomID {
	return RoomID(genRoomID())
}

// ParseRoomID rejects ids that could never have been issued.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" || len(raw) > MaxUserIDLen {
		return "", ErrInvalidRoomID
	}
	for _, c := range raw {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') && c != '-' && c != '_' {
			return "", ErrInvalidRoomID
		}
	}
	return RoomID(raw), nil
}
