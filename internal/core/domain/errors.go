package domain

import "errors"

var (
	ErrNotConnected     = errors.New("session is not connected")
	ErrSessionClosed    = errors.New("session is closed")
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrCallNotFound     = errors.New("call not found")
	ErrCallTerminal     = errors.New("call already in a terminal state")
	ErrNotOurDevice     = errors.New("responding service is not a receiver")
)
