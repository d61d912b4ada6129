// Package wire holds the conventions shared by the relay server and its
// clients.
//
// There is no framing: one Read on either side is taken as one message.
// Chat fan-out travels encoded (see package transform) and is always 7-bit
// ASCII. Everything the server says on its own behalf travels in clear and
// starts with NoticeMarker, whose first rune is outside ASCII, so a client
// can tell the two apart without decoding.
package wire

import (
	"strings"

	"github.com/codefionn/bfrelay/internal/consts"
)

const (
	// NoticeMarker prefixes every clear-text server notice.
	NoticeMarker = "» "

	// CommandMarker starts a command line such as "/users".
	CommandMarker = "/"

	// ReadBufferSize is the largest message a single read returns.
	ReadBufferSize = consts.BufferSize1KB
)

// Notice marks text as a clear-text server notice.
func Notice(text string) string {
	return NoticeMarker + text
}

// IsNotice reports whether msg is a clear-text server notice.
func IsNotice(msg string) bool {
	return strings.HasPrefix(msg, NoticeMarker)
}

// StripNotice removes the notice marker from msg, if present.
func StripNotice(msg string) string {
	return strings.TrimPrefix(msg, NoticeMarker)
}

// IsCommand reports whether a decoded payload is a command.
func IsCommand(payload string) bool {
	return strings.HasPrefix(payload, CommandMarker)
}
