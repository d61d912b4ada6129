package main

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/codefionn/bfrelay/internal/audit"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func TestWriteAuditTableAlignsWithColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	left := joined.Add(time.Minute)
	entries := []audit.Entry{
		{Session: "Client_2", Address: "127.0.0.1:5001", JoinedAt: joined},
		{Session: "Client_1", Address: "127.0.0.1:5000", JoinedAt: joined, LeftAt: &left, Reason: "peer closed connection"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeAuditTable(&buf, entries))
	assert.Contains(t, buf.String(), "\x1b[", "open session should be coloured")

	lines := strings.Split(strings.TrimRight(ansi.ReplaceAllString(buf.String(), ""), "\n"), "\n")
	require.Len(t, lines, 3)

	col := strings.Index(lines[0], "LEFT")
	require.Positive(t, col)
	assert.Equal(t, "connected", lines[1][col:])
	assert.Equal(t, left.Local().Format(time.DateTime), lines[2][col:])
}
