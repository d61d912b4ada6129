package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "run", "bfrelay.pid"))
	assert.False(t, p.Exists())

	require.NoError(t, p.Write())
	assert.True(t, p.Exists())

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, ok := p.Running()
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), running)

	require.NoError(t, p.Remove())
	assert.False(t, p.Exists())
	assert.NoError(t, p.Remove(), "removing twice is fine")
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

	_, err := New(path).Read()
	assert.Error(t, err)
	_, ok := New(path).Running()
	assert.False(t, ok)
}

func TestAcquireReplacesOwnAndStaleFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bfrelay.pid")
	p := New(path)

	require.NoError(t, p.Acquire())
	require.NoError(t, p.Acquire(), "own pid is not a conflict")

	require.NoError(t, os.WriteFile(path, []byte("0"), 0644))
	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRefusesLiveProcess(t *testing.T) {
	if os.Getppid() <= 1 {
		t.Skip("no distinct live parent process")
	}
	path := filepath.Join(t.TempDir(), "bfrelay.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

	err := New(path).Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
