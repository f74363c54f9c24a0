package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWritesWithoutRotationUnderThreshold(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gatewayd.log")
	rf, err := NewRotatingFile(path, 1, 3)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("hello\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.NoFileExists(t, path+".1")
}

func TestRotatingFileRotatesPastSizeThreshold(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gatewayd.log")
	rf, err := NewRotatingFile(path, 1, 2)
	require.NoError(t, err)
	defer rf.Close()
	rf.maxBytes = 5 // force rotation on every write below, without needing huge fixtures

	_, err = rf.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("second\n"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("third\n"))
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")

	latest, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(latest), "second"))
}

func TestRotatingFileTruncatesWhenNoBackupsConfigured(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gatewayd.log")
	rf, err := NewRotatingFile(path, 1, 0)
	require.NoError(t, err)
	defer rf.Close()
	rf.maxBytes = 5

	_, err = rf.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("second\n"))
	require.NoError(t, err)

	assert.NoFileExists(t, path+".1")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestNewRotatingFileResumesExistingFileSize(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gatewayd.log")
	require.NoError(t, os.WriteFile(path, []byte("preexisting\n"), 0o644))

	rf, err := NewRotatingFile(path, 1, 1)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("appended\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "preexisting\nappended\n", string(data))
}
