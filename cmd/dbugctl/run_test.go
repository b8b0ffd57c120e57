package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbug-project/dbug/controller/store"
	"github.com/dbug-project/dbug/internal/logging"
)

func flagsStub(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().Bool("release", false, "")
	cmd.Flags().Bool("tui", false, "")
	cmd.Flags().Bool("clean", false, "")
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().String("otlp-endpoint", "", "")
	cmd.Flags().String("store", "", "")
	cmd.Flags().String("transport", "", "")
	return cmd
}

func TestRunOptionsFromFlagsDefaults(t *testing.T) {
	opts, err := runOptionsFromFlags(flagsStub(t))
	require.NoError(t, err)
	assert.False(t, opts.release)
	assert.Equal(t, "", opts.storeBackend)
	assert.Equal(t, "", opts.transport)
}

func TestRunOptionsFromFlagsRejectsUnknownStore(t *testing.T) {
	cmd := flagsStub(t)
	require.NoError(t, cmd.Flags().Set("store", "mongodb"))
	_, err := runOptionsFromFlags(cmd)
	require.Error(t, err)
}

func TestRunOptionsFromFlagsRejectsUnknownTransport(t *testing.T) {
	cmd := flagsStub(t)
	require.NoError(t, cmd.Flags().Set("transport", "quic"))
	_, err := runOptionsFromFlags(cmd)
	require.Error(t, err)
}

func TestRunOptionsFromFlagsAcceptsKnownValues(t *testing.T) {
	cmd := flagsStub(t)
	require.NoError(t, cmd.Flags().Set("store", "sqlite"))
	require.NoError(t, cmd.Flags().Set("transport", "ws"))
	opts, err := runOptionsFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", opts.storeBackend)
	assert.Equal(t, "ws", opts.transport)
}

func testLogger(t *testing.T) *logging.SessionLogger {
	t.Helper()
	log, err := logging.New(logging.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log.WithSession("test")
}

func TestWatchFileStoreWatchesFileBackend(t *testing.T) {
	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "sessions.yaml"))
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	w := watchFileStore(fs, testLogger(t))
	require.NotNil(t, w)
	defer w.Close()
}

func TestWatchFileStoreSkipsSQLiteBackend(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	assert.Nil(t, watchFileStore(s, testLogger(t)))
}
