package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesAuditTrail(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "settlement.log")

	require.NoError(t, Init(Config{
		OutputPaths: []string{"discard"},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}))
	t.Cleanup(func() { _ = Sync() })

	Record(context.Background(), "intent filled", slog.String("intent_id", "0xabc"))
	require.NoError(t, Sync())

	file, err := os.Open(auditPath)
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "intent filled", entry["msg"])
	assert.Equal(t, "0xabc", entry["intent_id"])
	assert.NotEmpty(t, entry["audit_id"])
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	err := Init(Config{Format: "xml", OutputPaths: []string{"discard"}})
	require.Error(t, err)
}

func TestRotatingWriterShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	require.NoError(t, err)
	w.maxSize = 8
	defer w.Close()

	for _, chunk := range []string{"aaaaaa", "bbbbbb", "cccccc", "dddddd"} {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dddddd", string(current))

	newest, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "cccccc", string(newest))

	oldest, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", string(oldest))

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}
