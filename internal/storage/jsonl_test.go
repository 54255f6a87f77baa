package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapOracle/internal/model"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestJSONLSinkAppendsNotifications(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "notifications.jsonl")
	sink := NewJSONLSink(path)

	rnh := model.ContentHash([]byte("secret"))
	require.NoError(t, sink.Publish(context.Background(), []model.Notification{
		{Kind: model.NotifyOpened, Height: 3, RandomNumberHash: &rnh, OutAmount: 5},
	}))
	require.NoError(t, sink.Publish(context.Background(), []model.Notification{
		{Kind: model.NotifyRefunded, Height: 9},
	}))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var first model.Notification
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, model.NotifyOpened, first.Kind)
	require.NotNil(t, first.RandomNumberHash)
	assert.Equal(t, rnh, *first.RandomNumberHash)
	assert.Contains(t, lines[1], `"kind":"refunded"`)
}

func TestJSONLSinkDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	sink := NewJSONLSink(path)

	require.NoError(t, sink.PutDecodeErrors(nil))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, sink.PutDecodeErrors([]model.DecodeError{{BlockNumber: "0x10", Error: "bad amount"}}))
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "bad amount")
}
