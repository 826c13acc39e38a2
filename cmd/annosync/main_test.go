package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/core/view"
	"github.com/zeusync/annosync/internal/signal"
	"github.com/zeusync/annosync/internal/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--secret", "k", "--room", "contract-42")
	require.NoError(t, err)
	room, err := signal.ParseRoomToken("k", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "contract-42", room)

	_, err = run(t, "token")
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.db")
	store, err := storage.Open(path, "lz4", nil)
	require.NoError(t, err)
	doc := replica.NewWithClient("a")
	p, err := storage.Bind(context.Background(), store, doc, "contract-42", nil)
	require.NoError(t, err)
	require.NoError(t, doc.Array(string(record.Bookmarks)).Push(replica.Local,
		record.Record{"id": "b1", "type": "pspdfkit/bookmark"},
		record.Record{"id": "b2", "type": "pspdfkit/bookmark"}))
	require.NoError(t, p.Close())
	require.NoError(t, store.Close())

	out, err := run(t, "inspect", "--store", path)
	require.NoError(t, err)
	assert.Contains(t, out, "contract-42")
	assert.Contains(t, out, "ROOM")

	out, err = run(t, "inspect", "--store", path, "--room", "contract-42", "--compact", "--dump")
	require.NoError(t, err)
	var snap view.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Len(t, snap.Bookmarks, 2)

	_, err = run(t, "inspect")
	assert.Error(t, err)
}

func TestPeerCommandExports(t *testing.T) {
	dir := t.TempDir()
	seed := view.Snapshot{Bookmarks: []record.Record{{"id": "b1", "type": "pspdfkit/bookmark"}}}
	seedPath := filepath.Join(dir, "seed.json")
	require.NoError(t, writeSnapshot(seedPath, seed))
	exportPath := filepath.Join(dir, "out.json")

	_, err := run(t, "peer", "--room", "r", "--seed", seedPath, "--export", exportPath, "--duration", "50ms", "--stats", "0")
	require.NoError(t, err)
	snap, err := readSnapshot(exportPath)
	require.NoError(t, err)
	assert.Equal(t, "b1", snap.Bookmarks[0].ID())
}

func TestInvalidConfigIsRejected(t *testing.T) {
	_, err := run(t, "peer", "--transport", "websocket", "--url", "", "--duration", "10ms")
	assert.Error(t, err)
}
