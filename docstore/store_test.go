package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/errors"
	qtest "github.com/cadenzahq/cadenza/internal/testing"
)

type stateDoc struct {
	Names     []string `json:"names"`
	IsRunning bool     `json:"is_running"`
}

func TestSaveAndLoad(t *testing.T) {
	store := New(qtest.CreateTestDB(t))

	saved := stateDoc{Names: []string{"ingest", "digest"}, IsRunning: true}
	require.NoError(t, store.Save("scheduler/state", saved))

	var loaded stateDoc
	require.NoError(t, store.Load("scheduler/state", &loaded))
	assert.Equal(t, saved, loaded)
}

func TestSaveReplacesWholeDocument(t *testing.T) {
	store := New(qtest.CreateTestDB(t))

	require.NoError(t, store.Save("doc", stateDoc{Names: []string{"a", "b"}}))
	require.NoError(t, store.Save("doc", stateDoc{Names: []string{"c"}}))

	var loaded stateDoc
	require.NoError(t, store.Load("doc", &loaded))
	assert.Equal(t, []string{"c"}, loaded.Names)
}

func TestLoadMissingIsNotFound(t *testing.T) {
	store := New(qtest.CreateTestDB(t))

	var doc stateDoc
	err := store.Load("absent", &doc)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDelete(t *testing.T) {
	store := New(qtest.CreateTestDB(t))

	require.NoError(t, store.Save("doc", stateDoc{IsRunning: true}))
	require.NoError(t, store.Delete("doc"))

	var doc stateDoc
	assert.True(t, errors.IsNotFoundError(store.Load("doc", &doc)))

	// Deleting a missing key is a no-op.
	assert.NoError(t, store.Delete("doc"))
}
