package escrowclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/escrowclient"
)

func TestSave_NoOpWhenBaseURLEmpty(t *testing.T) {
	c := &escrowclient.Client{}
	err := c.Save(t.Context(), "hash", "node", "key", "name")
	assert.NoError(t, err)
}

func TestSave_PostsAuthorizedRequest(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := escrowclient.New(srv.URL, "secret-token")
	err := c.Save(t.Context(), "hash-1", "node-a", "key-b64", "file.txt")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "hash-1", gotBody["hash"])
	assert.Equal(t, "node-a", gotBody["node_id"])
}

func TestGet_ReturnsErrNotFoundOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := escrowclient.New(srv.URL, "")
	_, _, _, err := c.Get(t.Context(), "unknown-hash")
	assert.ErrorIs(t, err, escrowclient.ErrNotFound)
}

func TestGet_DecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"key_b64": "a2V5",
			"name":    "file.txt",
			"node_id": "node-a",
		})
	}))
	defer srv.Close()

	c := escrowclient.New(srv.URL, "")
	keyB64, name, nodeID, err := c.Get(t.Context(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "a2V5", keyB64)
	assert.Equal(t, "file.txt", name)
	assert.Equal(t, "node-a", nodeID)
}

func TestDelete_ReturnsErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := escrowclient.New(srv.URL, "")
	err := c.Delete(t.Context(), "hash-1", "node-a")
	assert.Error(t, err)
}

func TestList_ReturnsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]escrowclient.Record{{FileHash: "h1", OriginNode: "node-a"}})
	}))
	defer srv.Close()

	c := escrowclient.New(srv.URL, "")
	records, err := c.List(t.Context(), "node-a")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "h1", records[0].FileHash)
}
