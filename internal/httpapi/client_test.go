package httpapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/httpapi"
)

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return b
}

func TestPeerClient_ForwardReplicate_PostsToReplicateEndpoint(t *testing.T) {
	var gotPath string
	var gotBody envelope.ReplicationEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, decodeJSON(r, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpapi.NewPeerClient()
	addr := strings.TrimPrefix(srv.URL, "http://")
	err := c.ForwardReplicate(t.Context(), addr, envelope.ReplicationEnvelope{MsgID: "msg-1"})
	require.NoError(t, err)
	assert.Equal(t, "/replicate", gotPath)
	assert.Equal(t, "msg-1", gotBody.MsgID)
}

func TestPeerClient_ForwardCommand_PostsToCommandEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpapi.NewPeerClient()
	addr := strings.TrimPrefix(srv.URL, "http://")
	err := c.ForwardCommand(t.Context(), addr, envelope.SyncCommand{MsgID: "msg-1"})
	require.NoError(t, err)
	assert.Equal(t, "/p2p/command", gotPath)
}

func TestPeerClient_ForwardOnion_PostsRawBytesToRelayEndpoint(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = readAll(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpapi.NewPeerClient()
	addr := strings.TrimPrefix(srv.URL, "http://")
	err := c.ForwardOnion(t.Context(), addr, []byte("raw-packet-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/mix/relay", gotPath)
	assert.Equal(t, []byte("raw-packet-bytes"), gotBody)
}

func TestPeerClient_ForwardReplicate_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := httpapi.NewPeerClient()
	addr := strings.TrimPrefix(srv.URL, "http://")
	err := c.ForwardReplicate(t.Context(), addr, envelope.ReplicationEnvelope{})
	assert.Error(t, err)
}
