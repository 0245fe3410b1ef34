package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/chain"
	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/kvstore"
	"github.com/meshnode/meshnode/internal/mix"
	"github.com/meshnode/meshnode/internal/replication"
)

// readHeaderTimeout is the 5-second read-header timeout both surfaces
// apply (§4.7).
const readHeaderTimeout = 5 * time.Second

// Deps bundles every engine the HTTP surfaces dispatch into. Passed by
// value at construction so both routers share one set of live engines
// without reaching for a package-level global (§9).
type Deps struct {
	Logger      *zap.Logger
	SelfNodeID  string
	Chain       *chain.Log
	Directory   *directory.Directory
	Cache       *kvstore.Store
	Replication *replication.Engine
	Commands    *replication.CommandBroadcaster
	Relay       *mix.Relay
	Sender      *mix.Sender
	BaseDir     string
	FileKey     []byte
}

// NewPeerServer builds the peer-facing HTTP server bound to addr.
func NewPeerServer(addr string, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newPeerRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// NewLoopbackServer builds the loopback-only HTTP server bound to addr.
func NewLoopbackServer(addr string, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newLoopbackRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Status: "error", Error: msg})
}

// newRouter is a tiny shared constructor so both surfaces get the same
// NotFoundHandler / MethodNotAllowedHandler conventions.
func newRouter() *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}
