package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/mix"
	"github.com/meshnode/meshnode/internal/replication"
)

func newPeerRouter(deps Deps) *mux.Router {
	r := newRouter()

	r.HandleFunc("/replicate", handleReplicate(deps)).Methods(http.MethodPost)
	r.HandleFunc("/mix/relay", handleMixRelay(deps)).Methods(http.MethodPost)
	r.HandleFunc("/fetch", handleFetch(deps)).Methods(http.MethodGet)
	r.HandleFunc("/dht/put", handleDHTPut(deps)).Methods(http.MethodPost)
	r.HandleFunc("/dht/get", handleDHTGet(deps)).Methods(http.MethodGet)
	r.HandleFunc("/p2p/command", handlePeerCommand(deps)).Methods(http.MethodPost)

	return r
}

func handleReplicate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var env envelope.ReplicationEnvelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}

		status, err := deps.Replication.Admit(req.Context(), env, req.RemoteAddr)
		if err != nil {
			var mismatch *replication.ChainMismatchError
			if asChainMismatch(err, &mismatch) {
				writeJSON(w, http.StatusConflict, chainMismatchResponse{
					Status:   "chain_mismatch",
					Expected: mismatch.Expected,
					Got:      mismatch.Got,
				})
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Status: string(status),
			MsgID:  env.MsgID,
			Hops:   env.Hops + 1,
			Tip:    deps.Chain.Tip(),
		})
	}
}

func asChainMismatch(err error, target **replication.ChainMismatchError) bool {
	if cm, ok := err.(*replication.ChainMismatchError); ok {
		*target = cm
		return true
	}
	return false
}

func handleMixRelay(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}

		if err := deps.Relay.Handle(req.Context(), body); err != nil {
			status := http.StatusBadGateway
			if err == mix.ErrForbidden {
				status = http.StatusForbidden
			}
			writeError(w, status, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Status: "relayed"})
	}
}

func handleFetch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := req.URL.Query().Get("key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "missing key")
			return
		}
		value, ok := deps.Cache.Get(key)
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(value)
	}
}

func handleDHTPut(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body dhtPutRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		value, err := base64.StdEncoding.DecodeString(body.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad value_b64")
			return
		}
		deps.Cache.Put(body.Key, value)
		writeJSON(w, http.StatusOK, statusResponse{Status: "stored"})
	}
}

func handleDHTGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := req.URL.Query().Get("key")
		value, ok := deps.Cache.Get(key)
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, dhtPutRequest{Key: key, Value: base64.StdEncoding.EncodeToString(value)})
	}
}

func handlePeerCommand(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var cmd envelope.SyncCommand
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		seen := deps.Commands.Receive(req.Context(), cmd)
		status := "accepted"
		if seen {
			status = "seen"
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: status, MsgID: cmd.MsgID})
	}
}
