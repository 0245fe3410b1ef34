package httpapi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/envelope"
)

func newLoopbackRouter(deps Deps) *mux.Router {
	r := newRouter()
	r.Use(loopbackOnly)

	r.HandleFunc("/status", handleStatus(deps)).Methods(http.MethodGet)
	r.HandleFunc("/peers", handlePeers(deps)).Methods(http.MethodGet)
	r.HandleFunc("/sync/status", handleSyncStatus(deps)).Methods(http.MethodGet)
	r.HandleFunc("/chain/list", handleChainList(deps)).Methods(http.MethodGet)

	r.HandleFunc("/mix/send-text", handleSendText(deps)).Methods(http.MethodPost)
	r.HandleFunc("/mix/send-file", handleSendFile(deps)).Methods(http.MethodPost)
	r.HandleFunc("/chunks/decrypt", handleChunksDecrypt(deps)).Methods(http.MethodGet)

	r.HandleFunc("/backup/get", handleBackupGet(deps)).Methods(http.MethodGet)
	r.HandleFunc("/peers/save", handlePeersSave(deps)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/peers/load", handlePeersLoad(deps)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/peers/publish", handlePeersPublish(deps)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/peers/fetch", handlePeersFetch(deps)).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/command/broadcast", handleCommandBroadcast(deps)).Methods(http.MethodPost)
	r.HandleFunc("/command/pending", handleCommandPending(deps)).Methods(http.MethodGet)

	r.HandleFunc("/env/export", handleEnvExport(deps)).Methods(http.MethodGet)

	return r
}

// loopbackOnly enforces §4.7's "MUST reject any non-loopback remote
// address before dispatch".
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		host, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			host = req.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeError(w, http.StatusForbidden, "loopback only")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Status: "ok",
			Tip:    deps.Chain.Tip(),
		})
	}
}

func handlePeers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		peers := deps.Directory.List()
		views := make([]peerView, 0, len(peers))
		for _, p := range peers {
			views = append(views, peerView{
				NodeID:    p.NodeID,
				Address:   p.Address,
				APIPort:   p.APIPort,
				Hostname:  p.Hostname,
				LastSeen:  p.LastSeen.Unix(),
				PubKeyB64: p.PubKeyB64,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleSyncStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Status: "ok",
			Tip:    deps.Chain.Tip(),
		})
	}
}

func handleChainList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		blocks, err := deps.Chain.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, blocks)
	}
}

func handleSendText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		to := req.URL.Query().Get("to")
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		msgID, err := deps.Sender.SendText(req.Context(), to, string(body))
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sendTextResponse{Status: "sent", MsgID: msgID})
	}
}

func handleSendFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		to := req.URL.Query().Get("to")
		name := req.URL.Query().Get("name")
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		msgID, err := deps.Sender.SendFile(req.Context(), to, name, body)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sendTextResponse{Status: "sent", MsgID: msgID})
	}
}

func handleChunksDecrypt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		hash := q.Get("hash")
		name := q.Get("name")
		out := q.Get("out")

		var keyPtr *string
		if k := q.Get("keyB64"); k != "" {
			keyPtr = &k
		}

		plain, err := deps.Replication.Decrypt(hash, name, keyPtr)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		if out != "" {
			if err := os.WriteFile(filepath.Join(deps.BaseDir, out), plain, 0o600); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: "written"})
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(plain)
	}
}

func handleBackupGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := req.URL.Query().Get("key")
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

// handlePeersSave/Load/Publish/Fetch implement the peer-snapshot
// backup/publish/fetch pathway referenced in §6. Only save seals: it
// writes the directory to peers.enc under the Sealed Envelope's FileKey.
// Load and publish return the current directory as plaintext JSON, and
// fetch merges a plaintext JSON peer list from the request body; no
// PEM-derived key is used anywhere.
func handlePeersSave(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		path := filepath.Join(deps.BaseDir, "peers.enc")
		if err := deps.Directory.SaveSealed(path, deps.FileKey); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: "saved"})
	}
}

func handlePeersLoad(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		peers := deps.Directory.List()
		writeJSON(w, http.StatusOK, peers)
	}
}

func handlePeersPublish(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snapshot := deps.Directory.List()
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func handlePeersFetch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var incoming []peerView
		if err := json.NewDecoder(req.Body).Decode(&incoming); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}

		now := time.Now()
		records := make([]directory.PeerRecord, 0, len(incoming))
		for _, v := range incoming {
			records = append(records, directory.PeerRecord{
				NodeID:    v.NodeID,
				Address:   v.Address,
				APIPort:   v.APIPort,
				Hostname:  v.Hostname,
				PubKeyB64: v.PubKeyB64,
				LastSeen:  now,
			})
		}
		count := deps.Directory.Merge(records)
		writeJSON(w, http.StatusOK, statusResponse{Status: "merged", Count: count})
	}
}

func handleCommandBroadcast(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body commandBroadcastRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		cmd := deps.Commands.Broadcast(req.Context(), envelope.SyncCommandType(body.Type), body.FolderPath, body.Recursive)
		writeJSON(w, http.StatusOK, statusResponse{Status: "broadcast", MsgID: cmd.MsgID})
	}
}

func handleCommandPending(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

func handleEnvExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("MESHNODE_BASE_DIR=" + deps.BaseDir + "\n"))
	}
}

