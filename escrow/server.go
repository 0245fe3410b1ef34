package escrow

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const readHeaderTimeout = 5 * time.Second

// minTLSCipherSuites restricts the negotiable suites to ECDHE AEAD
// ciphers, per §4.8's "restricted cipher suite list that includes ECDHE
// AEAD suites".
var minTLSCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// Server is the Key Escrow Service's HTTP surface.
type Server struct {
	store  *Store
	tokens map[string]struct{}
	logger *zap.Logger
	http   *http.Server
}

// NewServer builds a Server bound to addr. tokens is the configured set
// of bearer tokens (§4.8 Authorization); an empty set means open mode,
// which the caller is expected to have already logged as a warning.
func NewServer(addr string, store *Store, tokens []string, logger *zap.Logger) *Server {
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	s := &Server{store: store, tokens: tokenSet, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.authenticate)
	protected.HandleFunc("/keys/save", s.handleSave).Methods(http.MethodPost)
	protected.HandleFunc("/keys/get", s.handleGet).Methods(http.MethodGet)
	protected.HandleFunc("/keys/list", s.handleList).Methods(http.MethodGet)
	protected.HandleFunc("/keys/delete", s.handleDelete).Methods(http.MethodDelete)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// ListenAndServe runs the plain-HTTP development mode (§4.8: "a
// development toggle may serve plaintext HTTP").
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// ListenAndServeTLS runs the production TLS 1.2+ mode with a restricted
// cipher suite list (§4.8).
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	s.http.TLSConfig = &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: minTLSCipherSuites,
	}
	return s.http.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown drains the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// authenticate enforces the bearer-token gate of §4.8. /health bypasses
// auth entirely (already excluded by being on the outer router).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusForbidden, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(header, prefix)

		authorized := false
		for t := range s.tokens {
			if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
				authorized = true
				break
			}
		}
		if !authorized {
			writeError(w, http.StatusForbidden, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type saveRequest struct {
	Hash   string `json:"hash"`
	KeyB64 string `json:"key_b64"`
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var body saveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if body.Hash == "" || body.KeyB64 == "" || body.NodeID == "" {
		writeError(w, http.StatusBadRequest, "hash, key_b64, and node_id are required")
		return
	}
	if err := s.store.Save(body.Hash, body.NodeID, body.KeyB64, body.Name); err != nil {
		s.logger.Warn("escrow save failed", zap.Error(err), zap.String("hash", body.Hash))
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "missing hash")
		return
	}
	keyB64, name, nodeID, err := s.store.Get(hash)
	if err != nil {
		if err == ErrNotFound {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.logger.Warn("escrow get failed", zap.Error(err), zap.String("hash", hash))
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"key_b64": keyB64,
		"name":    name,
		"node_id": nodeID,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "missing node_id")
		return
	}
	recs, err := s.store.List(nodeID)
	if err != nil {
		s.logger.Warn("escrow list failed", zap.Error(err), zap.String("node_id", nodeID))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	nodeID := r.URL.Query().Get("node_id")
	if hash == "" || nodeID == "" {
		writeError(w, http.StatusBadRequest, "hash and node_id are required")
		return
	}
	if err := s.store.Delete(hash, nodeID); err != nil {
		if err == ErrNotFound {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.logger.Warn("escrow delete failed", zap.Error(err), zap.String("hash", hash))
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
