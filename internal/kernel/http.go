package kernel

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// NewHTTPHandler exposes the kernel over HTTP:
//
//	POST /tool    execute a tool call
//	GET  /schema  tool schema
//	GET  /health  liveness and bound names
func NewHTTPHandler(k *Kernel) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tool", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		defer r.Body.Close()

		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()

		var req Request
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
			return
		}
		if dec.More() {
			writeJSON(w, http.StatusBadRequest, Response{Error: "invalid JSON: trailing data"})
			return
		}

		writeJSON(w, http.StatusOK, k.Handle(r.Context(), req))
	})

	mux.HandleFunc("/schema", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(ToolSpec())
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"time":      time.Now().UTC().Format(time.RFC3339),
			"functions": k.Names(),
		})
	})

	return mux
}

// NewHTTPServer wraps NewHTTPHandler with the server timeouts used by
// srpoc-kernel serve.
func NewHTTPServer(addr string, k *Kernel) *http.Server {
	k.logger.Info("kernel HTTP server configured", zap.String("addr", addr))
	return &http.Server{
		Addr:              addr,
		Handler:           NewHTTPHandler(k),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
