package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"time"

	"fanchip/internal/host"
)

// Chip is the running chip as the web UI sees it. Implementations must be
// safe to call concurrently with the control loop.
type Chip interface {
	// ChipStatus returns a JSON-encodable snapshot.
	ChipStatus() any
	Framebuffer() *host.Framebuffer
	Brake() *host.Attr
}

type brakeResponse struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type brakeRequest struct {
	Value *float64 `json:"value"`
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Handler(status *Status, chip Chip, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		if chip != nil {
			snap.Chip = chip.ChipStatus()
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("/api/framebuffer.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if chip == nil {
			http.Error(w, "chip unavailable", http.StatusNotFound)
			return
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, chip.Framebuffer().Snapshot()); err != nil {
			http.Error(w, "encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	})

	// The attribute keeps the chip's historical name "break".
	mux.HandleFunc("/api/brake", func(w http.ResponseWriter, r *http.Request) {
		if chip == nil {
			http.Error(w, "chip unavailable", http.StatusNotFound)
			return
		}
		attr := chip.Brake()
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
			if err != nil {
				http.Error(w, "read body failed", http.StatusBadRequest)
				return
			}
			var req brakeRequest
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
				return
			}
			if req.Value == nil {
				http.Error(w, "value is required", http.StatusBadRequest)
				return
			}
			if err := attr.Set(*req.Value); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, brakeResponse{Name: attr.Name(), Value: attr.Get()})
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>fanchip</title>")
		_, _ = fmt.Fprintf(w, "<meta http-equiv=\"refresh\" content=\"1\"></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>fanchip</h1>")
		if chip != nil {
			_, _ = fmt.Fprintf(w, "<img src=\"/api/framebuffer.png\" width=\"256\" style=\"image-rendering:pixelated\" alt=\"rpm bar\">")
		}
		last := "none"
		if snap.LastReport != nil {
			last = snap.LastReport.String()
		}
		_, _ = fmt.Fprintf(w, "<pre>mode=%s\nreports_total=%d\nlast_report=%s</pre>", snap.Mode, snap.ReportsTotal, last)
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>.</p></body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, status *Status, chip Chip, logs *LogBuffer) error {
	if status == nil {
		status = NewStatus()
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, chip, logs),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
