package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the summary API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Generate a summary, streaming progress as server-sent events and
		// finishing with the terminal result.
		r.Post("/filings/{accession}/summary", filingSummaryHandler(env.Pipeline))

		r.Get("/summaries/{accession}", func(w http.ResponseWriter, req *http.Request) {
			accession := chi.URLParam(req, "accession")
			ps, err := env.Store.GetSummary(req.Context(), accession)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if ps == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "summary not found"})
				return
			}

			if req.URL.Query().Get("format") == "html" {
				var buf bytes.Buffer
				if err := goldmark.Convert([]byte(ps.Editorial), &buf); err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "render failed"})
					return
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(buf.Bytes())
				return
			}

			writeJSON(w, http.StatusOK, ps)
		})

		r.Get("/summaries", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
			list, err := env.Store.ListSummaries(req.Context(), limit, offset)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"summaries": list})
		})

		r.Get("/cache/stats", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, env.Cache.Stats())
		})

		r.Post("/cache/invalidate", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Pattern string `json:"pattern"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Pattern == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pattern is required"})
				return
			}
			removed, complete, err := env.Cache.InvalidatePattern(req.Context(), body.Pattern)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "complete": complete})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// summaryRunner is the slice of the pipeline the summary endpoint needs.
type summaryRunner interface {
	GetOrRun(ctx context.Context, doc model.FilingDocument, listeners ...pipeline.ProgressFunc) (*model.SummaryResult, error)
}

// filingSummaryHandler streams progress events and the terminal result for a
// summary run. The run itself executes on a context detached from the
// request: a client disconnect only stops event delivery, while in-flight
// work runs to completion and a full result is still persisted.
func filingSummaryHandler(runner summaryRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		accession := chi.URLParam(req, "accession")

		var doc model.FilingDocument
		if err := json.NewDecoder(req.Body).Decode(&doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		doc.AccessionNumber = accession
		if doc.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		// The emitter serializes listener delivery; the channel hands
		// events to this goroutine, the only writer to the response.
		events := make(chan model.ProgressEvent, 64)
		done := make(chan struct{})

		runCtx := context.WithoutCancel(req.Context())

		var result *model.SummaryResult
		var runErr error
		go func() {
			defer close(done)
			result, runErr = runner.GetOrRun(runCtx, doc, func(ev model.ProgressEvent) {
				select {
				case events <- ev:
				case <-req.Context().Done():
				}
			})
		}()

		for {
			select {
			case ev := <-events:
				writeSSE(w, "progress", ev)
				flusher.Flush()
			case <-req.Context().Done():
				// Client disconnected: stop streaming. In-flight work
				// runs to completion in the pipeline goroutine.
				return
			case <-done:
				for {
					select {
					case ev := <-events:
						writeSSE(w, "progress", ev)
					default:
						if runErr != nil {
							// Internal detail stays in the logs; callers get a retry hint.
							zap.L().Error("summary generation failed", zap.String("accession", accession), zap.Error(runErr))
							writeSSE(w, "error", map[string]string{"error": "summary generation failed, please retry"})
						} else {
							writeSSE(w, "result", result)
						}
						flusher.Flush()
						return
					}
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
