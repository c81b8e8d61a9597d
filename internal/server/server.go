package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chris/wattwise/internal/agent"
	"github.com/chris/wattwise/internal/dataset"
	"github.com/chris/wattwise/internal/db"
	"github.com/chris/wattwise/internal/llm"
)

const maxUploadBytes = 32 << 20

// Runner runs one chat request through the tool-calling loop.
type Runner interface {
	Run(ctx context.Context, history []llm.Message, out agent.Emitter) (*agent.Result, error)
}

// Store looks up generated reports and the alert log.
type Store interface {
	GetReport(ctx context.Context, id string) (*db.Report, error)
	ListAlerts(ctx context.Context, severity string, limit int) ([]db.Alert, error)
}

type Server struct {
	runner  Runner
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the HTTP API. store may be nil, in which case every report
// lookup is a 404 and the alert log is empty.
func New(runner Runner, store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: runner, store: store, logger: logger, now: time.Now}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/datasets", s.handleUpload)
	mux.HandleFunc("GET /api/reports/{id}", s.handleReport)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return logRequests(s.logger, mux)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

func (r chatRequest) history() ([]llm.Message, error) {
	if len(r.Messages) == 0 {
		return nil, errors.New("no messages")
	}
	out := make([]llm.Message, 0, len(r.Messages))
	for i, m := range r.Messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("decoding chat request", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	history, err := req.history()
	if err != nil {
		logger.Warn("invalid chat request", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	sw := newStreamWriter(w)
	res, err := s.runner.Run(r.Context(), history, sw)
	switch {
	case err == nil:
		sw.finish()
		logger.Info("chat completed", "rounds", res.Rounds, "capped", res.Capped)
	case r.Context().Err() != nil:
		logger.Info("client disconnected", "error", err)
	case !sw.started:
		logger.Error("chat failed before streaming", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process request")
	default:
		// Headers are out; the only way left to signal failure is to cut
		// the connection so the client sees a truncated body.
		logger.Error("chat failed mid-stream", "error", err)
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart upload with a \"file\" field")
		return
	}
	defer file.Close()

	ds, err := dataset.Parse(header.Filename, file, s.now())
	if err != nil {
		logger.Warn("parsing upload", "file", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("dataset parsed", "id", ds.ID, "file", ds.Name, "records", ds.RecordCount, "size", ds.SizeHuman)
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.store == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	report, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		loggerFrom(r.Context(), s.logger).Error("loading report", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load report")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.ID+".json"))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(report.Body))
}

type alertView struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
	Delivered  bool     `json:"delivered"`
	SentAt     string   `json:"sentAt"`
}

type alertsResponse struct {
	Alerts []alertView `json:"alerts"`
	Count  int         `json:"count"`
}

// handleAlerts lists recorded alerts, newest first. Query parameters:
// severity (low|medium|high|critical) and limit (1-500, default 50).
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	severity := q.Get("severity")
	switch severity {
	case "", "low", "medium", "high", "critical":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", severity))
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	alerts := []alertView{}
	if s.store != nil {
		found, err := s.store.ListAlerts(r.Context(), severity, limit)
		if err != nil {
			loggerFrom(r.Context(), s.logger).Error("listing alerts", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to list alerts")
			return
		}
		for _, a := range found {
			alerts = append(alerts, alertView{
				ID:         a.ID,
				Type:       a.Type,
				Severity:   a.Severity,
				Message:    a.Message,
				Recipients: a.Recipients,
				Delivered:  a.Delivered,
				SentAt:     a.SentAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
