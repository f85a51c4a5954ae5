package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"subforge/internal/config"
	"subforge/internal/history"
	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/task"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// TaskView is the wire representation of a task.
type TaskView struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	Stage      string  `json:"stage"`
	URL        string  `json:"url,omitempty"`
	FilePath   string  `json:"file_path,omitempty"`
	TargetLang string  `json:"target_lang,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	ErrorMsg   string  `json:"error_message,omitempty"`
	CreatedAt  string  `json:"created_at"`
	FinishedAt string  `json:"finished_at,omitempty"`
}

type createTaskRequest struct {
	Kind         string `json:"kind"`
	URL          string `json:"url"`
	FilePath     string `json:"file_path"`
	SubtitlePath string `json:"subtitle_path"`
	TargetLang   string `json:"target_lang"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address not configured")
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/", srv.handleTaskItem)
	mux.HandleFunc("/api/history", srv.handleHistory)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks := s.daemon.registry.List()
		views := make([]TaskView, 0, len(tasks))
		for _, t := range tasks {
			views = append(views, viewFromTask(t))
		}
		s.writeJSON(w, http.StatusOK, map[string][]TaskView{"tasks": views})
	case http.MethodPost:
		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		kind, ok := task.ParseKind(req.Kind)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown task kind %q", req.Kind))
			return
		}
		created, err := s.daemon.executor.Submit(kind, task.Input{
			URL:          req.URL,
			FilePath:     req.FilePath,
			SubtitlePath: req.SubtitlePath,
			TargetLang:   req.TargetLang,
		})
		if err != nil {
			s.writeError(w, http.StatusBadRequest, services.Message(err))
			return
		}
		s.writeJSON(w, http.StatusCreated, viewFromTask(created))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleTaskGet(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		s.handleTaskCancel(w, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleTaskCancel(w, id)
	case action == "events" && r.Method == http.MethodGet:
		s.handleTaskEvents(w, r, id)
	case action == "download" && r.Method == http.MethodGet:
		s.handleTaskDownload(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleTaskGet(w http.ResponseWriter, r *http.Request, id string) {
	t, err := s.daemon.registry.Get(id)
	if err != nil {
		// Tasks pruned by retention may still have a history record.
		if s.daemon.store != nil {
			if entry, found, lookupErr := s.daemon.store.Get(r.Context(), id); lookupErr == nil && found {
				s.writeJSON(w, http.StatusOK, viewFromEntry(entry))
				return
			}
		}
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, viewFromTask(t))
}

func (s *apiServer) handleTaskCancel(w http.ResponseWriter, id string) {
	err := s.daemon.executor.Cancel(id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
	case errors.Is(err, task.ErrAlreadyTerminal):
		s.writeError(w, http.StatusConflict, "task already finished")
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleTaskEvents streams progress snapshots as server-sent events
// until the task reaches a terminal state or the client disconnects.
func (s *apiServer) handleTaskEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.daemon.registry.Get(id); err != nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.daemon.broadcaster.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(map[string]any{
				"task_id":  snap.TaskID,
				"status":   string(snap.Status),
				"progress": snap.Progress,
				"stage":    snap.StageLabel,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *apiServer) handleTaskDownload(w http.ResponseWriter, r *http.Request, id string) {
	t, err := s.daemon.registry.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if t.Status != task.StatusCompleted || t.OutputPath == "" {
		s.writeError(w, http.StatusConflict, "task has no output")
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(t.OutputPath)))
	http.ServeFile(w, r, t.OutputPath)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.store == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"entries": nil})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.daemon.store.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func viewFromTask(t task.Task) TaskView {
	view := TaskView{
		ID:         t.ID,
		Kind:       string(t.Kind),
		Status:     string(t.Status),
		Progress:   t.Progress,
		Stage:      t.StageLabel,
		URL:        t.Input.URL,
		FilePath:   t.Input.FilePath,
		TargetLang: t.Input.TargetLang,
		OutputPath: t.OutputPath,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.Input.SubtitlePath != "" && view.FilePath == "" {
		view.FilePath = t.Input.SubtitlePath
	}
	if !t.FinishedAt.IsZero() {
		view.FinishedAt = t.FinishedAt.UTC().Format(time.RFC3339)
	}
	if t.Err != nil {
		view.ErrorKind = t.Err.Kind
		view.ErrorMsg = t.Err.Message
	}
	return view
}

func viewFromEntry(entry history.Entry) TaskView {
	view := TaskView{
		ID:         entry.ID,
		Kind:       entry.Kind,
		Status:     entry.Status,
		FilePath:   entry.Source,
		TargetLang: entry.TargetLang,
		OutputPath: entry.OutputPath,
		ErrorKind:  entry.ErrorKind,
		ErrorMsg:   entry.ErrorMessage,
		CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
		FinishedAt: entry.FinishedAt.UTC().Format(time.RFC3339),
	}
	if entry.Status == string(task.StatusCompleted) {
		view.Progress = 100
	}
	return view
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
