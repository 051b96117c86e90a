package devserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const maxBodySize = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func decodeRecord(r *http.Request) (Record, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	rec := Record{}
	if len(body) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Subject == "" {
		req.Subject = "dev"
	}
	token, err := s.IssueToken(req.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not sign token")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status int `json:"status"`
		Count  int `json:"count"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Status < 400 || req.Status > 599 {
		writeError(w, http.StatusBadRequest, "status must be 4xx or 5xx")
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	s.FailNext(req.Status, req.Count)
	writeData(w, http.StatusOK, req)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	s.mu.Lock()
	list := s.listLocked(status)
	s.mu.Unlock()
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	delete(rec, "updatedAt")

	s.mu.Lock()
	created := copyRecord(s.putLocked(rec))
	s.mu.Unlock()

	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	patch, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	current, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	next := Record{}
	if r.Method == http.MethodPatch {
		next = copyRecord(current)
	}
	for k, v := range patch {
		next[k] = v
	}
	next["id"] = id
	next["updatedAt"] = s.now().UTC().Format(time.RFC3339Nano)
	s.records[id] = next
	updated := copyRecord(next)
	s.mu.Unlock()

	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// inject answers with a queued fault status instead of the handler.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := s.takeFault(); status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe logs and records every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.mu.Lock()
		s.requests = append(s.requests, RequestLog{Method: r.Method, Path: r.URL.Path, Status: rec.status})
		s.mu.Unlock()

		s.logger.Debug("dev server request",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
