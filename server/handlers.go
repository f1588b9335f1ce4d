package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/poiesic/ragchat/chat"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/ingestion"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

type chatRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"top_k"`
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
}

type deleteResponse struct {
	Message string `json:"message"`
	*core.DeleteResult
}

type filesResponse struct {
	Files []string `json:"files"`
}

type historyResponse struct {
	History        []core.SessionTurn `json:"history"`
	Message        string             `json:"message,omitempty"`
	TotalQuestions int                `json:"total_questions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and writes it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrEmptyQuestion),
		errors.Is(err, core.ErrUnsupportedFormat),
		errors.Is(err, core.ErrExtractionFailed),
		errors.Is(err, core.ErrInvalidChunk),
		errors.Is(err, core.ErrInvalidConfiguration),
		errors.Is(err, ingestion.ErrFilenameRequired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return chat.DefaultSessionID
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Secure RAG Chatbot API"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Detail: "upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "reading upload failed"})
		return
	}
	if int64(len(raw)) > s.maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Detail: "upload too large"})
		return
	}

	res, err := s.svc.Upload(r.Context(), header.Filename, sessionID(r), raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:  "Document securely uploaded",
		Filename: res.Filename,
		Chunks:   res.Chunks,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid JSON body"})
		return
	}
	resp, err := s.svc.Ask(r.Context(), chat.Request{
		Question:  req.Question,
		TopK:      req.TopK,
		SessionID: req.SessionID,
		Language:  req.Language,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Preview(r.Context(), r.PathValue("filename"), sessionID(r))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "File not found"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.Sources(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	res, err := s.svc.Delete(r.Context(), filename, sessionID(r))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "File not found"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		Message:      fmt.Sprintf("%s deleted successfully", res.Filename),
		DeleteResult: res,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Clear(r.Context(), sessionID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "All documents cleared"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	events, err := s.svc.AuditEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.svc.History(sessionID(r))
	if len(history) == 0 {
		writeJSON(w, http.StatusOK, historyResponse{
			History: []core.SessionTurn{},
			Message: "No past questions found",
		})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{History: history, TotalQuestions: len(history)})
}
