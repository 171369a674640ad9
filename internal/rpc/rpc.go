// Package rpc is the loopback HTTP surface of spec §4.8/§6: a JSON API an
// out-of-process tool-protocol adapter drives to read the active thread,
// post messages and files, and run the interactive-question protocol. Its
// http.ServeMux-plus-context-cancel *http.Server shape is grounded on the
// teacher's internal/bridge/server/server.go, generalized from a single
// fixed port to the first-free-port-in-a-range probe spec §6 requires for
// multi-instance discovery.
package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

// PortRangeStart and portRangeSize define [P0, P0+10) from spec §6.
const (
	PortRangeStart = 19876
	portRangeSize  = 10
)

// Gateway is the subset of internal/gateway.Client the RPC surface drives.
type Gateway interface {
	PostToThread(threadID, text string) error
	SendFileToThread(threadID string, data io.Reader, name, description string) error
	SendFileFromPath(threadID, path, name, description string) error
	StartTyping(threadID string)
	StopTyping(threadID string)
	CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (model.Mapping, error)
	RenameThread(threadID, name string) error
	Connected() bool
}

// Resolver is the subset of internal/registry.Registry the RPC surface
// drives for /api/get-active-thread-id.
type Resolver interface {
	Resolve(ctx context.Context) (model.Mapping, model.ResolveMethod, *registry.PendingResolution, error)
}

// PendingCreator forces thread creation for a Pending Composer id and
// records the resulting mapping as claimed (spec §4.5 strategy 1).
type PendingCreator interface {
	CreatePendingThread(ctx context.Context, conversationID string) (model.Mapping, error)
}

// Questioner is the subset of internal/interaction.Manager the RPC surface
// drives for /api/ask-question.
type Questioner interface {
	AskQuestion(ctx context.Context, threadID, question string, options []model.Option, allowMultiple bool, timeout time.Duration) (model.QuestionResult, error)
}

// Actuator delivers a chat message into the IDE for the /message route.
type Actuator interface {
	Deliver(ctx context.Context, workspaceRoot, conversationID, text, threadID string) error
}

// Server hosts the loopback HTTP API.
type Server struct {
	gateway        Gateway
	resolver       Resolver
	pendingCreator PendingCreator
	questions      Questioner
	actuator       Actuator

	workspaceRoot  string
	workspaceName  string
	channelID      string

	httpServer *http.Server
	listener   net.Listener
	port       int
}

// New constructs a Server; call Listen then Serve to run it.
func New(gw Gateway, resolver Resolver, pendingCreator PendingCreator, questions Questioner, act Actuator, workspaceRoot, workspaceName, channelID string) *Server {
	return &Server{
		gateway:        gw,
		resolver:       resolver,
		pendingCreator: pendingCreator,
		questions:      questions,
		actuator:       act,
		workspaceRoot:  workspaceRoot,
		workspaceName:  workspaceName,
		channelID:      channelID,
	}
}

// Listen binds the first free port in [PortRangeStart, PortRangeStart+10) on
// 127.0.0.1, spec §6's "first-bind wins" port-bind policy. The process-level
// fatal named in spec §7 (port-bind failure across the whole range) is
// returned to the caller rather than panicking here.
func (s *Server) Listen() (port int, err error) {
	var lastErr error
	for p := PortRangeStart; p < PortRangeStart+portRangeSize; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			lastErr = err
			continue
		}
		s.listener = ln
		s.port = p
		return p, nil
	}
	return 0, fmt.Errorf("rpc: no free port in [%d, %d): %w", PortRangeStart, PortRangeStart+portRangeSize, lastErr)
}

// Port returns the bound port. Valid only after Listen succeeds.
func (s *Server) Port() int { return s.port }

// Serve runs the HTTP server until ctx is cancelled. Listen must be called
// first.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/get-active-thread-id", s.handleGetActiveThreadID)
	mux.HandleFunc("/api/post-to-thread", s.handlePostToThread)
	mux.HandleFunc("/api/send-file-to-thread", s.handleSendFileToThread)
	mux.HandleFunc("/api/start-typing", s.handleStartTyping)
	mux.HandleFunc("/api/stop-typing", s.handleStopTyping)
	mux.HandleFunc("/api/create-thread", s.handleCreateThread)
	mux.HandleFunc("/api/rename-thread", s.handleRenameThread)
	mux.HandleFunc("/api/forward-user-prompt", s.handleForwardUserPrompt)
	mux.HandleFunc("/api/ask-question", s.handleAskQuestion)
	mux.HandleFunc("/message", s.handleMessage)

	s.httpServer = &http.Server{Handler: withCORS(mux)}

	log.Printf("rpc: listening on 127.0.0.1:%d", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		h.ServeHTTP(w, r)
	})
}

// --- response helpers ---

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("rpc: encode response failed: %v", err)
	}
}

// writeDomainError is for errors the caller can act on (missing thread,
// gateway disconnected, timeout): HTTP 200 per spec §7's propagation policy,
// since these are not preflight or unexpected faults.
func writeDomainError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, errorResponse{Success: false, Error: msg})
}

// writePreflightError is for missing/invalid request parameters: HTTP 400.
func writePreflightError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Error: msg})
}

// writeFault is for unexpected internal faults: HTTP 500, used sparingly per
// spec §7.
func writeFault(w http.ResponseWriter, err error) {
	log.Printf("rpc: unexpected fault: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Success: false, Error: "internal error"})
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"workspaceFolders":  []string{s.workspaceRoot},
		"workspaceName":     s.workspaceName,
		"discordConnected":  s.gateway.Connected(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workspaceName": s.workspaceName,
		"channelId":     s.channelID,
	})
}

func (s *Server) handleGetActiveThreadID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mapping, method, pending, err := s.resolver.Resolve(ctx)
	if err != nil {
		writeDomainError(w, err.Error())
		return
	}
	if pending != nil {
		created, err := s.pendingCreator.CreatePendingThread(ctx, pending.ConversationID)
		if err != nil {
			writeDomainError(w, err.Error())
			return
		}
		mapping = created
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"threadId":       mapping.ThreadID,
		"chatId":         mapping.ConversationID,
		"method":         method,
	})
}

type postToThreadRequest struct {
	ThreadID string `json:"threadId"`
	Text     string `json:"text"`
}

func (s *Server) handlePostToThread(w http.ResponseWriter, r *http.Request) {
	var req postToThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID == "" {
		writePreflightError(w, "threadId is required")
		return
	}
	if err := s.gateway.PostToThread(req.ThreadID, req.Text); err != nil {
		writeDomainError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sendFileRequest struct {
	ThreadID        string `json:"threadId"`
	FilePath        string `json:"filePath"`
	FileContentB64  string `json:"fileContentBase64"`
	FileName        string `json:"fileName"`
	Description     string `json:"description"`
}

// handleSendFileToThread accepts either an absolute local path or a base64
// payload. Per spec §6, when the daemon and its actuator peer are on
// different hosts the adapter pre-reads the file and submits base64; the
// daemon never dereferences a filePath that does not exist locally, so a
// missing local path simply falls through to requiring the base64 form.
func (s *Server) handleSendFileToThread(w http.ResponseWriter, r *http.Request) {
	var req sendFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID == "" {
		writePreflightError(w, "threadId is required")
		return
	}

	switch {
	case req.FileContentB64 != "":
		raw, err := base64.StdEncoding.DecodeString(req.FileContentB64)
		if err != nil {
			writePreflightError(w, "fileContentBase64 is not valid base64")
			return
		}
		name := req.FileName
		if name == "" {
			name = "file"
		}
		if err := s.gateway.SendFileToThread(req.ThreadID, strings.NewReader(string(raw)), name, req.Description); err != nil {
			writeDomainError(w, err.Error())
			return
		}
	case req.FilePath != "":
		if _, err := os.Stat(req.FilePath); err != nil {
			writeDomainError(w, "file not found on this host; submit fileContentBase64 instead")
			return
		}
		if err := s.gateway.SendFileFromPath(req.ThreadID, req.FilePath, req.FileName, req.Description); err != nil {
			writeDomainError(w, err.Error())
			return
		}
	default:
		writePreflightError(w, "filePath or fileContentBase64 is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type threadIDRequest struct {
	ThreadID string `json:"threadId"`
}

// handleStartTyping and handleStopTyping treat a missing threadId as a
// no-op success (spec §4.8 table), not a preflight error.
func (s *Server) handleStartTyping(w http.ResponseWriter, r *http.Request) {
	var req threadIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID != "" {
		s.gateway.StartTyping(req.ThreadID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStopTyping(w http.ResponseWriter, r *http.Request) {
	var req threadIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID != "" {
		s.gateway.StopTyping(req.ThreadID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type createThreadRequest struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID == "" || req.Name == "" {
		writePreflightError(w, "conversationId and name are required")
		return
	}
	mapping, err := s.gateway.CreateThread(r.Context(), req.ConversationID, s.workspaceName, req.Name)
	if err != nil {
		writeDomainError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "threadId": mapping.ThreadID})
}

type renameThreadRequest struct {
	ThreadID string `json:"threadId"`
	Name     string `json:"name"`
}

func (s *Server) handleRenameThread(w http.ResponseWriter, r *http.Request) {
	var req renameThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID == "" {
		writePreflightError(w, "threadId is required")
		return
	}
	if err := s.gateway.RenameThread(req.ThreadID, req.Name); err != nil {
		writeDomainError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type forwardUserPromptRequest struct {
	ThreadID string `json:"threadId"`
	Prompt   string `json:"prompt"`
}

func (s *Server) handleForwardUserPrompt(w http.ResponseWriter, r *http.Request) {
	var req forwardUserPromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID == "" {
		writePreflightError(w, "threadId is required")
		return
	}
	formatted := fmt.Sprintf("**User prompt:**\n> %s", strings.ReplaceAll(req.Prompt, "\n", "\n> "))
	if err := s.gateway.PostToThread(req.ThreadID, formatted); err != nil {
		writeDomainError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type askQuestionRequest struct {
	ThreadID      string         `json:"threadId"`
	Question      string         `json:"question"`
	Options       []model.Option `json:"options"`
	AllowMultiple bool           `json:"allowMultiple"`
	TimeoutMs     int            `json:"timeoutMs"`
}

func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var req askQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThreadID == "" || req.Question == "" {
		writePreflightError(w, "threadId and question are required")
		return
	}

	var timeout time.Duration
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	result, err := s.questions.AskQuestion(r.Context(), req.ThreadID, req.Question, req.Options, req.AllowMultiple, timeout)
	if err != nil {
		writeDomainError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           result.Success,
		"responseType":      result.ResponseType,
		"selectedOptionIds": result.SelectedOptionIDs,
		"textResponse":      result.TextResponse,
		"error":             result.Error,
	})
}

type messageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	ThreadID       string `json:"threadId"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		writePreflightError(w, "conversationId is required")
		return
	}
	if err := s.actuator.Deliver(r.Context(), s.workspaceRoot, req.ConversationID, req.Message, req.ThreadID); err != nil {
		writeDomainError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "requestId": uuid.NewString()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writePreflightError(w, "request body is required")
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writePreflightError(w, "invalid JSON body")
		return false
	}
	return true
}
