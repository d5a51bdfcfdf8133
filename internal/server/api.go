package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opencourse/triagebot/internal/worker"
)

// trackedActions are the pull_request webhook actions that can change
// tracking state. Anything else is acknowledged and dropped.
var trackedActions = map[string]bool{
	"opened":             true,
	"edited":             true,
	"closed":             true,
	"synchronize":        true,
	"ready_for_review":   true,
	"converted_to_draft": true,
}

type apiHandler struct {
	secret    []byte
	queue     Enqueuer
	runs      RunChecker
	rescanner Rescanner
	hub       *Hub
	baseCtx   context.Context
	startAt   time.Time
	logger    *slog.Logger
}

// apiError is the consistent error response format.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// validSignature checks the delivery body against the shared secret using
// the X-Hub-Signature-256 scheme ("sha256=" + hex HMAC).
func validSignature(secret []byte, header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(want))
}

// pullRequestEvent is the slice of the webhook payload we care about.
type pullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (h *apiHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "reading body"})
		return
	}
	if !validSignature(h.secret, r.Header.Get("X-Hub-Signature-256"), body) {
		writeJSON(w, http.StatusForbidden, apiError{Error: "invalid signature"})
		return
	}

	switch event := r.Header.Get("X-GitHub-Event"); event {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case "pull_request":
		var payload pullRequestEvent
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed payload"})
			return
		}
		if !trackedActions[payload.Action] {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "action": payload.Action})
			return
		}
		task := worker.Task{Repo: payload.Repository.FullName, Number: payload.PullRequest.Number}
		h.queue.Enqueue(h.baseCtx, task)
		h.logger.Info("webhook delivery queued", "repo", task.Repo, "pr", task.Number, "action", payload.Action)
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": event})
	}
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
	}
	if h.runs != nil {
		resp["active_runs"] = h.runs.ActiveCount()
	}
	if h.hub != nil {
		resp["ws_clients"] = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

type rescanRequest struct {
	Repo string `json:"repo"`
}

func (h *apiHandler) handleRescan(w http.ResponseWriter, r *http.Request) {
	if h.rescanner == nil {
		writeJSON(w, http.StatusNotImplemented, apiError{Error: "rescan not configured"})
		return
	}
	var req rescanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "repo is required"})
		return
	}
	queued, err := h.rescanner.Rescan(h.baseCtx, req.Repo)
	if err != nil {
		h.logger.Error("rescan failed", "repo", req.Repo, "error", err)
		writeJSON(w, http.StatusBadGateway, apiError{Error: err.Error()})
		return
	}
	if h.hub != nil {
		if msg, err := NewWSMessage(MsgRescan, map[string]any{"repo": req.Repo, "queued": queued}); err == nil {
			h.hub.Broadcast(msg)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repo": req.Repo, "queued": queued})
}
