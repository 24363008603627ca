package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/service/mailbox"
)

type errorResponse struct {
	Error string `json:"error"`
}

type MailHandler struct {
	mailboxService *mailbox.Service
	maxBodyBytes   int64
}

// NewMailHandler serves the action endpoint. Request bodies larger than
// maxBodyBytes are refused with 413.
func NewMailHandler(mailboxService *mailbox.Service, maxBodyBytes int64) *MailHandler {
	return &MailHandler{
		mailboxService: mailboxService,
		maxBodyBytes:   maxBodyBytes,
	}
}

func (h *MailHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, &mail.SizeLimitError{What: "request body", Size: tooLarge.Limit + 1, Limit: tooLarge.Limit})
			return
		}
		slog.Error("failed to read request body", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return
	}

	req, err := mailbox.ParseRequest(body, h.mailboxService.Limits())
	if err != nil {
		writeError(w, err)
		return
	}

	token := bearerToken(r)
	if token == "" && req.Action() != mailbox.ActionHealth {
		writeError(w, mail.ErrAuthExpired)
		return
	}

	resp, err := h.mailboxService.Handle(r.Context(), token, req)
	if err != nil {
		slog.Error("mail action failed", "action", req.Action(), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mailbox.HealthResponse{Status: "ok"})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mail.ErrBadRequest):
		return http.StatusBadRequest
	// Attachment errors wrap their cause (a missing document is ErrNotFound)
	// and must be classified before it.
	case errors.Is(err, mail.ErrAttachmentUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mail.ErrSizeLimitExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, mail.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, mail.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mail.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, mail.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	var rateLimited *mail.RateLimitError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
		secs := int(rateLimited.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
