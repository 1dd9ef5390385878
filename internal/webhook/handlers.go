package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/feature/member"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/telegram"
)

const maxUpdateBytes = 1 << 20

type messageResponse struct {
	Message    string `json:"message"`
	LeadID     string `json:"lead_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (rt *Router) handleCapture(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if rt.capture == nil {
		rt.fail(w, r, http.StatusInternalServerError, errors.New("capture service is not configured"))
		return
	}

	result, err := rt.capture.Capture(r.Context(), campaignID, domain.UTMFromQuery(r.URL.Query()))
	if err != nil {
		rt.fail(w, r, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	http.Redirect(w, r, result.URL, http.StatusFound)
}

func (rt *Router) handleMember(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if rt.member == nil {
		rt.fail(w, r, http.StatusInternalServerError, errors.New("member service is not configured"))
		return
	}

	if rt.secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(rt.secret)) != 1 {
			rt.fail(w, r, http.StatusForbidden, apperr.New(apperr.Forbidden, "Invalid secret token"))
			return
		}
	}

	if err := rt.member.EnsureActive(r.Context(), campaignID); err != nil {
		rt.fail(w, r, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	update, err := decodeUpdate(http.MaxBytesReader(w, r.Body, maxUpdateBytes))
	if err != nil {
		rt.fail(w, r, http.StatusBadRequest, apperr.Wrap(apperr.Invalid, "No data received", err))
		return
	}

	outcome, err := rt.member.HandleUpdate(r.Context(), campaignID, update)
	if err != nil {
		rt.fail(w, r, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	status := http.StatusOK
	if outcome.Action == member.ActionCreated {
		status = http.StatusCreated
	}

	rt.write(w, status, messageResponse{Message: outcome.Message, LeadID: outcome.LeadID})
}

func (rt *Router) handleSetup(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if rt.lifecycle == nil {
		rt.fail(w, r, http.StatusInternalServerError, errors.New("lifecycle service is not configured"))
		return
	}

	url, err := rt.lifecycle.Register(r.Context(), campaignID)
	if err != nil {
		rt.fail(w, r, statusFor(err, http.StatusBadRequest), err)
		return
	}

	rt.write(w, http.StatusOK, messageResponse{Message: "Webhook configured successfully", WebhookURL: url})
}

func (rt *Router) handleRemove(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if rt.lifecycle == nil {
		rt.fail(w, r, http.StatusInternalServerError, errors.New("lifecycle service is not configured"))
		return
	}

	if err := rt.lifecycle.Deregister(r.Context(), campaignID); err != nil {
		rt.fail(w, r, statusFor(err, http.StatusBadRequest), err)
		return
	}

	rt.write(w, http.StatusOK, messageResponse{Message: "Webhook removed successfully"})
}

// decodeUpdate reads one Telegram update. An empty or non-object body is
// rejected.
func decodeUpdate(body io.Reader) (telegram.Update, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return telegram.Update{}, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return telegram.Update{}, errors.New("empty update")
	}

	var update telegram.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return telegram.Update{}, err
	}

	return update, nil
}

// statusFor maps an error kind to an HTTP status. upstream is the status used
// for Telegram failures, which differs between capture and lifecycle routes.
func statusFor(err error, upstream int) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.Upstream:
		return upstream
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// categoryFor names the error category returned in the "error" field. The
// caller-safe message goes to "details".
func categoryFor(kind apperr.Kind) string {
	switch kind {
	case apperr.NotFound:
		return "Not found"
	case apperr.Invalid:
		return "Invalid request"
	case apperr.Upstream:
		return "Telegram API error"
	case apperr.Conflict:
		return "Conflict"
	case apperr.Forbidden:
		return "Forbidden"
	default:
		return "Webhook error"
	}
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	kind := apperr.KindOf(err)
	body := errorResponse{Error: categoryFor(kind), Details: apperr.MessageOf(err)}

	entry := logging.WithContext(rt.logger, logging.Context{
		CampaignID: chi.URLParam(r, "campaignID"),
		Event:      "request_error",
	}).WithFields(logging.Fields{
		"status": status,
		"kind":   string(kind),
	})
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		entry = entry.WithField("request_id", reqID)
	}
	logFailure(entry, status, err)

	rt.write(w, status, body)
}

func logFailure(entry *logrus.Entry, status int, err error) {
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
		return
	}
	entry.WithError(err).Info("request rejected")
}

func (rt *Router) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rt.logger.WithField("event", "response_write_error").WithError(err).Error("failed to encode response")
	}
}
