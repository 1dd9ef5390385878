package webhook

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/domain"
)

const qrSize = 256

var encodeQR = func(content string) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, qrSize)
}

// handleQR renders the campaign capture URL as a PNG. The request query is
// carried over so printed codes keep their UTM parameters.
func (rt *Router) handleQR(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if rt.campaigns == nil {
		rt.fail(w, r, http.StatusInternalServerError, errors.New("campaign lookup is not configured"))
		return
	}

	campaign, err := rt.campaigns.Get(r.Context(), campaignID)
	switch {
	case errors.Is(err, domain.ErrNotFound), err == nil && !campaign.IsActive:
		rt.fail(w, r, http.StatusNotFound, apperr.New(apperr.NotFound, "Campaign not found or inactive"))
		return
	case err != nil:
		rt.fail(w, r, http.StatusInternalServerError, apperr.Wrap(apperr.Internal, "failed to load campaign", err))
		return
	}

	target := rt.captureURL(campaign)
	if raw := r.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	png, err := encodeQR(target)
	if err != nil {
		rt.fail(w, r, http.StatusInternalServerError, apperr.Wrap(apperr.Internal, "failed to generate qr", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (rt *Router) captureURL(campaign domain.Campaign) string {
	if url := strings.TrimSpace(campaign.CaptureWebhookURL); url != "" {
		return strings.SplitN(url, "?", 2)[0]
	}
	return rt.baseURL + CapturePath + campaign.ID
}
