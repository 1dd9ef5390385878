package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/feature/capture"
	"tg_utm_tracker/internal/feature/member"
	"tg_utm_tracker/internal/telegram"
)

type fakeCapture struct {
	result     capture.Result
	err        error
	campaignID string
	utm        domain.UTM
}

func (f *fakeCapture) Capture(_ context.Context, campaignID string, utm domain.UTM) (capture.Result, error) {
	f.campaignID = campaignID
	f.utm = utm
	return f.result, f.err
}

type fakeMember struct {
	outcome     member.Outcome
	err         error
	activeErr   error
	activeCalls int
	calls       int
	campaignID  string
	update      telegram.Update
}

func (f *fakeMember) EnsureActive(_ context.Context, campaignID string) error {
	f.activeCalls++
	f.campaignID = campaignID
	return f.activeErr
}

func (f *fakeMember) HandleUpdate(_ context.Context, campaignID string, update telegram.Update) (member.Outcome, error) {
	f.calls++
	f.campaignID = campaignID
	f.update = update
	return f.outcome, f.err
}

type fakeLifecycle struct {
	url         string
	registerErr error
	removeErr   error
	registered  string
	removed     string
}

func (f *fakeLifecycle) Register(_ context.Context, campaignID string) (string, error) {
	f.registered = campaignID
	return f.url, f.registerErr
}

func (f *fakeLifecycle) Deregister(_ context.Context, campaignID string) error {
	f.removed = campaignID
	return f.removeErr
}

type fakeCampaigns struct {
	campaign domain.Campaign
	err      error
}

func (f fakeCampaigns) Get(context.Context, string) (domain.Campaign, error) {
	return f.campaign, f.err
}

type fakeHealth struct{}

func (fakeHealth) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (fakeHealth) Status(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func newTestRouter(t *testing.T, opts ...Option) (http.Handler, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	return NewRouter(logrus.NewEntry(logger), opts...).Handler(), hook
}

func serve(h http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

const joinUpdate = `{"update_id":10,"chat_member":{"chat":{"id":-100,"title":"VIP"},"new_chat_member":{"status":"member","user":{"id":42}},"invite_link":{"name":"12345678abcd"}}}`

func TestCaptureRedirectsWithUTMs(t *testing.T) {
	svc := &fakeCapture{result: capture.Result{URL: "https://t.me/+abc"}}
	h, _ := newTestRouter(t, WithCapture(svc))

	rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1?utm_source=fb&utm_campaign=spring", nil, nil)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://t.me/+abc" {
		t.Fatalf("unexpected redirect location %q", loc)
	}
	if svc.campaignID != "camp-1" {
		t.Fatalf("expected campaign id camp-1, got %q", svc.campaignID)
	}
	if svc.utm.Source != "fb" || svc.utm.Campaign != "spring" || svc.utm.Medium != "" {
		t.Fatalf("unexpected utm payload %+v", svc.utm)
	}
}

func TestCaptureMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   map[string]string
	}{
		{
			name:   "not found",
			err:    apperr.New(apperr.NotFound, "Campaign not found or inactive"),
			status: http.StatusNotFound,
			body:   map[string]string{"error": "Not found", "details": "Campaign not found or inactive"},
		},
		{
			name:   "upstream",
			err:    apperr.Wrap(apperr.Upstream, "Failed to create invite link: Bad Request", errors.New("boom")),
			status: http.StatusInternalServerError,
			body:   map[string]string{"error": "Telegram API error", "details": "Failed to create invite link: Bad Request"},
		},
		{
			name:   "internal",
			err:    apperr.Wrap(apperr.Internal, "failed to store click", errors.New("disk full")),
			status: http.StatusInternalServerError,
			body:   map[string]string{"error": "Webhook error", "details": "failed to store click"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, WithCapture(&fakeCapture{err: tt.err}))

			rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1", nil, nil)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}

			body := decodeBody(t, rr)
			if len(body) != len(tt.body) {
				t.Fatalf("unexpected body %v", body)
			}
			for k, v := range tt.body {
				if body[k] != v {
					t.Fatalf("expected %s=%q, got %v", k, v, body)
				}
			}
			if strings.Contains(rr.Body.String(), "disk full") {
				t.Fatalf("internal cause leaked into response: %s", rr.Body.String())
			}
		})
	}
}

func TestMemberCreatedReturns201(t *testing.T) {
	svc := &fakeMember{outcome: member.Outcome{Action: member.ActionCreated, LeadID: "lead-1", Message: "Lead created successfully"}}
	h, _ := newTestRouter(t, WithMember(svc))

	rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(joinUpdate), nil)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["lead_id"] != "lead-1" || body["message"] != "Lead created successfully" {
		t.Fatalf("unexpected body %v", body)
	}
	if svc.campaignID != "camp-1" || svc.update.UpdateID != 10 {
		t.Fatalf("unexpected call campaign=%q update=%+v", svc.campaignID, svc.update)
	}
	if svc.update.ChatMember.LinkName() != "12345678abcd" || svc.update.ChatMember.ChatTitle() != "VIP" {
		t.Fatalf("update not decoded: %+v", svc.update.ChatMember)
	}
}

func TestMemberRejoinAndIgnoredReturn200(t *testing.T) {
	for _, outcome := range []member.Outcome{
		{Action: member.ActionRejoined, LeadID: "lead-1", Message: "Existing lead updated"},
		{Action: member.ActionIgnored, Message: "User did not join"},
		{Action: member.ActionDuplicate, Message: "Update already processed"},
	} {
		h, _ := newTestRouter(t, WithMember(&fakeMember{outcome: outcome}))

		rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(joinUpdate), nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", outcome.Action, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["message"] != outcome.Message || body["lead_id"] != outcome.LeadID {
			t.Fatalf("%s: unexpected body %v", outcome.Action, body)
		}
	}
}

func TestMemberRejectsEmptyOrInvalidBody(t *testing.T) {
	for _, raw := range []string{"", "{}", "null", "not json"} {
		svc := &fakeMember{}
		h, _ := newTestRouter(t, WithMember(svc))

		rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(raw), nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", raw, rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != "Invalid request" || body["details"] != "No data received" {
			t.Fatalf("%q: unexpected body %v", raw, body)
		}
		if svc.calls != 0 {
			t.Fatalf("%q: service should not be called", raw)
		}
	}
}

func TestMemberChecksCampaignBeforeBody(t *testing.T) {
	svc := &fakeMember{activeErr: apperr.New(apperr.NotFound, "Campaign not found or inactive")}
	h, _ := newTestRouter(t, WithMember(svc))

	for _, raw := range []string{"", joinUpdate} {
		rr := serve(h, http.MethodPost, "/webhooks/telegram-member/missing", []byte(raw), nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%q: expected 404, got %d", raw, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error"] != "Not found" || body["details"] != "Campaign not found or inactive" {
			t.Fatalf("%q: unexpected body %v", raw, body)
		}
	}
	if svc.campaignID != "missing" || svc.activeCalls != 2 {
		t.Fatalf("expected active check for missing campaign, got %q x%d", svc.campaignID, svc.activeCalls)
	}
	if svc.calls != 0 {
		t.Fatalf("update should not be handled for a missing campaign")
	}
}

func TestErrorBodiesAlwaysCarryCategoryAndDetails(t *testing.T) {
	for kind, category := range map[apperr.Kind]string{
		apperr.NotFound:  "Not found",
		apperr.Invalid:   "Invalid request",
		apperr.Upstream:  "Telegram API error",
		apperr.Conflict:  "Conflict",
		apperr.Forbidden: "Forbidden",
		apperr.Internal:  "Webhook error",
	} {
		h, _ := newTestRouter(t, WithCapture(&fakeCapture{err: apperr.New(kind, "detail for "+string(kind))}))

		rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1", nil, nil)
		body := decodeBody(t, rr)
		if len(body) != 2 || body["error"] != category || body["details"] != "detail for "+string(kind) {
			t.Fatalf("%s: unexpected body %v", kind, body)
		}
	}
}

func TestMemberSecretHeader(t *testing.T) {
	svc := &fakeMember{outcome: member.Outcome{Action: member.ActionIgnored, Message: "Not a chat_member update"}}
	h, _ := newTestRouter(t, WithMember(svc), WithSecret("s3cret"))

	rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(joinUpdate), map[string]string{SecretHeader: "wrong"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service should not be called on secret mismatch")
	}

	rr = serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(joinUpdate), nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without header, got %d", rr.Code)
	}

	rr = serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(joinUpdate), map[string]string{SecretHeader: "s3cret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with secret, got %d", rr.Code)
	}
	if svc.calls != 1 {
		t.Fatalf("expected one service call, got %d", svc.calls)
	}
}

func TestMemberMapsServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: apperr.New(apperr.NotFound, "Campaign not found or inactive"), status: http.StatusNotFound},
		{err: apperr.New(apperr.Invalid, "No telegram_id found"), status: http.StatusBadRequest},
		{err: errors.New("unclassified"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		h, hook := newTestRouter(t, WithMember(&fakeMember{err: tt.err}))

		rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1", []byte(joinUpdate), nil)
		if rr.Code != tt.status {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.status, rr.Code)
		}

		var found bool
		for _, entry := range hook.AllEntries() {
			if entry.Data["event"] == "request_error" && entry.Data["campaign_id"] == "camp-1" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%v: expected request_error log entry", tt.err)
		}
	}
}

func TestSetupAndRemove(t *testing.T) {
	svc := &fakeLifecycle{url: "https://track.example.com/webhooks/telegram-member/camp-1"}
	h, _ := newTestRouter(t, WithLifecycle(svc))

	rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1/setup", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["message"] != "Webhook configured successfully" || body["webhook_url"] != svc.url {
		t.Fatalf("unexpected setup body %v", body)
	}
	if svc.registered != "camp-1" {
		t.Fatalf("expected register for camp-1, got %q", svc.registered)
	}

	rr = serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1/remove", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["message"] != "Webhook removed successfully" {
		t.Fatalf("unexpected remove body %v", body)
	}
	if svc.removed != "camp-1" {
		t.Fatalf("expected deregister for camp-1, got %q", svc.removed)
	}
}

func TestSetupUpstreamFailureIs400(t *testing.T) {
	svc := &fakeLifecycle{
		registerErr: apperr.Wrap(apperr.Upstream, "Bad Request: bad webhook", errors.New("boom")),
		removeErr:   apperr.New(apperr.NotFound, "Bot not found"),
	}
	h, _ := newTestRouter(t, WithLifecycle(svc))

	rr := serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1/setup", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "Telegram API error" || body["details"] != "Bad Request: bad webhook" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = serve(h, http.MethodPost, "/webhooks/telegram-member/camp-1/remove", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestQRCodeEncodesCaptureURLWithQuery(t *testing.T) {
	var encoded string
	restore := encodeQR
	encodeQR = func(content string) ([]byte, error) {
		encoded = content
		return []byte("png"), nil
	}
	t.Cleanup(func() { encodeQR = restore })

	campaigns := fakeCampaigns{campaign: domain.Campaign{ID: "camp-1", IsActive: true}}
	h, _ := newTestRouter(t, WithCampaigns(campaigns), WithPublicBaseURL("https://track.example.com/"))

	rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1/qr.png?utm_source=flyer", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %s", ct)
	}
	if encoded != "https://track.example.com/webhooks/utm-capture/camp-1?utm_source=flyer" {
		t.Fatalf("unexpected qr content %q", encoded)
	}
}

func TestQRCodeProducesPNG(t *testing.T) {
	campaigns := fakeCampaigns{campaign: domain.Campaign{ID: "camp-1", IsActive: true, CaptureWebhookURL: "https://edge.example.com/c/camp-1"}}
	h, _ := newTestRouter(t, WithCampaigns(campaigns))

	rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1/qr.png", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("expected png signature")
	}
}

func TestQRCodeUnknownOrInactiveCampaign(t *testing.T) {
	for _, campaigns := range []fakeCampaigns{
		{err: domain.ErrNotFound},
		{campaign: domain.Campaign{ID: "camp-1", IsActive: false}},
	} {
		h, _ := newTestRouter(t, WithCampaigns(campaigns))

		rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1/qr.png", nil, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	}
}

func TestHealthRoutesMounted(t *testing.T) {
	h, _ := newTestRouter(t, WithHealth(fakeHealth{}))

	for _, path := range []string{"/healthz", "/statusz"} {
		rr := serve(h, http.MethodGet, path, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestUnconfiguredServicesFail(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := serve(h, http.MethodGet, "/webhooks/utm-capture/camp-1", nil, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	rr = serve(h, http.MethodGet, "/webhooks/telegram-member/camp-1", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET on member route, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.NotFound:  http.StatusNotFound,
		apperr.Invalid:   http.StatusBadRequest,
		apperr.Conflict:  http.StatusConflict,
		apperr.Forbidden: http.StatusForbidden,
		apperr.Internal:  http.StatusInternalServerError,
		apperr.Upstream:  http.StatusTeapot,
	}
	for kind, want := range cases {
		if got := statusFor(apperr.New(kind, "x"), http.StatusTeapot); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
