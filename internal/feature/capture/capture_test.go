package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/telegram"
)

type fakeCampaigns map[string]domain.Campaign

func (f fakeCampaigns) Get(ctx context.Context, id string) (domain.Campaign, error) {
	c, ok := f[id]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c, nil
}

type fakeBots map[string]domain.Bot

func (f fakeBots) Get(ctx context.Context, id string) (domain.Bot, error) {
	b, ok := f[id]
	if !ok {
		return domain.Bot{}, domain.ErrNotFound
	}
	return b, nil
}

type fakeLinks struct {
	links     map[string]domain.InviteLink
	createErr error
	attachErr error
	deleted   []string
	nextID    int
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{links: make(map[string]domain.InviteLink)}
}

func (f *fakeLinks) Create(ctx context.Context, link domain.InviteLink) (domain.InviteLink, error) {
	if f.createErr != nil {
		return domain.InviteLink{}, f.createErr
	}
	for _, existing := range f.links {
		if existing.Code == link.Code {
			return domain.InviteLink{}, domain.ErrDuplicate
		}
	}
	f.nextID++
	link.ID = fmt.Sprintf("link-%d", f.nextID)
	f.links[link.ID] = link
	return link, nil
}

func (f *fakeLinks) AttachURL(ctx context.Context, id, url string) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	link, ok := f.links[id]
	if !ok {
		return domain.ErrNotFound
	}
	link.InviteLinkURL = url
	f.links[id] = link
	return nil
}

func (f *fakeLinks) Delete(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.deleted = append(f.deleted, id)
	delete(f.links, id)
	return nil
}

type fakeGateway struct {
	url     string
	err     error
	calls   int
	token   string
	chatID  string
	name    string
	private bool
}

func (f *fakeGateway) CreateInviteLink(ctx context.Context, token, chatID, name string, private bool) (string, error) {
	f.calls++
	f.token, f.chatID, f.name, f.private = token, chatID, name, private
	return f.url, f.err
}

type fixture struct {
	service *Service
	links   *fakeLinks
	gateway *fakeGateway
	hook    *logtest.Hook
}

func newFixture(t *testing.T, campaign domain.Campaign, bots fakeBots) fixture {
	t.Helper()

	hookLogger, hook := logtest.NewNullLogger()
	links := newFakeLinks()
	gateway := &fakeGateway{url: "https://t.me/+minted"}
	service := NewService(fakeCampaigns{campaign.ID: campaign}, bots, links, gateway, logrus.NewEntry(hookLogger))
	service.newCode = func() (string, error) { return "12345678abcd", nil }

	return fixture{service: service, links: links, gateway: gateway, hook: hook}
}

func activeCampaign() domain.Campaign {
	return domain.Campaign{ID: "camp-1", TelegramBotID: "bot-1", IsActive: true}
}

func activeBots() fakeBots {
	return fakeBots{"bot-1": {ID: "bot-1", BotToken: "123:abc", ChatID: "-100200", IsPrivate: true, IsActive: true}}
}

func TestCaptureMintsLinkAndKeepsUTM(t *testing.T) {
	f := newFixture(t, activeCampaign(), activeBots())

	utm := domain.UTM{Source: "ads", Medium: "cpc", Campaign: "spring"}
	result, err := f.service.Capture(context.Background(), "camp-1", utm)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}

	if result.URL != "https://t.me/+minted" || result.Code != "12345678abcd" {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.gateway.name != "12345678abcd" || f.gateway.chatID != "-100200" || !f.gateway.private || f.gateway.token != "123:abc" {
		t.Fatalf("unexpected gateway call %+v", f.gateway)
	}

	stored := f.links.links[result.LinkID]
	if stored.InviteLinkURL != "https://t.me/+minted" {
		t.Fatalf("expected url to be attached, got %+v", stored)
	}
	if stored.UTM != utm {
		t.Fatalf("expected utm %+v, got %+v", utm, stored.UTM)
	}
	if stored.UTM.Content != "" || stored.UTM.Term != "" {
		t.Fatalf("expected absent params to be empty strings, got %+v", stored.UTM)
	}
	if len(f.links.deleted) != 0 {
		t.Fatalf("expected no rollback, got %v", f.links.deleted)
	}

	last := f.hook.LastEntry()
	if last == nil || last.Data["event"] != "invite_link_created" {
		t.Fatalf("expected invite_link_created entry, got %+v", last)
	}
	if last.Data["campaign_id"] != "camp-1" || last.Data["code"] != "12345678abcd" || last.Data["link_id"] != result.LinkID {
		t.Fatalf("expected campaign, code and link fields, got %v", last.Data)
	}
}

func TestCaptureRejectsInactiveCampaignWithoutWrites(t *testing.T) {
	campaign := activeCampaign()
	campaign.IsActive = false
	f := newFixture(t, campaign, activeBots())

	_, err := f.service.Capture(context.Background(), "camp-1", domain.UTM{Source: "ads"})
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.links.links) != 0 || f.links.nextID != 0 {
		t.Fatalf("expected no invite link writes, got %v", f.links.links)
	}
	if f.gateway.calls != 0 {
		t.Fatalf("expected no gateway call, got %d", f.gateway.calls)
	}
}

func TestCaptureRejectsUnknownCampaign(t *testing.T) {
	f := newFixture(t, activeCampaign(), activeBots())

	_, err := f.service.Capture(context.Background(), "nope", domain.UTM{})
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCaptureRollsBackOnGatewayFailure(t *testing.T) {
	f := newFixture(t, activeCampaign(), activeBots())
	f.gateway.err = &telegram.APIError{Method: "createChatInviteLink", Description: "Bad Request: not enough rights"}

	_, err := f.service.Capture(context.Background(), "camp-1", domain.UTM{Source: "ads"})
	if apperr.KindOf(err) != apperr.Upstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(f.links.links) != 0 {
		t.Fatalf("expected stored link to be rolled back, got %v", f.links.links)
	}
	if len(f.links.deleted) != 1 {
		t.Fatalf("expected exactly one rollback delete, got %v", f.links.deleted)
	}
	if last := f.hook.LastEntry(); last == nil || last.Data["event"] != "invite_link_rolled_back" {
		t.Fatalf("expected rollback to be logged, got %v", last)
	}
}

func TestCaptureRollsBackWhenBotMissingOrInactive(t *testing.T) {
	for name, bots := range map[string]fakeBots{
		"missing":  {},
		"inactive": {"bot-1": {ID: "bot-1", BotToken: "t", ChatID: "-1", IsActive: false}},
	} {
		f := newFixture(t, activeCampaign(), bots)

		_, err := f.service.Capture(context.Background(), "camp-1", domain.UTM{})
		if apperr.KindOf(err) != apperr.NotFound {
			t.Fatalf("%s: expected not found, got %v", name, err)
		}
		if len(f.links.links) != 0 || len(f.links.deleted) != 1 {
			t.Fatalf("%s: expected rollback, links=%v deleted=%v", name, f.links.links, f.links.deleted)
		}
		if f.gateway.calls != 0 {
			t.Fatalf("%s: expected no gateway call", name)
		}
	}
}

func TestCaptureRollsBackWhenAttachFails(t *testing.T) {
	f := newFixture(t, activeCampaign(), activeBots())
	f.links.attachErr = errors.New("write conflict")

	_, err := f.service.Capture(context.Background(), "camp-1", domain.UTM{})
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if len(f.links.links) != 0 {
		t.Fatalf("expected rollback after attach failure, got %v", f.links.links)
	}
}

func TestCaptureRollbackSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t, activeCampaign(), activeBots())

	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.err = errors.New("client went away")
	f.service.gateway = cancelingGateway{cancel: cancel, inner: f.gateway}

	if _, err := f.service.Capture(ctx, "camp-1", domain.UTM{}); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.links.links) != 0 {
		t.Fatalf("expected rollback despite cancelled request, got %v", f.links.links)
	}
}

func TestCaptureCodeCollisionIsRetryable(t *testing.T) {
	f := newFixture(t, activeCampaign(), activeBots())
	f.links.createErr = domain.ErrDuplicate

	_, err := f.service.Capture(context.Background(), "camp-1", domain.UTM{})
	if apperr.KindOf(err) != apperr.Internal || !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected internal error wrapping ErrDuplicate, got %v", err)
	}
	if f.gateway.calls != 0 {
		t.Fatalf("expected no gateway call after collision")
	}
}

func TestCaptureRequiresInitialization(t *testing.T) {
	var service *Service
	if _, err := service.Capture(context.Background(), "camp-1", domain.UTM{}); err == nil {
		t.Fatalf("expected error for nil service")
	}
}

type cancelingGateway struct {
	cancel context.CancelFunc
	inner  *fakeGateway
}

func (c cancelingGateway) CreateInviteLink(ctx context.Context, token, chatID, name string, private bool) (string, error) {
	c.cancel()
	return c.inner.CreateInviteLink(ctx, token, chatID, name, private)
}
