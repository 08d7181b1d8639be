package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/internal/domain"
)

//
// Test fakes – only for this file.
//

type fakeCampaigns struct {
	campaigns map[int64]*domain.Campaign

	transitions   []string
	started       []int64
	finished      []finishCall
	sentIncrs     int
	failedIncrs   int
	transitionErr error
}

type finishCall struct {
	id     int64
	status domain.CampaignStatus
}

func newFakeCampaigns(cs ...*domain.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{campaigns: make(map[int64]*domain.Campaign)}
	for _, c := range cs {
		f.campaigns[c.ID] = c
	}
	return f
}

func (f *fakeCampaigns) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) NextRunnable(ctx context.Context, now time.Time) (*domain.Campaign, error) {
	for _, c := range f.campaigns {
		if c.Status == domain.CampaignPending || c.Status == domain.CampaignRunning {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaigns) TransitionStatus(ctx context.Context, id int64, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.transitions = append(f.transitions, fmt.Sprintf("%d->%s", id, to))
	if c, ok := f.campaigns[id]; ok {
		c.Status = to
	}
	return nil
}

func (f *fakeCampaigns) Finish(ctx context.Context, id int64, status domain.CampaignStatus, endTime time.Time) error {
	f.finished = append(f.finished, finishCall{id: id, status: status})
	if c, ok := f.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

func (f *fakeCampaigns) MarkStarted(ctx context.Context, id int64, startTime time.Time) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeCampaigns) IncrementSent(ctx context.Context, id int64) error {
	f.sentIncrs++
	return nil
}

func (f *fakeCampaigns) IncrementFailed(ctx context.Context, id int64) error {
	f.failedIncrs++
	return nil
}

type fakeRecipients struct {
	recipients []*domain.Recipient

	claimErr    error
	markSentErr error

	sentCalls   []sentCall
	failedCalls []failedCall
}

type sentCall struct {
	id        int64
	messageID string
}

type failedCall struct {
	id     int64
	reason string
}

func (f *fakeRecipients) NextPending(ctx context.Context, campaignID int64) (*domain.Recipient, error) {
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && r.Status == domain.RecipientPending {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRecipients) Claim(ctx context.Context, id int64) error {
	if f.claimErr != nil {
		// A concurrent worker won the row; it is no longer pending.
		for _, r := range f.recipients {
			if r.ID == id {
				r.Status = domain.RecipientQueued
			}
		}
		return f.claimErr
	}
	for _, r := range f.recipients {
		if r.ID == id {
			if r.Status != domain.RecipientPending {
				return domain.ErrAlreadyClaimed
			}
			r.Status = domain.RecipientQueued
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeRecipients) MarkSent(ctx context.Context, id int64, messageID string, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.markSentErr != nil {
		return f.markSentErr
	}
	f.sentCalls = append(f.sentCalls, sentCall{id: id, messageID: messageID})
	for _, r := range f.recipients {
		if r.ID == id {
			r.Status = domain.RecipientSent
		}
	}
	return nil
}

func (f *fakeRecipients) MarkFailed(ctx context.Context, id int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.failedCalls = append(f.failedCalls, failedCall{id: id, reason: reason})
	for _, r := range f.recipients {
		if r.ID == id {
			r.Status = domain.RecipientFailed
		}
	}
	return nil
}

type fakeLogs struct {
	entries []domain.SendingLog
}

func (f *fakeLogs) Append(ctx context.Context, entry *domain.SendingLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLogs) byStatus(status domain.SendingLogStatus) []domain.SendingLog {
	var out []domain.SendingLog
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type fakeSelector struct {
	instance *domain.Instance
	err      error
	calls    int
}

func (f *fakeSelector) Select(ctx context.Context, campaign *domain.Campaign) (*domain.Instance, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.instance, nil
}

// fakeGateway replays scripted outcomes in order; a nil result entry means a
// transport error for that call.
type fakeGateway struct {
	results []*domain.SendResult

	textCalls   []textCall
	buttonCalls []*domain.ButtonsPayload
}

type textCall struct {
	instance string
	number   string
	text     string
}

func (g *fakeGateway) next() (*domain.SendResult, error) {
	if len(g.results) == 0 {
		return &domain.SendResult{Success: true, MessageID: "default-id"}, nil
	}
	r := g.results[0]
	g.results = g.results[1:]
	if r == nil {
		return nil, fmt.Errorf("simulated transport error")
	}
	return r, nil
}

func (g *fakeGateway) SendText(ctx context.Context, instance, number, text string) (*domain.SendResult, error) {
	g.textCalls = append(g.textCalls, textCall{instance: instance, number: number, text: text})
	return g.next()
}

func (g *fakeGateway) SendButtons(ctx context.Context, instance, number string, payload *domain.ButtonsPayload) (*domain.SendResult, error) {
	g.buttonCalls = append(g.buttonCalls, payload)
	return g.next()
}

type fakeCache struct {
	refs chan string
}

func (c *fakeCache) CacheMessageRef(ctx context.Context, messageID string, campaignID, recipientID int64) error {
	if c.refs != nil {
		c.refs <- messageID
	}
	return nil
}

//
// Helpers
//

func testCampaign(id int64) *domain.Campaign {
	return &domain.Campaign{
		ID:          id,
		Name:        "Launch",
		MessageText: "Hello there",
		Status:      domain.CampaignPending,
	}
}

func testRecipients(campaignID int64, count int) []*domain.Recipient {
	out := make([]*domain.Recipient, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, &domain.Recipient{
			ID:         int64(i + 1),
			CampaignID: campaignID,
			Number:     fmt.Sprintf("+90555000%04d", i+1),
			Status:     domain.RecipientPending,
		})
	}
	return out
}

func newTestService(campaigns *fakeCampaigns, recipients *fakeRecipients, logs *fakeLogs, selector *fakeSelector, gateway *fakeGateway, cache correlationCache) *DispatchService {
	cfg := environments.DispatchConfig{
		Mode:            environments.DispatchModeInline,
		MaxSendAttempts: 1,
	}
	return NewDispatchService(campaigns, recipients, logs, selector, gateway, cache, cfg)
}

//
// Tests
//

func TestRunCampaign_SendsAllAndCompletes(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 3)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a", Status: domain.InstanceConnected}}
	gateway := &fakeGateway{results: []*domain.SendResult{
		{Success: true, MessageID: "msg-1"},
		{Success: true, MessageID: "msg-2"},
		{Success: true, MessageID: "msg-3"},
	}}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	if err := svc.RunCampaign(ctx, campaign); err != nil {
		t.Fatalf("RunCampaign returned error: %v", err)
	}

	if len(gateway.textCalls) != 3 {
		t.Fatalf("expected 3 gateway calls, got %d", len(gateway.textCalls))
	}
	if gateway.textCalls[0].instance != "line-a" {
		t.Errorf("expected instance %q, got %q", "line-a", gateway.textCalls[0].instance)
	}

	if len(recipients.sentCalls) != 3 {
		t.Fatalf("expected 3 MarkSent calls, got %d", len(recipients.sentCalls))
	}
	if recipients.sentCalls[0].messageID != "msg-1" {
		t.Errorf("expected first messageID %q, got %q", "msg-1", recipients.sentCalls[0].messageID)
	}

	if campaigns.sentIncrs != 3 {
		t.Errorf("expected sent counter incremented 3 times, got %d", campaigns.sentIncrs)
	}

	if len(campaigns.started) != 1 {
		t.Errorf("expected start time stamped once, got %d", len(campaigns.started))
	}

	if len(campaigns.finished) != 1 || campaigns.finished[0].status != domain.CampaignCompleted {
		t.Fatalf("expected campaign to finish completed, got %+v", campaigns.finished)
	}

	if got := len(logs.byStatus(domain.LogSuccess)); got != 3 {
		t.Errorf("expected 3 success log entries, got %d", got)
	}
}

func TestRunCampaign_PausesWhenNoInstanceAvailable(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 2)}
	logs := &fakeLogs{}
	selector := &fakeSelector{err: domain.ErrNoInstanceAvailable}
	gateway := &fakeGateway{}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	if err := svc.RunCampaign(ctx, campaign); err != nil {
		t.Fatalf("expected pause to be a clean stop, got error: %v", err)
	}

	if len(campaigns.finished) != 1 || campaigns.finished[0].status != domain.CampaignPaused {
		t.Fatalf("expected campaign paused, got %+v", campaigns.finished)
	}

	if len(gateway.textCalls) != 0 {
		t.Errorf("expected no gateway calls, got %d", len(gateway.textCalls))
	}

	// Recipients stay pending for the next pass.
	for _, r := range recipients.recipients {
		if r.Status != domain.RecipientPending {
			t.Errorf("recipient %d should remain pending, got %s", r.ID, r.Status)
		}
	}
}

func TestRunCampaign_GatewayRejectionIsolatesRecipient(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 2)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{results: []*domain.SendResult{
		{Success: false, Error: "number not on network", Details: json.RawMessage(`{"code":404}`)},
		{Success: true, MessageID: "msg-2"},
	}}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	if err := svc.RunCampaign(ctx, campaign); err != nil {
		t.Fatalf("RunCampaign returned error: %v", err)
	}

	if len(recipients.failedCalls) != 1 {
		t.Fatalf("expected 1 MarkFailed call, got %d", len(recipients.failedCalls))
	}
	if recipients.failedCalls[0].reason != "number not on network" {
		t.Errorf("unexpected failure reason %q", recipients.failedCalls[0].reason)
	}

	if len(recipients.sentCalls) != 1 || recipients.sentCalls[0].id != 2 {
		t.Fatalf("expected second recipient to still be sent, got %+v", recipients.sentCalls)
	}

	if campaigns.failedIncrs != 1 || campaigns.sentIncrs != 1 {
		t.Errorf("expected counters failed=1 sent=1, got failed=%d sent=%d",
			campaigns.failedIncrs, campaigns.sentIncrs)
	}

	if len(campaigns.finished) != 1 || campaigns.finished[0].status != domain.CampaignCompleted {
		t.Fatalf("expected campaign completed despite the rejection, got %+v", campaigns.finished)
	}

	if got := len(logs.byStatus(domain.LogAPIError)); got != 1 {
		t.Errorf("expected 1 api_error log entry, got %d", got)
	}
}

func TestRunCampaign_NoContentFailsWithoutGatewayCall(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.MessageText = ""
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	if err := svc.RunCampaign(ctx, campaign); err != nil {
		t.Fatalf("RunCampaign returned error: %v", err)
	}

	if len(gateway.textCalls)+len(gateway.buttonCalls) != 0 {
		t.Fatalf("expected no gateway calls for a contentless campaign")
	}

	if len(recipients.failedCalls) != 1 {
		t.Fatalf("expected recipient marked failed, got %d calls", len(recipients.failedCalls))
	}

	if campaigns.failedIncrs != 1 {
		t.Errorf("expected failed counter incremented once, got %d", campaigns.failedIncrs)
	}
}

func TestRunCampaign_SkipsRecipientLostToConcurrentClaim(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{
		recipients: testRecipients(1, 1),
		claimErr:   domain.ErrAlreadyClaimed,
	}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	if err := svc.RunCampaign(ctx, campaign); err != nil {
		t.Fatalf("RunCampaign returned error: %v", err)
	}

	if len(gateway.textCalls) != 0 {
		t.Errorf("expected no gateway call for a lost claim")
	}
	if len(recipients.failedCalls) != 0 {
		t.Errorf("a lost claim must not mark the recipient failed")
	}
}

func TestRunCampaign_RejectsTerminalCampaign(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignCancelled
	campaigns := newFakeCampaigns(campaign)

	svc := newTestService(campaigns, &fakeRecipients{}, &fakeLogs{}, &fakeSelector{}, &fakeGateway{}, nil)

	if err := svc.RunCampaign(ctx, campaign); err == nil {
		t.Fatalf("expected error dispatching a cancelled campaign")
	}
}

func TestExecuteSend_RetriesTransportErrorThenSucceeds(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{results: []*domain.SendResult{
		nil, // transport error
		{Success: true, MessageID: "msg-retry"},
	}}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	prepared, err := svc.Prepare(ctx, campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	if err := svc.ExecuteSend(ctx, prepared, 2); err != nil {
		t.Fatalf("ExecuteSend returned error: %v", err)
	}

	if len(gateway.textCalls) != 2 {
		t.Fatalf("expected 2 gateway attempts, got %d", len(gateway.textCalls))
	}
	if len(recipients.sentCalls) != 1 || recipients.sentCalls[0].messageID != "msg-retry" {
		t.Fatalf("expected MarkSent with retry message id, got %+v", recipients.sentCalls)
	}
}

func TestExecuteSend_ExhaustedRetriesMarkFailed(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{results: []*domain.SendResult{nil, nil}}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	prepared, err := svc.Prepare(ctx, campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	if err := svc.ExecuteSend(ctx, prepared, 2); err == nil {
		t.Fatalf("expected error after exhausted retries")
	}

	if len(recipients.failedCalls) != 1 {
		t.Fatalf("expected recipient marked failed after exhausted retries, got %d", len(recipients.failedCalls))
	}
	if campaigns.failedIncrs != 1 {
		t.Errorf("expected failed counter incremented, got %d", campaigns.failedIncrs)
	}
}

func TestExecuteSend_SuccessCachesMessageRef(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{results: []*domain.SendResult{{Success: true, MessageID: "msg-cache"}}}
	cache := &fakeCache{refs: make(chan string, 1)}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, cache)

	prepared, err := svc.Prepare(ctx, campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if err := svc.ExecuteSend(ctx, prepared, 1); err != nil {
		t.Fatalf("ExecuteSend returned error: %v", err)
	}

	select {
	case got := <-cache.refs:
		if got != "msg-cache" {
			t.Errorf("expected cached ref %q, got %q", "msg-cache", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected message ref to be cached")
	}
}

func TestExecuteSend_CancelledContextStillReleasesClaim(t *testing.T) {
	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{results: []*domain.SendResult{nil, nil}} // transport errors

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	prepared, err := svc.Prepare(context.Background(), campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	// Shutdown lands between the failed attempt and its retry.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.ExecuteSend(ctx, prepared, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if got := recipients.recipients[0].Status; got != domain.RecipientFailed {
		t.Fatalf("recipient left in non-terminal status %q after cancellation", got)
	}
	if len(recipients.failedCalls) != 1 {
		t.Fatalf("expected 1 MarkFailed call, got %d", len(recipients.failedCalls))
	}
	if got := len(logs.byStatus(domain.LogAPIError)); got != 1 {
		t.Errorf("expected 1 failure log entry, got %d", got)
	}
	if len(gateway.textCalls) != 1 {
		t.Errorf("expected 1 gateway attempt before cancellation, got %d", len(gateway.textCalls))
	}
}

func TestExecuteSend_LogsAttemptBeforeOutcome(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	logs := &fakeLogs{}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}
	gateway := &fakeGateway{results: []*domain.SendResult{{Success: true, MessageID: "msg-1"}}}

	svc := newTestService(campaigns, recipients, logs, selector, gateway, nil)

	prepared, err := svc.Prepare(ctx, campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if err := svc.ExecuteSend(ctx, prepared, 1); err != nil {
		t.Fatalf("ExecuteSend returned error: %v", err)
	}

	if got := len(logs.byStatus(domain.LogAttempted)); got != 1 {
		t.Fatalf("expected 1 attempted log entry, got %d", got)
	}
	if len(logs.entries) < 2 || logs.entries[0].Status != domain.LogAttempted {
		t.Fatalf("attempted entry must precede the outcome, got %+v", logs.entries)
	}
	if got := len(logs.byStatus(domain.LogSuccess)); got != 1 {
		t.Errorf("expected 1 success log entry, got %d", got)
	}
}

func TestPrepare_AppendsOptOutButton(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaign.Buttons = domain.ButtonList{{ID: "more-info", Label: "Tell me more"}}
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}

	svc := newTestService(campaigns, recipients, &fakeLogs{}, selector, &fakeGateway{}, nil)

	prepared, err := svc.Prepare(ctx, campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	if prepared.Payload.Kind != domain.PayloadButtons {
		t.Fatalf("expected buttons payload, got %s", prepared.Payload.Kind)
	}

	buttons := prepared.Payload.Buttons.Buttons
	if len(buttons) != 2 {
		t.Fatalf("expected campaign button plus opt-out, got %d buttons", len(buttons))
	}

	want := domain.OptOutButtonID(campaign.ID, recipients.recipients[0].ID)
	if buttons[1].ID != want {
		t.Errorf("expected opt-out control %q, got %q", want, buttons[1].ID)
	}

	// The campaign's own button list must stay untouched.
	if len(campaign.Buttons) != 1 {
		t.Errorf("campaign button list was mutated, now has %d entries", len(campaign.Buttons))
	}
}

func TestPrepare_TextOnlyCampaignKeepsPlainPayload(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaign.Status = domain.CampaignRunning
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}

	svc := newTestService(campaigns, recipients, &fakeLogs{}, selector, &fakeGateway{}, nil)

	prepared, err := svc.Prepare(ctx, campaign, recipients.recipients[0])
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	if prepared.Payload.Kind != domain.PayloadText {
		t.Fatalf("expected text payload, got %s", prepared.Payload.Kind)
	}
	if prepared.Payload.Text != "Hello there" {
		t.Errorf("unexpected rendered text %q", prepared.Payload.Text)
	}
}

func TestEnqueueCampaign_HandsEveryUnitToQueue(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 3)}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}

	svc := newTestService(campaigns, recipients, &fakeLogs{}, selector, &fakeGateway{}, nil)

	var units []*PreparedSend
	err := svc.EnqueueCampaign(ctx, campaign, func(p *PreparedSend) error {
		units = append(units, p)
		return nil
	})
	if err != nil {
		t.Fatalf("EnqueueCampaign returned error: %v", err)
	}

	if len(units) != 3 {
		t.Fatalf("expected 3 enqueued units, got %d", len(units))
	}

	seen := make(map[string]bool)
	for _, u := range units {
		if u.UnitID == "" {
			t.Errorf("unit missing id")
		}
		if seen[u.UnitID] {
			t.Errorf("duplicate unit id %s", u.UnitID)
		}
		seen[u.UnitID] = true
		if u.Recipient.Status != domain.RecipientQueued {
			t.Errorf("recipient %d not claimed before enqueue", u.Recipient.ID)
		}
	}

	// Enqueue defers execution, so the campaign must not be finished yet.
	if len(campaigns.finished) != 0 {
		t.Errorf("campaign must stay running while units are in flight, got %+v", campaigns.finished)
	}
}

func TestEnqueueCampaign_QueueRefusalRevertsToPending(t *testing.T) {
	ctx := context.Background()

	campaign := testCampaign(1)
	campaigns := newFakeCampaigns(campaign)
	recipients := &fakeRecipients{recipients: testRecipients(1, 1)}
	selector := &fakeSelector{instance: &domain.Instance{ID: 7, Name: "line-a"}}

	svc := newTestService(campaigns, recipients, &fakeLogs{}, selector, &fakeGateway{}, nil)

	err := svc.EnqueueCampaign(ctx, campaign, func(p *PreparedSend) error {
		return errors.New("queue full")
	})
	if err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}

	reverted := false
	for _, tr := range campaigns.transitions {
		if tr == "1->pending" {
			reverted = true
		}
	}
	if !reverted {
		t.Errorf("expected campaign reverted to pending after queue refusal, transitions: %v", campaigns.transitions)
	}
}

func TestRunNext_NoRunnableCampaignIsQuiet(t *testing.T) {
	ctx := context.Background()

	campaigns := newFakeCampaigns()
	svc := newTestService(campaigns, &fakeRecipients{}, &fakeLogs{}, &fakeSelector{}, &fakeGateway{}, nil)

	ran, err := svc.RunNext(ctx)
	if err != nil {
		t.Fatalf("RunNext returned error: %v", err)
	}
	if ran {
		t.Fatalf("expected no campaign to run")
	}
}

func TestRandomPacing_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := RandomPacing(2, 5)
		if d < 2*time.Second || d > 5*time.Second {
			t.Fatalf("pacing %v outside [2s,5s]", d)
		}
	}

	if d := RandomPacing(0, 0); d != 0 {
		t.Errorf("expected zero bounds to disable pacing, got %v", d)
	}
	if d := RandomPacing(5, 2); d != 0 {
		t.Errorf("expected inverted bounds to disable pacing, got %v", d)
	}
}
