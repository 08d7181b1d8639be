package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zapgate/campaign-service/internal/domain"
)

//
// Test fakes – only for this file.
//

type fakeRecipients struct {
	byMessageID map[string]*domain.Recipient
	byID        map[int64]*domain.Recipient

	advanceCalls []advanceCall
	optOutCalls  []int64
}

type advanceCall struct {
	id int64
	to domain.RecipientStatus
}

func (f *fakeRecipients) GetByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error) {
	r, ok := f.byMessageID[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRecipients) GetByIDAndCampaign(ctx context.Context, id, campaignID int64) (*domain.Recipient, error) {
	r, ok := f.byID[id]
	if !ok || r.CampaignID != campaignID {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRecipients) AdvanceStatus(ctx context.Context, id int64, to domain.RecipientStatus, at time.Time) (bool, error) {
	f.advanceCalls = append(f.advanceCalls, advanceCall{id: id, to: to})
	r, ok := f.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if to.Rank() <= r.Status.Rank() {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (f *fakeRecipients) MarkOptedOut(ctx context.Context, id int64, at time.Time) (bool, error) {
	r, ok := f.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if r.Status == domain.RecipientOptedOut {
		return false, nil
	}
	r.Status = domain.RecipientOptedOut
	f.optOutCalls = append(f.optOutCalls, id)
	return true, nil
}

type fakeCampaigns struct {
	optOutIncrs int
}

func (f *fakeCampaigns) IncrementOptedOut(ctx context.Context, id int64) error {
	f.optOutIncrs++
	return nil
}

type fakeLogs struct {
	entries []domain.SendingLog
}

func (f *fakeLogs) Append(ctx context.Context, entry *domain.SendingLog) error {
	f.entries = append(f.entries, *entry)
	return nil
}

type fakeRefCache struct {
	refs map[string][2]int64
	hits int
}

func (f *fakeRefCache) GetMessageRef(ctx context.Context, messageID string) (int64, int64, error) {
	ref, ok := f.refs[messageID]
	if !ok {
		return 0, 0, errors.New("cache miss")
	}
	f.hits++
	return ref[0], ref[1], nil
}

//
// Helpers
//

func sentRecipient(id, campaignID int64, messageID string) *domain.Recipient {
	return &domain.Recipient{
		ID:         id,
		CampaignID: campaignID,
		Number:     "+905551112233",
		Status:     domain.RecipientSent,
		MessageID:  &messageID,
	}
}

func newTestReconciler(recipient *domain.Recipient, cache messageRefCache) (*Reconciler, *fakeRecipients, *fakeCampaigns, *fakeLogs) {
	recipients := &fakeRecipients{
		byMessageID: map[string]*domain.Recipient{},
		byID:        map[int64]*domain.Recipient{},
	}
	if recipient != nil {
		recipients.byID[recipient.ID] = recipient
		if recipient.MessageID != nil {
			recipients.byMessageID[*recipient.MessageID] = recipient
		}
	}
	campaigns := &fakeCampaigns{}
	logs := &fakeLogs{}
	return NewReconciler(recipients, campaigns, logs, cache), recipients, campaigns, logs
}

//
// Delivery status tests
//

func TestApplyDeliveryStatus_AdvancesToDelivered(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(1, 10, "msg-1")
	rec, _, _, logs := newTestReconciler(recipient, nil)

	event := domain.DeliveryStatusEvent{MessageID: "msg-1", Ack: domain.AckDevice, Timestamp: time.Now()}
	if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
		t.Fatalf("ApplyDeliveryStatus returned error: %v", err)
	}

	if recipient.Status != domain.RecipientDelivered {
		t.Fatalf("expected delivered, got %s", recipient.Status)
	}
	if len(logs.entries) != 1 || logs.entries[0].Status != domain.LogDeliveryUpdate {
		t.Fatalf("expected one delivery_update log entry, got %+v", logs.entries)
	}
}

func TestApplyDeliveryStatus_LateAckNeverRegresses(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(1, 10, "msg-1")
	recipient.Status = domain.RecipientRead
	rec, _, _, logs := newTestReconciler(recipient, nil)

	// A delayed "delivered" receipt arriving after "read".
	event := domain.DeliveryStatusEvent{MessageID: "msg-1", Ack: domain.AckDevice}
	if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
		t.Fatalf("ApplyDeliveryStatus returned error: %v", err)
	}

	if recipient.Status != domain.RecipientRead {
		t.Fatalf("late ack regressed status to %s", recipient.Status)
	}
	if len(logs.entries) != 0 {
		t.Errorf("a no-op apply must not produce a log entry")
	}
}

func TestApplyDeliveryStatus_DuplicateEventIsIdempotent(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(1, 10, "msg-1")
	rec, _, _, logs := newTestReconciler(recipient, nil)

	event := domain.DeliveryStatusEvent{MessageID: "msg-1", Ack: domain.AckRead}
	for i := 0; i < 3; i++ {
		if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
			t.Fatalf("apply %d returned error: %v", i+1, err)
		}
	}

	if recipient.Status != domain.RecipientRead {
		t.Fatalf("expected read, got %s", recipient.Status)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected exactly one log entry for three duplicates, got %d", len(logs.entries))
	}
}

func TestApplyDeliveryStatus_UnmappedAckIsNoOp(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(1, 10, "msg-1")
	rec, recipients, _, _ := newTestReconciler(recipient, nil)

	for _, ack := range []int{domain.AckError, domain.AckPending, 99} {
		event := domain.DeliveryStatusEvent{MessageID: "msg-1", Ack: ack}
		if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
			t.Fatalf("ack %d returned error: %v", ack, err)
		}
	}

	if len(recipients.advanceCalls) != 0 {
		t.Fatalf("unmapped acks must never reach storage, got %+v", recipients.advanceCalls)
	}
}

func TestApplyDeliveryStatus_UnknownMessageIsDropped(t *testing.T) {
	ctx := context.Background()

	rec, _, _, logs := newTestReconciler(nil, nil)

	event := domain.DeliveryStatusEvent{MessageID: "never-sent", Ack: domain.AckDevice}
	if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
		t.Fatalf("orphan event must be dropped, not errored: %v", err)
	}
	if len(logs.entries) != 0 {
		t.Errorf("orphan event must not produce a log entry")
	}
}

func TestApplyDeliveryStatus_ResolvesThroughCache(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(1, 10, "msg-1")
	cache := &fakeRefCache{refs: map[string][2]int64{"msg-1": {10, 1}}}
	rec, _, _, _ := newTestReconciler(recipient, cache)

	event := domain.DeliveryStatusEvent{MessageID: "msg-1", Ack: domain.AckDevice}
	if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
		t.Fatalf("ApplyDeliveryStatus returned error: %v", err)
	}

	if cache.hits != 1 {
		t.Errorf("expected cache hit, got %d", cache.hits)
	}
	if recipient.Status != domain.RecipientDelivered {
		t.Errorf("expected delivered, got %s", recipient.Status)
	}
}

func TestApplyDeliveryStatus_CacheMissFallsBackToDB(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(1, 10, "msg-1")
	cache := &fakeRefCache{refs: map[string][2]int64{}}
	rec, _, _, _ := newTestReconciler(recipient, cache)

	event := domain.DeliveryStatusEvent{MessageID: "msg-1", Ack: domain.AckDevice}
	if err := rec.ApplyDeliveryStatus(ctx, event); err != nil {
		t.Fatalf("ApplyDeliveryStatus returned error: %v", err)
	}
	if recipient.Status != domain.RecipientDelivered {
		t.Errorf("expected delivered after DB fallback, got %s", recipient.Status)
	}
}

//
// Reply tests
//

func TestApplyReply_OptOutMarksRecipientAndCountsOnce(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(7, 3, "msg-7")
	rec, _, campaigns, logs := newTestReconciler(recipient, nil)

	event := domain.ReplyEvent{
		ButtonID:  domain.OptOutButtonID(3, 7),
		From:      "+905551112233",
		Timestamp: time.Now(),
	}

	for i := 0; i < 2; i++ {
		if err := rec.ApplyReply(ctx, event); err != nil {
			t.Fatalf("apply %d returned error: %v", i+1, err)
		}
	}

	if recipient.Status != domain.RecipientOptedOut {
		t.Fatalf("expected opted_out, got %s", recipient.Status)
	}
	if campaigns.optOutIncrs != 1 {
		t.Fatalf("expected opt-out counted once, got %d", campaigns.optOutIncrs)
	}
	if len(logs.entries) != 1 || logs.entries[0].Status != domain.LogOptOut {
		t.Fatalf("expected one opt_out log entry, got %+v", logs.entries)
	}
}

func TestApplyReply_CustomButtonAdvancesToReplied(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(7, 3, "msg-7")
	recipient.Status = domain.RecipientRead
	rec, _, campaigns, logs := newTestReconciler(recipient, nil)

	event := domain.ReplyEvent{
		ButtonID:  "more_info",
		MessageID: "msg-7",
		From:      "+905551112233",
		Timestamp: time.Now(),
	}

	for i := 0; i < 2; i++ {
		if err := rec.ApplyReply(ctx, event); err != nil {
			t.Fatalf("apply %d returned error: %v", i+1, err)
		}
	}

	if recipient.Status != domain.RecipientReplied {
		t.Fatalf("expected replied, got %s", recipient.Status)
	}
	if len(logs.entries) != 1 || logs.entries[0].Status != domain.LogReply {
		t.Fatalf("expected one reply log entry, got %+v", logs.entries)
	}
	if campaigns.optOutIncrs != 0 {
		t.Errorf("a plain reply must not count as an opt-out")
	}
}

func TestApplyReply_OptedOutRecipientNeverRegressesToReplied(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(7, 3, "msg-7")
	recipient.Status = domain.RecipientOptedOut
	rec, _, _, logs := newTestReconciler(recipient, nil)

	event := domain.ReplyEvent{ButtonID: "more_info", MessageID: "msg-7"}
	if err := rec.ApplyReply(ctx, event); err != nil {
		t.Fatalf("ApplyReply returned error: %v", err)
	}

	if recipient.Status != domain.RecipientOptedOut {
		t.Fatalf("reply regressed an opted-out recipient to %s", recipient.Status)
	}
	if len(logs.entries) != 0 {
		t.Errorf("a no-op apply must not produce a log entry")
	}
}

func TestApplyReply_UncorrelatableReplyIsDropped(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(7, 3, "msg-7")
	rec, recipients, campaigns, _ := newTestReconciler(recipient, nil)

	// Malformed opt-out controls without a message ID, and a well-formed
	// control for a message this service never sent.
	for _, event := range []domain.ReplyEvent{
		{ButtonID: ""},
		{ButtonID: "optout"},
		{ButtonID: "optout:abc:7"},
		{ButtonID: "optout:3"},
		{ButtonID: "subscribe:3:7"},
		{ButtonID: "more_info", MessageID: "never-sent"},
	} {
		if err := rec.ApplyReply(ctx, event); err != nil {
			t.Fatalf("event %+v must be dropped, not errored: %v", event, err)
		}
	}

	if len(recipients.optOutCalls) != 0 || len(recipients.advanceCalls) != 0 || campaigns.optOutIncrs != 0 {
		t.Fatalf("uncorrelatable replies must never reach storage")
	}
}

func TestApplyReply_MismatchedCampaignIsDropped(t *testing.T) {
	ctx := context.Background()

	recipient := sentRecipient(7, 3, "msg-7")
	rec, _, campaigns, _ := newTestReconciler(recipient, nil)

	// Recipient 7 belongs to campaign 3, not 99.
	event := domain.ReplyEvent{ButtonID: domain.OptOutButtonID(99, 7)}
	if err := rec.ApplyReply(ctx, event); err != nil {
		t.Fatalf("mismatched control must be dropped, not errored: %v", err)
	}

	if recipient.Status == domain.RecipientOptedOut {
		t.Fatalf("recipient must not opt out of a campaign it is not in")
	}
	if campaigns.optOutIncrs != 0 {
		t.Errorf("expected no opt-out count, got %d", campaigns.optOutIncrs)
	}
}
