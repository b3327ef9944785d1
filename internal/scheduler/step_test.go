package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
	"github.com/tgpromoter/engine/internal/registry"
	"github.com/tgpromoter/engine/internal/session"
	"github.com/tgpromoter/engine/internal/verification"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRemoteClient scripts one domain.SendResult per SendMessage call, in
// order, and a fixed GetMessages reply for verification probing.
type fakeRemoteClient struct {
	sendResults  []domain.SendResult
	sendCalls    int
	sentUsername []string
	getMessages  []ports.RemoteMessage
}

func (f *fakeRemoteClient) Connect(ctx context.Context) error    { return nil }
func (f *fakeRemoteClient) Disconnect(ctx context.Context) error { return nil }
func (f *fakeRemoteClient) IsConnected() bool                    { return true }
func (f *fakeRemoteClient) GetSelf(ctx context.Context) (ports.SelfIdentity, error) {
	return ports.SelfIdentity{}, nil
}
func (f *fakeRemoteClient) GetDialogs(ctx context.Context, limit int) ([]ports.Dialog, error) {
	return nil, nil
}
func (f *fakeRemoteClient) GetEntity(ctx context.Context, channelID domain.ChannelID) (ports.Dialog, error) {
	return ports.Dialog{}, nil
}
func (f *fakeRemoteClient) GetMessages(ctx context.Context, channelID domain.ChannelID, minID int64) ([]ports.RemoteMessage, error) {
	return f.getMessages, nil
}
func (f *fakeRemoteClient) SendMessage(ctx context.Context, target domain.ChannelID, username, message string) domain.SendResult {
	f.sentUsername = append(f.sentUsername, username)
	r := f.sendResults[f.sendCalls]
	f.sendCalls++
	return r
}

type fakeChannelStore struct {
	channel         *domain.Channel
	banned          bool
	removedVariant  string
	lastMessageTime int64
}

func (f *fakeChannelStore) FindOne(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	if f.channel == nil {
		return nil, nil
	}
	cp := *f.channel
	return &cp, nil
}
func (f *fakeChannelStore) Update(ctx context.Context, id domain.ChannelID, patch ports.ChannelPatch) error {
	if patch.Banned != nil {
		f.banned = *patch.Banned
	}
	if patch.LastMessageTime != nil {
		f.lastMessageTime = *patch.LastMessageTime
	}
	return nil
}
func (f *fakeChannelStore) RemoveFromAvailableMsgs(ctx context.Context, id domain.ChannelID, variantIndex string) error {
	f.removedVariant = variantIndex
	return nil
}
func (f *fakeChannelStore) ActiveChannels(ctx context.Context, limit, skip int, excludeIDs []domain.ChannelID) ([]domain.Channel, error) {
	return nil, nil
}
func (f *fakeChannelStore) Upsert(ctx context.Context, channel domain.Channel) error { return nil }

type fakeAccountStore struct {
	expired []domain.Mobile
}

func (f *fakeAccountStore) GetActiveClients(ctx context.Context) ([]ports.AccountRecord, error) {
	return nil, nil
}
func (f *fakeAccountStore) MarkExpired(ctx context.Context, predicate func(domain.Mobile) bool) error {
	if predicate("m1") {
		f.expired = append(f.expired, "m1")
	}
	return nil
}

// newTestSchedulerWith wires a Scheduler over a registry that hands out a
// single pre-built fakeRemoteClient for mobile "m1", and a pre-seeded
// session/channel pair ready for stepOne to act on.
func newTestSchedulerWith(t *testing.T, client *fakeRemoteClient, channel *domain.Channel, accounts *fakeAccountStore) (*Scheduler, domain.Mobile, domain.ChannelID) {
	t.Helper()
	m := domain.Mobile("m1")
	c := domain.ChannelID("c1")

	factory := func(ctx context.Context, mm domain.Mobile) (ports.RemoteClient, error) {
		return client, nil
	}

	var accts ports.AccountStore
	if accounts != nil {
		accts = accounts
	}

	reg := registry.New(factory, accts, testLogger(), time.Second, time.Second, 0)
	sessions := session.New(nil, rand.New(rand.NewSource(1)))
	sessions.SetChannels(m, []domain.ChannelID{c})
	sessions.SetPromoteMsgs(m, map[string]string{domain.FallbackVariant: "promo text"})

	store := &fakeChannelStore{channel: channel}

	s := &Scheduler{
		reg:      reg,
		sessions: sessions,
		queue:    verification.New(100, time.Hour.Milliseconds(), testLogger()),
		channels: store,
		accounts: accts,
		log:      testLogger(),
		cfg: Config{
			DeepProbeInterval: time.Hour,
			BannedWindow:      24 * time.Hour,
		},
		rng: rand.New(rand.NewSource(1)),
	}
	return s, m, c
}

func baseChannel(c domain.ChannelID) *domain.Channel {
	return &domain.Channel{
		ChannelID:       c,
		AvailableMsgs:   []string{domain.FallbackVariant},
		WordRestriction: 1, // suppress the randomized greeting prefix
	}
}

func TestStepOneSendsSuccessfullyAndQueuesVerification(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{domain.Sent{MessageID: 42}}}
	s, m, c := newTestSchedulerWith(t, client, baseChannel("c1"), nil)

	s.stepOne(context.Background(), m)

	if s.queue.Len(m) != 1 {
		t.Fatalf("expected one verification entry queued after a successful send, got %d", s.queue.Len(m))
	}
	if cur, _ := s.sessions.CurrentChannel(m); cur != c {
		t.Fatalf("expected the cursor to wrap back to the only channel, got %q", cur)
	}
	if len(client.sentUsername) != 1 || client.sentUsername[0] != "" {
		t.Fatalf("expected the first send attempt to target by numeric id, got usernames %v", client.sentUsername)
	}
}

func TestStepOneFloodWaitSetsSleep(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{domain.FloodWait{Seconds: 30}}}
	s, m, _ := newTestSchedulerWith(t, client, baseChannel("c1"), nil)

	s.stepOne(context.Background(), m)

	snap := s.sessions.Snapshot(m)
	if snap.SleepTime == 0 {
		t.Fatalf("expected SleepTime to be set after a flood wait result")
	}
	if s.queue.Len(m) != 0 {
		t.Fatalf("a flood-waited send must not be pushed to the verification queue")
	}
}

func TestStepOneChannelPrivateRetriesByUsernameAndSucceeds(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{
		domain.ChannelPrivate{},
		domain.Sent{MessageID: 7},
	}}
	ch := baseChannel("c1")
	ch.Username = "somechannel"
	s, m, _ := newTestSchedulerWith(t, client, ch, nil)

	s.stepOne(context.Background(), m)

	if client.sendCalls != 2 {
		t.Fatalf("expected a retry after CHANNEL_PRIVATE, got %d send calls", client.sendCalls)
	}
	if client.sentUsername[1] != "somechannel" {
		t.Fatalf("expected the retry to resolve by username, got %q", client.sentUsername[1])
	}
	if s.queue.Len(m) != 1 {
		t.Fatalf("expected the successful retry to be pushed to the verification queue")
	}
}

func TestStepOneChannelPrivateWithoutUsernameFails(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{domain.ChannelPrivate{}}}
	s, m, _ := newTestSchedulerWith(t, client, baseChannel("c1"), nil)

	s.stepOne(context.Background(), m)

	if client.sendCalls != 1 {
		t.Fatalf("expected no retry when the channel has no username, got %d send calls", client.sendCalls)
	}
	snap := s.sessions.Snapshot(m)
	if snap.FailedCount != 1 {
		t.Fatalf("expected the failed count to be incremented, got %d", snap.FailedCount)
	}
}

func TestStepOneTerminalMarksAccountExpired(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{
		domain.Terminal{Code: domain.CodeUserDeactivated, Cause: errors.New("USER_DEACTIVATED")},
	}}
	accounts := &fakeAccountStore{}
	s, m, _ := newTestSchedulerWith(t, client, baseChannel("c1"), accounts)

	s.stepOne(context.Background(), m)

	if len(accounts.expired) != 1 {
		t.Fatalf("expected the mobile to be marked expired after a terminal send result, got %v", accounts.expired)
	}
}

func TestStepOneSkipsBannedChannelWithinWindow(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{domain.Sent{MessageID: 1}}}
	s, m, c := newTestSchedulerWith(t, client, baseChannel("c1"), nil)

	s.sessions.RecordOutcome(m, c, outcomeFailure("USER_BANNED_IN_CHANNEL"), nowMillis())

	s.stepOne(context.Background(), m)

	if client.sendCalls != 0 {
		t.Fatalf("expected the send to be skipped for a channel banned within the window, got %d calls", client.sendCalls)
	}
}

func TestStepOneSkipsWhenAlreadyPromoting(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{domain.Sent{MessageID: 1}}}
	s, m, _ := newTestSchedulerWith(t, client, baseChannel("c1"), nil)

	if !s.sessions.TryBeginPromoting(m) {
		t.Fatalf("expected to claim the promoting guard")
	}

	s.stepOne(context.Background(), m)

	if client.sendCalls != 0 {
		t.Fatalf("expected stepOne to bail out while a promotion is already in flight for the mobile, got %d calls", client.sendCalls)
	}
}

func TestDrainRefreshesChannelLastMessageTimeOnSurvival(t *testing.T) {
	client := &fakeRemoteClient{sendResults: []domain.SendResult{domain.Sent{MessageID: 99}}, getMessages: []ports.RemoteMessage{{ID: 99}}}
	s, m, c := newTestSchedulerWith(t, client, baseChannel("c1"), nil)
	store := s.channels.(*fakeChannelStore)

	s.stepOne(context.Background(), m)
	if s.queue.Len(m) != 1 {
		t.Fatalf("expected a verification entry to be queued")
	}

	s.queue.Drain(context.Background(), nowMillis()+time.Hour.Milliseconds()*2, s.verificationDeps)

	if store.lastMessageTime == 0 {
		t.Fatalf("expected the surviving probe to refresh the channel's lastMessageTime")
	}
	_ = c
}
