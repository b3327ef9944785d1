package rotation

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
	"github.com/tgpromoter/engine/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct{}

func (fakeClient) Connect(ctx context.Context) error    { return nil }
func (fakeClient) Disconnect(ctx context.Context) error { return nil }
func (fakeClient) IsConnected() bool                    { return true }
func (fakeClient) GetSelf(ctx context.Context) (ports.SelfIdentity, error) {
	return ports.SelfIdentity{}, nil
}
func (fakeClient) GetDialogs(ctx context.Context, limit int) ([]ports.Dialog, error) { return nil, nil }
func (fakeClient) GetEntity(ctx context.Context, channelID domain.ChannelID) (ports.Dialog, error) {
	return ports.Dialog{}, nil
}
func (fakeClient) GetMessages(ctx context.Context, channelID domain.ChannelID, minID int64) ([]ports.RemoteMessage, error) {
	return nil, nil
}
func (fakeClient) SendMessage(ctx context.Context, target domain.ChannelID, username, message string) domain.SendResult {
	return domain.Sent{}
}

func newTestRegistry() *registry.Registry {
	factory := func(ctx context.Context, m domain.Mobile) (ports.RemoteClient, error) {
		return fakeClient{}, nil
	}
	return registry.New(factory, nil, testLogger(), time.Second, time.Second, 0)
}

func TestInitializeSelectsBoundedActiveSubset(t *testing.T) {
	reg := newTestRegistry()
	pool := []domain.Mobile{"m1", "m2", "m3", "m4", "m5"}
	candidatePool := func(ctx context.Context) []domain.Mobile { return pool }

	e := New(reg, testLogger(), candidatePool, 2, time.Hour, time.Minute, 2*time.Hour, 0.1, 10, rand.New(rand.NewSource(1)))
	e.Initialize(context.Background())

	active := e.CurrentActive()
	if len(active) != 2 {
		t.Fatalf("expected active subset bounded to activeSlots=2, got %d", len(active))
	}

	availSet := make(map[domain.Mobile]bool)
	for _, m := range e.Available() {
		availSet[m] = true
	}
	for _, m := range active {
		if !availSet[m] {
			t.Errorf("active mobile %s is not in available pool", m)
		}
	}
}

func TestInitializeCapsAtPoolSize(t *testing.T) {
	reg := newTestRegistry()
	pool := []domain.Mobile{"m1", "m2"}
	candidatePool := func(ctx context.Context) []domain.Mobile { return pool }

	e := New(reg, testLogger(), candidatePool, 10, time.Hour, time.Minute, 2*time.Hour, 0.1, 10, rand.New(rand.NewSource(1)))
	e.Initialize(context.Background())

	if got := len(e.CurrentActive()); got != 2 {
		t.Fatalf("expected active subset capped at pool size 2, got %d", got)
	}
}

func TestRotateRecordsHistory(t *testing.T) {
	reg := newTestRegistry()
	pool := []domain.Mobile{"m1", "m2", "m3"}
	candidatePool := func(ctx context.Context) []domain.Mobile { return pool }

	e := New(reg, testLogger(), candidatePool, 2, time.Hour, time.Minute, 2*time.Hour, 0.1, 10, rand.New(rand.NewSource(1)))
	e.Initialize(context.Background())
	e.Rotate(context.Background())

	history := e.Patterns()
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries after Initialize+Rotate, got %d", len(history))
	}
	for _, h := range history {
		if h.ID == "" {
			t.Errorf("expected every history entry to carry a correlation id")
		}
	}
}

func TestHistoryBoundedByMaxHistory(t *testing.T) {
	reg := newTestRegistry()
	pool := []domain.Mobile{"m1", "m2", "m3"}
	candidatePool := func(ctx context.Context) []domain.Mobile { return pool }

	e := New(reg, testLogger(), candidatePool, 2, time.Hour, time.Minute, 2*time.Hour, 0.1, 3, rand.New(rand.NewSource(1)))
	e.Initialize(context.Background())
	for i := 0; i < 10; i++ {
		e.Rotate(context.Background())
	}

	if got := len(e.Patterns()); got != 3 {
		t.Fatalf("expected history capped at maxHistory=3, got %d", got)
	}
}

func TestRefreshAvailableDropsUnhealthyFromActive(t *testing.T) {
	reg := newTestRegistry()
	pool := []domain.Mobile{"m1", "m2"}
	candidatePool := func(ctx context.Context) []domain.Mobile { return pool }

	e := New(reg, testLogger(), candidatePool, 2, time.Hour, time.Minute, 2*time.Hour, 0.1, 10, rand.New(rand.NewSource(1)))
	e.Initialize(context.Background())

	reg.MarkUnhealthy("m1")
	pool = []domain.Mobile{"m2"} // m1 dropped from the candidate pool too
	e.RefreshAvailable(context.Background())

	for _, m := range e.CurrentActive() {
		if m == "m1" {
			t.Fatalf("expected m1 to be dropped from active after RefreshAvailable")
		}
	}
}

func TestNextIntervalStaysWithinBounds(t *testing.T) {
	reg := newTestRegistry()
	candidatePool := func(ctx context.Context) []domain.Mobile { return nil }
	e := New(reg, testLogger(), candidatePool, 2, time.Hour, 30*time.Minute, 90*time.Minute, 0.5, 10, rand.New(rand.NewSource(1)))

	for i := 0; i < 50; i++ {
		d := e.nextInterval()
		if d < 30*time.Minute || d > 90*time.Minute {
			t.Fatalf("nextInterval() = %v, want within [30m, 90m]", d)
		}
	}
}
