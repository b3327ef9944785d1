package session

import (
	"math/rand"
	"testing"

	"github.com/tgpromoter/engine/internal/domain"
)

func newTestStore() *Store {
	return New(nil, rand.New(rand.NewSource(1)))
}

func TestTryBeginPromotingExcludesConcurrentCaller(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("m1")

	if !s.TryBeginPromoting(m) {
		t.Fatalf("expected the first caller to claim the guard")
	}
	if s.TryBeginPromoting(m) {
		t.Fatalf("expected a second concurrent caller to be rejected while the guard is held")
	}

	s.SetPromoting(m, false)
	if !s.TryBeginPromoting(m) {
		t.Fatalf("expected a caller to claim the guard again after it was released")
	}
}

func TestAdvanceChannelWraps(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000000")

	s.SetChannels(m, []domain.ChannelID{"a", "b", "c"})

	first, ok := s.CurrentChannel(m)
	if !ok || first != "a" {
		t.Fatalf("expected first channel 'a', got %q ok=%v", first, ok)
	}

	s.AdvanceChannel(m)
	second, _ := s.CurrentChannel(m)
	if second != "b" {
		t.Fatalf("expected second channel 'b', got %q", second)
	}

	s.AdvanceChannel(m)
	s.AdvanceChannel(m)

	if got := s.ChannelCount(m); got != 3 {
		t.Fatalf("wrap must not change channel count, got %d", got)
	}
	if idx, _ := s.CurrentChannel(m); idx == "" {
		t.Fatalf("expected a valid channel after wrap, got empty")
	}
}

func TestAdvanceChannelEmptyIsNoop(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000001")

	s.AdvanceChannel(m)

	if _, ok := s.CurrentChannel(m); ok {
		t.Fatalf("expected no current channel for an empty list")
	}
}

func TestIncSuccessResetsTempFail(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000002")

	s.IncFailed(m)
	s.IncFailed(m)
	_, _, tempFail := s.CountsSnapshot(m)
	if tempFail != 2 {
		t.Fatalf("expected TempFailCount 2, got %d", tempFail)
	}

	s.IncSuccess(m)
	success, failed, tempFail := s.CountsSnapshot(m)
	if success != 1 || failed != 2 || tempFail != 0 {
		t.Fatalf("expected success=1 failed=2 tempFail=0, got success=%d failed=%d tempFail=%d", success, failed, tempFail)
	}
}

func TestSetDaysLeftNegativeWipesOutcomes(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000003")

	s.RecordOutcome(m, "chan1", OutcomeInput{Success: true, CountDelta: 1}, 1000)
	if s.ResultsSize(m) != 1 {
		t.Fatalf("expected 1 recorded outcome before wipe")
	}

	s.SetDaysLeft(m, -1)
	if s.ResultsSize(m) != 0 {
		t.Fatalf("expected outcome history wiped when DaysLeft goes negative")
	}
}

func TestIsHealthyRequiresIdleGapAndNoSleep(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000004")

	s.SetDaysLeft(m, 3) // DaysLeft > 0: the activeIdleGap applies
	s.UpdateLastMessageTime(m, 1000)

	now := int64(1000 + 4*60*1000) // 4 minutes later, >3min activeIdleGap
	if !s.IsHealthy(m, now, 12*60*1000, 3*60*1000) {
		t.Fatalf("expected healthy after activeIdleGap elapsed with no sleep")
	}

	s.SetSleep(m, now+1)
	if s.IsHealthy(m, now, 12*60*1000, 3*60*1000) {
		t.Fatalf("expected unhealthy while SleepTime is in the future")
	}
}

func TestIsHealthySkipsFreshAccounts(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000005")

	s.SetDaysLeft(m, 30) // DaysLeft >= 7: not yet eligible for promotion scheduling

	if s.IsHealthy(m, 10_000_000, 12*60*1000, 3*60*1000) {
		t.Fatalf("expected a fresh (DaysLeft>=7) session to be unhealthy")
	}
}

func TestBannedForMobileOnlyWithinWindow(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000006")
	c := domain.ChannelID("chan1")

	s.RecordOutcome(m, c, OutcomeInput{Success: false, ErrorMessage: "USER_BANNED_IN_CHANNEL"}, 1000)

	if !s.BannedForMobile(m, c, 2000, 5000) {
		t.Fatalf("expected banned within window")
	}
	if s.BannedForMobile(m, c, 10000, 5000) {
		t.Fatalf("expected ban to expire outside window")
	}
}

func TestCleanupEnforcesTTLAndSize(t *testing.T) {
	s := newTestStore()
	m := domain.Mobile("79990000007")

	s.RecordOutcome(m, "old", OutcomeInput{Success: true, CountDelta: 1}, 0)
	s.RecordOutcome(m, "fresh", OutcomeInput{Success: true, CountDelta: 5}, 10_000)

	s.Cleanup(m, 10_000, 5_000, 10)
	if s.ResultsSize(m) != 1 {
		t.Fatalf("expected TTL cleanup to drop the stale entry, got size %d", s.ResultsSize(m))
	}

	for i := 0; i < 5; i++ {
		s.RecordOutcome(m, domain.ChannelID(string(rune('a'+i))), OutcomeInput{Success: true, CountDelta: i}, 10_000)
	}
	s.Cleanup(m, 10_000, 5_000, 2)
	if s.ResultsSize(m) != 2 {
		t.Fatalf("expected size cleanup to cap at 2, got %d", s.ResultsSize(m))
	}
}
