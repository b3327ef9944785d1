package scheduler

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/session"
)

func testScheduler(seed int64) *Scheduler {
	return &Scheduler{
		sessions: session.New(nil, rand.New(rand.NewSource(seed))),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func TestPickVariantFallsBackWhenNoAvailableMsgs(t *testing.T) {
	s := testScheduler(1)
	ch := &domain.Channel{AvailableMsgs: nil}

	if got := s.pickVariant(ch); got != domain.FallbackVariant {
		t.Fatalf("expected fallback variant %q, got %q", domain.FallbackVariant, got)
	}
}

func TestPickVariantOnlyPicksFromAvailable(t *testing.T) {
	s := testScheduler(2)
	ch := &domain.Channel{AvailableMsgs: []string{"1", "2"}}

	for i := 0; i < 20; i++ {
		v := s.pickVariant(ch)
		if v != "1" && v != "2" {
			t.Fatalf("pickVariant returned %q, not in AvailableMsgs", v)
		}
	}
}

func TestComposeUsesFallbackTemplateWhenVariantMissing(t *testing.T) {
	s := testScheduler(3)
	m := domain.Mobile("m1")
	s.sessions.SetPromoteMsgs(m, map[string]string{domain.FallbackVariant: "hello world"})

	ch := &domain.Channel{AvailableMsgs: []string{"9"}, WordRestriction: 1}
	_, msg := s.compose(m, ch)

	if msg != "hello world" {
		t.Fatalf("expected fallback template text, got %q", msg)
	}
}

func TestComposeNeverAddsGreetingUnderWordRestriction(t *testing.T) {
	s := testScheduler(4)
	m := domain.Mobile("m1")
	s.sessions.SetPromoteMsgs(m, map[string]string{domain.FallbackVariant: "template text"})

	ch := &domain.Channel{AvailableMsgs: []string{domain.FallbackVariant}, WordRestriction: 1}

	for i := 0; i < 20; i++ {
		_, msg := s.compose(m, ch)
		if strings.Contains(msg, "\n\n") {
			t.Fatalf("expected no greeting prefix when WordRestriction != 0, got %q", msg)
		}
	}
}
