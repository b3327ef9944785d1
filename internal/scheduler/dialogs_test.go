package scheduler

import (
	"testing"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
)

func TestFilterDialogsExcludesBroadcastAndSmallGroups(t *testing.T) {
	s := &Scheduler{}

	in := []ports.Dialog{
		{ID: "1", Broadcast: true, ParticipantsCount: 10000},
		{ID: "2", Broadcast: false, ParticipantsCount: 100},
		{ID: "3", Broadcast: false, ParticipantsCount: 10000, DefaultBannedSendMsgs: true},
		{ID: "4", Broadcast: false, ParticipantsCount: 10000, Restricted: true},
		{ID: "5", Broadcast: false, ParticipantsCount: 10000, Megagroup: true},
		{ID: "6", Broadcast: false, ParticipantsCount: 10000, Megagroup: false},
	}

	out := s.filterDialogs(in)

	got := make(map[domain.ChannelID]bool)
	for _, d := range out {
		got[d.ID] = true
	}

	if len(got) != 2 || !got["5"] || !got["6"] {
		t.Fatalf("expected only non-broadcast, unbanned, unrestricted, large-enough channels to survive (megagroup or plain), got %v", got)
	}
}

func TestDedupeDialogsKeepsFirstOccurrence(t *testing.T) {
	in := []ports.Dialog{
		{ID: "1", Title: "first"},
		{ID: "1", Title: "second"},
		{ID: "2", Title: "third"},
	}

	out := dedupeDialogs(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique dialogs, got %d", len(out))
	}
	for _, d := range out {
		if d.ID == "1" && d.Title != "first" {
			t.Fatalf("expected the first occurrence of a duplicate id to be kept, got %q", d.Title)
		}
	}
}
