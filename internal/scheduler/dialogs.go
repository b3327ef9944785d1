package scheduler

import (
	"context"
	"sort"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
	"github.com/tgpromoter/engine/internal/randutil"
)

const (
	dialogFetchLimit        = 500
	dialogParticipantFloor  = 500
	dialogShuffleCap        = 250
	remoteBannedListMinSize = 150
)

// fetchDialogs discovers a fresh channel list for m, filtering out
// broadcast channels and groups below the participant floor.
func (s *Scheduler) fetchDialogs(ctx context.Context, client ports.RemoteClient, m domain.Mobile) ([]domain.ChannelID, error) {
	dialogs, err := client.GetDialogs(ctx, dialogFetchLimit)
	if err != nil {
		return nil, err
	}
	if len(dialogs) == 0 {
		return nil, nil
	}

	filtered := s.filterDialogs(dialogs)
	if len(filtered) == 0 {
		return nil, nil
	}

	deduped := dedupeDialogs(filtered)

	daysLeft := s.sessions.DaysLeft(m)
	if daysLeft < 0 {
		deduped, err = s.filterByRemoteBannedList(ctx, deduped)
		if err != nil {
			s.log.Warn("fetchDialogs: remote banned-list fetch failed, skipping filter", "mobile", m, "error", err)
		}
	} else {
		deduped = s.filterByPastFailure(m, deduped)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].ParticipantsCount > deduped[j].ParticipantsCount
	})
	if len(deduped) > dialogShuffleCap {
		deduped = deduped[:dialogShuffleCap]
	}

	ids := make([]domain.ChannelID, len(deduped))
	for i, d := range deduped {
		ids[i] = d.ID
	}

	mobileRng := randutil.NewMobileRand(string(m))
	randutil.Shuffle(mobileRng, len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	return ids, nil
}

func (s *Scheduler) filterDialogs(dialogs []ports.Dialog) []ports.Dialog {
	out := make([]ports.Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		if d.Broadcast {
			continue
		}
		if d.DefaultBannedSendMsgs {
			continue
		}
		if d.Restricted {
			continue
		}
		if d.ParticipantsCount <= dialogParticipantFloor {
			continue
		}
		if d.ID == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func dedupeDialogs(dialogs []ports.Dialog) []ports.Dialog {
	seen := make(map[domain.ChannelID]bool, len(dialogs))
	out := make([]ports.Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

func (s *Scheduler) filterByPastFailure(m domain.Mobile, dialogs []ports.Dialog) []ports.Dialog {
	out := make([]ports.Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		if s.sessions.HadFailureFor(m, d.ID) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Scheduler) filterByRemoteBannedList(ctx context.Context, dialogs []ports.Dialog) ([]ports.Dialog, error) {
	if s.bannedChannelsFetcher == nil {
		return dialogs, nil
	}
	banned, err := s.bannedChannelsFetcher(ctx)
	if err != nil {
		return dialogs, err
	}
	if len(banned) <= remoteBannedListMinSize {
		return dialogs, nil
	}

	bannedSet := make(map[domain.ChannelID]bool, len(banned))
	for _, b := range banned {
		bannedSet[b] = true
	}

	out := make([]ports.Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		if bannedSet[d.ID] {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
