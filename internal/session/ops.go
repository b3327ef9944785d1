package session

import (
	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/randutil"
)

// UpdateLastMessageTime sets LastMessageTime to t, or now if t is zero.
func (s *Store) UpdateLastMessageTime(m domain.Mobile, t int64) {
	s.with(m, func(st *domain.SessionState) {
		if t == 0 {
			t = s.clock()
		}
		st.LastMessageTime = t
	})
}

// UpdateLastCheckedTime sets LastCheckedTime to t, or now if t is zero.
func (s *Store) UpdateLastCheckedTime(m domain.Mobile, t int64) {
	s.with(m, func(st *domain.SessionState) {
		if t == 0 {
			t = s.clock()
		}
		st.LastCheckedTime = t
	})
}

// IncSuccess increments SuccessCount and resets TempFailCount.
func (s *Store) IncSuccess(m domain.Mobile) {
	s.with(m, func(st *domain.SessionState) {
		st.SuccessCount++
		st.TempFailCount = 0
	})
}

// IncFailed increments FailedCount and TempFailCount.
func (s *Store) IncFailed(m domain.Mobile) {
	s.with(m, func(st *domain.SessionState) {
		st.FailedCount++
		st.TempFailCount++
	})
}

// IncMessageCount increments the per-session sent-message counter.
func (s *Store) IncMessageCount(m domain.Mobile) {
	s.with(m, func(st *domain.SessionState) {
		st.MessageCount++
	})
}

// SetSleep sets the absolute cooldown cutoff, e.g. from FLOOD_WAIT.
func (s *Store) SetSleep(m domain.Mobile, until int64) {
	s.with(m, func(st *domain.SessionState) {
		st.SleepTime = until
	})
}

// SetFailureReason records (or clears, if reason == "") the last error
// code.
func (s *Store) SetFailureReason(m domain.Mobile, reason string) {
	s.with(m, func(st *domain.SessionState) {
		st.FailureReason = reason
	})
}

// SetPromoting sets the re-entrancy guard.
func (s *Store) SetPromoting(m domain.Mobile, v bool) {
	s.with(m, func(st *domain.SessionState) {
		st.IsPromoting = v
	})
}

// IsPromoting reads the re-entrancy flag.
func (s *Store) IsPromoting(m domain.Mobile) bool {
	var v bool
	s.with(m, func(st *domain.SessionState) { v = st.IsPromoting })
	return v
}

// TryBeginPromoting atomically claims the re-entrancy guard for m: it sets
// IsPromoting true and reports success only if it was not already set,
// so at most one caller at a time can proceed for a given mobile.
func (s *Store) TryBeginPromoting(m domain.Mobile) bool {
	var claimed bool
	s.with(m, func(st *domain.SessionState) {
		if st.IsPromoting {
			return
		}
		st.IsPromoting = true
		claimed = true
	})
	return claimed
}

// SetChannels replaces the channel list and resets the cursor.
func (s *Store) SetChannels(m domain.Mobile, channels []domain.ChannelID) {
	s.with(m, func(st *domain.SessionState) {
		st.Channels = channels
		st.ChannelIndex = 0
	})
}

// AdvanceChannel moves the cursor forward, wrapping and reshuffling
// exactly once per full cycle.
func (s *Store) AdvanceChannel(m domain.Mobile) {
	s.with(m, func(st *domain.SessionState) {
		if len(st.Channels) == 0 {
			return
		}
		st.ChannelIndex++
		if st.ChannelIndex >= len(st.Channels) {
			st.ChannelIndex = 0
			if len(st.Channels) > 1 {
				s.reshuffle(st.Channels)
			}
		}
	})
}

func (s *Store) reshuffle(channels []domain.ChannelID) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	randutil.Shuffle(s.rng, len(channels), func(i, j int) {
		channels[i], channels[j] = channels[j], channels[i]
	})
}

// CurrentChannel returns the channel at the cursor, or "" if the list is
// empty.
func (s *Store) CurrentChannel(m domain.Mobile) (domain.ChannelID, bool) {
	var c domain.ChannelID
	var ok bool
	s.with(m, func(st *domain.SessionState) {
		if len(st.Channels) == 0 {
			return
		}
		c = st.Channels[st.ChannelIndex]
		ok = true
	})
	return c, ok
}

// ChannelCount reports len(Channels) without copying the slice.
func (s *Store) ChannelCount(m domain.Mobile) int {
	var n int
	s.with(m, func(st *domain.SessionState) { n = len(st.Channels) })
	return n
}

// SetPromoteMsgs stores the TemplateStore snapshot taken at session init.
func (s *Store) SetPromoteMsgs(m domain.Mobile, msgs map[string]string) {
	s.with(m, func(st *domain.SessionState) {
		st.PromoteMsgs = clonePromoteMsgs(msgs)
	})
}

// PromoteMsgs returns the session's template snapshot.
func (s *Store) PromoteMsgs(m domain.Mobile) map[string]string {
	var out map[string]string
	s.with(m, func(st *domain.SessionState) { out = clonePromoteMsgs(st.PromoteMsgs) })
	return out
}

// DaysLeft reads the session's current DaysLeft.
func (s *Store) DaysLeft(m domain.Mobile) int {
	var days int
	s.with(m, func(st *domain.SessionState) { days = st.DaysLeft })
	return days
}

// SetDaysLeft sets DaysLeft; when it goes negative, outcome history is
// wiped.
func (s *Store) SetDaysLeft(m domain.Mobile, days int) {
	s.with(m, func(st *domain.SessionState) {
		st.DaysLeft = days
		if days < 0 {
			st.PromotionResults = make(map[domain.ChannelID]domain.PromotionOutcome)
		}
	})
}

// OutcomeInput is the argument to RecordOutcome.
type OutcomeInput struct {
	Success      bool
	ErrorMessage string
	CountDelta   int
}

// RecordOutcome updates the per-channel outcome history for c.
func (s *Store) RecordOutcome(m domain.Mobile, c domain.ChannelID, in OutcomeInput, now int64) {
	s.with(m, func(st *domain.SessionState) {
		prev := st.PromotionResults[c]
		next := domain.PromotionOutcome{
			Success:            in.Success,
			Count:              prev.Count + in.CountDelta,
			ErrorMessage:       in.ErrorMessage,
			LastCheckTimestamp: now,
		}
		if in.Success {
			next.ErrorMessage = ""
		}
		st.PromotionResults[c] = next
	})
}

// IsHealthy reports whether m is eligible for scheduling right now.
// expiringIdleGap is the 12-minute gap required when daysLeft < 1;
// activeIdleGap is the 3-minute gap required when daysLeft > 0.
func (s *Store) IsHealthy(m domain.Mobile, now int64, expiringIdleGap, activeIdleGap int64) bool {
	var healthy bool
	s.with(m, func(st *domain.SessionState) {
		if st.DaysLeft >= 7 {
			return
		}
		var timingOK bool
		if st.DaysLeft < 1 {
			timingOK = st.LastMessageTime < now-expiringIdleGap
		} else {
			timingOK = st.LastMessageTime < now-activeIdleGap
		}
		if !timingOK {
			return
		}
		if st.SleepTime >= now {
			return
		}
		healthy = true
	})
	return healthy
}

// BannedForMobile reports true if the last known outcome for c was a
// USER_BANNED_IN_CHANNEL failure within window.
func (s *Store) BannedForMobile(m domain.Mobile, c domain.ChannelID, now, window int64) bool {
	var banned bool
	s.with(m, func(st *domain.SessionState) {
		outcome, ok := st.PromotionResults[c]
		if !ok || outcome.Success {
			return
		}
		if outcome.ErrorMessage != "USER_BANNED_IN_CHANNEL" {
			return
		}
		banned = outcome.LastCheckTimestamp > now-window
	})
	return banned
}

// BannedChannels enumerates every banned-for-m channel.
func (s *Store) BannedChannels(m domain.Mobile, now, window int64) []domain.ChannelID {
	var out []domain.ChannelID
	s.with(m, func(st *domain.SessionState) {
		for c, outcome := range st.PromotionResults {
			if outcome.Success {
				continue
			}
			if outcome.ErrorMessage != "USER_BANNED_IN_CHANNEL" {
				continue
			}
			if outcome.LastCheckTimestamp > now-window {
				out = append(out, c)
			}
		}
	})
	return out
}

// HadFailureFor reports whether the session has ever recorded a failing
// outcome for c.
func (s *Store) HadFailureFor(m domain.Mobile, c domain.ChannelID) bool {
	var failed bool
	s.with(m, func(st *domain.SessionState) {
		outcome, ok := st.PromotionResults[c]
		failed = ok && !outcome.Success
	})
	return failed
}

// Cleanup applies the TTL and size limits to m's outcome history.
func (s *Store) Cleanup(m domain.Mobile, now, ttl int64, maxSize int) {
	s.with(m, func(st *domain.SessionState) {
		for c, outcome := range st.PromotionResults {
			if outcome.LastCheckTimestamp < now-ttl {
				delete(st.PromotionResults, c)
			}
		}
		if len(st.PromotionResults) <= maxSize {
			return
		}
		st.PromotionResults = topByCount(st.PromotionResults, maxSize)
	})
}

func topByCount(in map[domain.ChannelID]domain.PromotionOutcome, keep int) map[domain.ChannelID]domain.PromotionOutcome {
	type kv struct {
		c domain.ChannelID
		o domain.PromotionOutcome
	}
	all := make([]kv, 0, len(in))
	for c, o := range in {
		all = append(all, kv{c, o})
	}
	// simple selection: sort descending by Count, keep top `keep`.
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && all[j-1].o.Count < all[j].o.Count {
			all[j-1], all[j] = all[j], all[j-1]
			j--
		}
	}
	if len(all) > keep {
		all = all[:keep]
	}
	out := make(map[domain.ChannelID]domain.PromotionOutcome, len(all))
	for _, e := range all {
		out[e.c] = e.o
	}
	return out
}

// ResultsSize reports len(PromotionResults), for tests/diagnostics.
func (s *Store) ResultsSize(m domain.Mobile) int {
	var n int
	s.with(m, func(st *domain.SessionState) { n = len(st.PromotionResults) })
	return n
}

// CountsSnapshot returns (successCount, failedCount, tempFailCount) for
// tests/diagnostics.
func (s *Store) CountsSnapshot(m domain.Mobile) (success, failed, tempFail int) {
	s.with(m, func(st *domain.SessionState) {
		success, failed, tempFail = st.SuccessCount, st.FailedCount, st.TempFailCount
	})
	return
}
