package scheduler

import (
	"context"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
	"github.com/tgpromoter/engine/internal/session"
	"github.com/tgpromoter/engine/internal/verification"
)

func timeNow() time.Time { return time.Now() }

func timeSince(t time.Time) time.Duration { return time.Since(t) }

var outcomeSuccess = session.OutcomeInput{Success: true, CountDelta: 1}

func outcomeFailure(msg string) session.OutcomeInput {
	return session.OutcomeInput{Success: false, ErrorMessage: msg}
}

// stepOne runs the per-mobile promotion step. TryBeginPromoting guards
// against a slow step still in flight for m when the next tick fires,
// so at most one stepOne runs per mobile at a time.
func (s *Scheduler) stepOne(ctx context.Context, m domain.Mobile) {
	if !s.sessions.TryBeginPromoting(m) {
		return
	}
	defer s.sessions.SetPromoting(m, false)

	conn, err := s.reg.Acquire(ctx, m)
	if err != nil {
		s.log.Warn("promotion step: acquire failed", "mobile", m, "error", err)
		return
	}
	client := conn.Client

	if stale := conn.LastDeepProbe.IsZero() || timeSince(conn.LastDeepProbe) >= s.cfg.DeepProbeInterval; stale {
		if _, err := client.GetSelf(ctx); err != nil {
			s.log.Warn("promotion step: deep probe failed", "mobile", m, "error", err)
			return
		}
		s.reg.TouchHealthCheck(m, true, timeNow())
	}

	if s.sessions.ChannelCount(m) == 0 {
		channels, err := s.fetchDialogs(ctx, client, m)
		if err != nil {
			s.log.Warn("promotion step: fetchDialogs failed", "mobile", m, "error", err)
			return
		}
		if len(channels) == 0 {
			return
		}
		s.sessions.SetChannels(m, channels)
	}

	c, ok := s.sessions.CurrentChannel(m)
	if !ok {
		return
	}

	now := nowMillis()
	if s.sessions.BannedForMobile(m, c, now, s.cfg.BannedWindow.Milliseconds()) {
		s.sessions.AdvanceChannel(m)
		return
	}

	channel, err := s.resolveChannel(ctx, client, c)
	if err != nil || channel == nil {
		s.log.Warn("promotion step: resolve channel failed", "mobile", m, "channel", c, "error", err)
		s.sessions.AdvanceChannel(m)
		return
	}

	variant, message := s.compose(m, channel)

	result := client.SendMessage(ctx, c, "", message)

	switch r := result.(type) {
	case domain.Sent:
		s.sessions.UpdateLastMessageTime(m, now)
		s.sessions.IncSuccess(m)
		s.sessions.IncMessageCount(m)
		s.sessions.RecordOutcome(m, c, outcomeSuccess, now)
		s.queue.Push(m, domain.PendingVerification{
			ChannelID:    c,
			MessageID:    r.MessageID,
			VariantIndex: variant,
			Timestamp:    now,
		})

	case domain.FloodWait:
		s.sessions.SetSleep(m, now+r.Seconds*1000)
		s.sessions.IncFailed(m)
		s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)

	case domain.ChannelPrivate:
		if channel.Username != "" {
			retry := client.SendMessage(ctx, c, channel.Username, message)
			if sent, ok := retry.(domain.Sent); ok {
				s.sessions.UpdateLastMessageTime(m, now)
				s.sessions.IncSuccess(m)
				s.sessions.IncMessageCount(m)
				s.sessions.RecordOutcome(m, c, outcomeSuccess, now)
				s.queue.Push(m, domain.PendingVerification{
					ChannelID:    c,
					MessageID:    sent.MessageID,
					VariantIndex: variant,
					Timestamp:    now,
				})
				s.sessions.AdvanceChannel(m)
				return
			}
			s.sessions.IncFailed(m)
			s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)
		} else {
			s.sessions.IncFailed(m)
			s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)
		}

	case domain.UserBanned:
		s.sessions.IncFailed(m)
		s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)

	case domain.ChatWriteForbidden:
		s.sessions.IncFailed(m)
		s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)

	case domain.Terminal:
		s.sessions.IncFailed(m)
		s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)
		s.reg.MarkUnhealthy(m)
		if s.accounts != nil {
			if err := s.accounts.MarkExpired(ctx, func(candidate domain.Mobile) bool { return candidate == m }); err != nil {
				s.log.Warn("promotion step: MarkExpired failed", "mobile", m, "error", err)
			}
		}

	case domain.TransientTransport:
		s.sessions.IncFailed(m)
		s.sessions.RecordOutcome(m, c, outcomeFailure(r.Error()), now)

	default:
		s.sessions.IncFailed(m)
		if err, ok := result.(error); ok {
			s.sessions.RecordOutcome(m, c, outcomeFailure(err.Error()), now)
		} else {
			s.sessions.RecordOutcome(m, c, outcomeFailure("unknown"), now)
		}
	}

	s.sessions.AdvanceChannel(m)
}

// resolveChannel implements a cache-through read: on a ChannelStore miss,
// fetch from transport and write back.
func (s *Scheduler) resolveChannel(ctx context.Context, client ports.RemoteClient, c domain.ChannelID) (*domain.Channel, error) {
	if ch, err := s.channels.FindOne(ctx, c); err == nil && ch != nil {
		return ch, nil
	}

	dialog, err := client.GetEntity(ctx, c)
	if err != nil {
		return nil, err
	}

	ch := &domain.Channel{
		ChannelID:         c,
		Title:             dialog.Title,
		Username:          dialog.Username,
		ParticipantsCount: dialog.ParticipantsCount,
		Broadcast:         dialog.Broadcast,
		Restricted:        dialog.Restricted,
		CanSendMsgs:       !dialog.DefaultBannedSendMsgs,
		AvailableMsgs:     []string{domain.FallbackVariant},
	}
	if err := s.channels.Upsert(ctx, *ch); err != nil {
		s.log.Warn("resolveChannel: write-back failed", "channel", c, "error", err)
	}
	return ch, nil
}

func (s *Scheduler) verificationDeps(m domain.Mobile) (verification.Deps, bool) {
	client := s.reg.Get(m)
	if client == nil {
		return verification.Deps{}, false
	}
	return verification.Deps{
		Client:       client,
		ChannelStore: s.channels,
		Notifier:     s.notifier,
	}, true
}
