package scheduler

import (
	"fmt"

	"github.com/tgpromoter/engine/internal/domain"
)

// greetings is the fixed table for the randomized "greeting + promo"
// composite.
var greetings = []string{
	"Привет!",
	"Добрый день!",
	"Здравствуйте!",
	"Хорошего дня!",
	"Приветствую!",
}

// compose picks a template variant and builds the outgoing message.
func (s *Scheduler) compose(m domain.Mobile, channel *domain.Channel) (variant, message string) {
	variant = s.pickVariant(channel)

	templates := s.sessions.PromoteMsgs(m)
	template, ok := templates[variant]
	if !ok {
		template = templates[domain.FallbackVariant]
	}

	if channel.WordRestriction == 0 && s.coinFlip() {
		return variant, fmt.Sprintf("%s\n\n%s", s.pickGreeting(), template)
	}
	return variant, template
}

func (s *Scheduler) pickVariant(channel *domain.Channel) string {
	available := channel.AvailableMsgs
	if len(available) == 0 {
		available = []string{domain.FallbackVariant}
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return available[s.rng.Intn(len(available))]
}

func (s *Scheduler) pickGreeting() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return greetings[s.rng.Intn(len(greetings))]
}

func (s *Scheduler) coinFlip() bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(2) == 0
}
