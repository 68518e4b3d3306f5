package memory

import (
	"context"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

func (s *Store) ListChannelSettings(ctx context.Context) ([]store.ChannelSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ChannelSettings, 0, len(store.Channels))
	for _, ch := range store.Channels {
		if cs, ok := s.channels[ch]; ok {
			out = append(out, cs)
		} else {
			out = append(out, store.ChannelSettings{Channel: ch})
		}
	}
	return out, nil
}

// GetChannelSettings returns the stored settings, or disabled defaults for a
// known channel that was never configured.
func (s *Store) GetChannelSettings(ctx context.Context, channel string) (store.ChannelSettings, error) {
	if !store.ValidChannel(channel) {
		return store.ChannelSettings{}, notFound("channel", channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.channels[channel]; ok {
		return cs, nil
	}
	return store.ChannelSettings{Channel: channel}, nil
}

func (s *Store) SaveChannelSettings(ctx context.Context, cs *store.ChannelSettings) error {
	if !store.ValidChannel(cs.Channel) {
		return notFound("channel", cs.Channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cs.UpdatedAt = s.clock.Now()
	s.channels[cs.Channel] = *cs
	return nil
}

func (s *Store) GetProgramSettings(ctx context.Context) (store.ProgramSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programLocked(), nil
}

func (s *Store) SaveProgramSettings(ctx context.Context, ps *store.ProgramSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps.UpdatedAt = s.clock.Now()
	cp := *ps
	s.program = &cp
	return nil
}

func (s *Store) programLocked() store.ProgramSettings {
	if s.program == nil {
		return store.DefaultProgramSettings()
	}
	return *s.program
}
