package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const channelCols = `channel, enabled, provider, base_url, account_id, secret, sender,
	status_callback_url, webhook_secret, rate_per_second, updated_at`

const programCols = `earn_rate, points_ttl_days, silver_threshold, gold_threshold, platinum_threshold,
	verification_ttl_minutes, updated_at`

func (s *Store) ListChannelSettings(ctx context.Context) ([]store.ChannelSettings, error) {
	var rows []store.ChannelSettings
	if err := sqlx.SelectContext(ctx, s.db, &rows, `SELECT `+channelCols+` FROM channel_settings`); err != nil {
		return nil, fmt.Errorf("list channel settings: %w", err)
	}
	byChannel := make(map[string]store.ChannelSettings, len(rows))
	for _, r := range rows {
		byChannel[r.Channel] = r
	}
	out := make([]store.ChannelSettings, 0, len(store.Channels))
	for _, ch := range store.Channels {
		if cs, ok := byChannel[ch]; ok {
			out = append(out, cs)
		} else {
			out = append(out, store.ChannelSettings{Channel: ch})
		}
	}
	return out, nil
}

func (s *Store) GetChannelSettings(ctx context.Context, channel string) (store.ChannelSettings, error) {
	if !store.ValidChannel(channel) {
		return store.ChannelSettings{}, notFound("channel", channel)
	}
	var cs store.ChannelSettings
	err := sqlx.GetContext(ctx, s.db, &cs, `SELECT `+channelCols+` FROM channel_settings WHERE channel = $1`, channel)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ChannelSettings{Channel: channel}, nil
	}
	if err != nil {
		return store.ChannelSettings{}, fmt.Errorf("get channel settings: %w", err)
	}
	return cs, nil
}

func (s *Store) SaveChannelSettings(ctx context.Context, cs *store.ChannelSettings) error {
	if !store.ValidChannel(cs.Channel) {
		return notFound("channel", cs.Channel)
	}
	cs.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_settings (`+channelCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (channel) DO UPDATE SET
			enabled = EXCLUDED.enabled, provider = EXCLUDED.provider, base_url = EXCLUDED.base_url,
			account_id = EXCLUDED.account_id, secret = EXCLUDED.secret, sender = EXCLUDED.sender,
			status_callback_url = EXCLUDED.status_callback_url, webhook_secret = EXCLUDED.webhook_secret,
			rate_per_second = EXCLUDED.rate_per_second, updated_at = EXCLUDED.updated_at
	`, cs.Channel, cs.Enabled, cs.Provider, cs.BaseURL, cs.AccountID, cs.Secret, cs.Sender,
		cs.StatusCallbackURL, cs.WebhookSecret, cs.RatePerSecond, cs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save channel settings: %w", err)
	}
	return nil
}

func (s *Store) GetProgramSettings(ctx context.Context) (store.ProgramSettings, error) {
	return programTx(ctx, s.db)
}

// programTx reads the singleton settings row, falling back to defaults.
func programTx(ctx context.Context, q sqlx.QueryerContext) (store.ProgramSettings, error) {
	var ps store.ProgramSettings
	err := sqlx.GetContext(ctx, q, &ps, `SELECT `+programCols+` FROM program_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DefaultProgramSettings(), nil
	}
	if err != nil {
		return store.ProgramSettings{}, fmt.Errorf("get program settings: %w", err)
	}
	return ps, nil
}

func (s *Store) SaveProgramSettings(ctx context.Context, ps *store.ProgramSettings) error {
	ps.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO program_settings (id, `+programCols+`)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			earn_rate = EXCLUDED.earn_rate, points_ttl_days = EXCLUDED.points_ttl_days,
			silver_threshold = EXCLUDED.silver_threshold, gold_threshold = EXCLUDED.gold_threshold,
			platinum_threshold = EXCLUDED.platinum_threshold,
			verification_ttl_minutes = EXCLUDED.verification_ttl_minutes, updated_at = EXCLUDED.updated_at
	`, ps.EarnRate, ps.PointsTTLDays, ps.SilverThreshold, ps.GoldThreshold, ps.PlatinumThreshold,
		ps.VerificationTTLMinutes, ps.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save program settings: %w", err)
	}
	return nil
}
