package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// ErrNotFuture is returned when a campaign is scheduled in the past.
var ErrNotFuture = errors.New("scheduled_at must be in the future")

// SendCampaignNow moves a draft or scheduled campaign to sending and runs it
// in the background. The returned campaign is in the sending state.
func (s *Service) SendCampaignNow(ctx context.Context, id int64) (store.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return store.Campaign{}, err
	}
	cs, err := s.enabledChannel(ctx, c.Channel)
	if err != nil {
		return store.Campaign{}, err
	}
	c, err = s.store.TransitionCampaign(ctx, id, []string{store.CampaignDraft, store.CampaignScheduled}, store.CampaignSending)
	if err != nil {
		return store.Campaign{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCampaign(context.WithoutCancel(ctx), cs, c)
	}()
	return c, nil
}

// ScheduleCampaign sets a draft or scheduled campaign to run at t.
func (s *Service) ScheduleCampaign(ctx context.Context, id int64, t time.Time) (store.Campaign, error) {
	if !t.After(s.clock.Now()) {
		return store.Campaign{}, ErrNotFuture
	}
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return store.Campaign{}, err
	}
	if c.Status != store.CampaignDraft && c.Status != store.CampaignScheduled {
		return store.Campaign{}, fmt.Errorf("%w: campaign %d is %s", store.ErrConflict, id, c.Status)
	}
	at := t.UTC()
	c.ScheduledAt = &at
	c.Status = store.CampaignScheduled
	if err := s.store.UpdateCampaign(ctx, &c); err != nil {
		return store.Campaign{}, err
	}
	return c, nil
}

// CancelCampaign cancels a campaign that has not started sending.
func (s *Service) CancelCampaign(ctx context.Context, id int64) (store.Campaign, error) {
	return s.store.TransitionCampaign(ctx, id, []string{store.CampaignDraft, store.CampaignScheduled}, store.CampaignCancelled)
}

// RunDueCampaigns runs every scheduled campaign whose time has come and
// returns how many were started. Campaigns on disabled channels fail.
func (s *Service) RunDueCampaigns(ctx context.Context) (int, error) {
	due, err := s.store.ListDueCampaigns(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	started := 0
	for _, c := range due {
		c, err := s.store.TransitionCampaign(ctx, c.ID, []string{store.CampaignScheduled}, store.CampaignSending)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return started, err
		}
		started++

		cs, err := s.enabledChannel(ctx, c.Channel)
		if err != nil {
			s.finishCampaign(ctx, c, store.CampaignFailed)
			s.log.WithError(err).WithField("campaign_id", c.ID).Warn("scheduled campaign could not start")
			continue
		}
		s.runCampaign(ctx, cs, c)
	}
	return started, nil
}

// runCampaign delivers c to every matching customer. Customers without an
// opt-in or address for the channel are counted as skipped.
func (s *Service) runCampaign(ctx context.Context, cs store.ChannelSettings, c store.Campaign) {
	log := s.log.WithFields(logrus.Fields{"campaign_id": c.ID, "channel": c.Channel})

	seg, err := s.store.GetSegment(ctx, c.SegmentID)
	if err != nil {
		log.WithError(err).Error("campaign segment unavailable")
		s.finishCampaign(ctx, c, store.CampaignFailed)
		return
	}
	matches, err := s.store.MatchCustomers(ctx, seg.Match, seg.Criteria, store.ListParams{Unpaged: true})
	if err != nil {
		log.WithError(err).Error("campaign segment evaluation failed")
		s.finishCampaign(ctx, c, store.CampaignFailed)
		return
	}

	c.Total = len(matches.Data)
	c.Sent, c.Failed, c.Skipped = 0, 0, 0
	campaignID := c.ID
	for _, cust := range matches.Data {
		to := Recipient(cust, c.Channel)
		if to == "" || cust.Status == store.CustomerBlocked {
			c.Skipped++
			continue
		}
		vars := CustomerVars(cust)
		customerID := cust.ID
		_, err := s.send(ctx, cs, store.Notification{
			CampaignID: &campaignID,
			CustomerID: &customerID,
			Recipient:  to,
			Subject:    Render(c.Subject, vars),
			Body:       Render(c.Body, vars),
		})
		if err != nil {
			c.Failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.Sent++
	}

	final := store.CampaignCompleted
	if c.Sent == 0 && c.Failed > 0 {
		final = store.CampaignFailed
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.store.UpdateCampaign(ctx, &c); err != nil {
		log.WithError(err).Error("failed to record campaign counters")
	}
	s.finishCampaign(ctx, c, final)
	log.WithFields(logrus.Fields{
		"total":   c.Total,
		"sent":    c.Sent,
		"failed":  c.Failed,
		"skipped": c.Skipped,
		"status":  final,
	}).Info("campaign finished")
}

// finishCampaign moves c out of sending even when ctx is already done.
func (s *Service) finishCampaign(ctx context.Context, c store.Campaign, status string) {
	if _, err := s.store.TransitionCampaign(context.WithoutCancel(ctx), c.ID, []string{store.CampaignSending}, status); err != nil {
		s.log.WithError(err).WithField("campaign_id", c.ID).Error("failed to finish campaign")
	}
}

// FailStuckCampaigns marks campaigns left in sending by a previous process as
// failed. Call it once at startup, before any send can begin.
func (s *Service) FailStuckCampaigns(ctx context.Context) (int, error) {
	stuck, err := s.store.ListCampaigns(ctx, store.ListParams{
		Filters: map[string]string{"status": store.CampaignSending},
		Unpaged: true,
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range stuck.Data {
		_, err := s.store.TransitionCampaign(ctx, c.ID, []string{store.CampaignSending}, store.CampaignFailed)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		s.log.WithField("campaign_id", c.ID).Warn("campaign interrupted while sending, marked failed")
		n++
	}
	return n, nil
}
