package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
)

// PointsExpirer is implemented by the loyalty service.
type PointsExpirer interface {
	ExpirePoints(ctx context.Context) (loyalty.ExpiryResult, error)
}

// CampaignRunner is implemented by the messaging service.
type CampaignRunner interface {
	RunDueCampaigns(ctx context.Context) (int, error)
}

// ExpiryJob wraps the points expiry sweep.
func ExpiryJob(e PointsExpirer) JobFunc {
	return func(ctx context.Context) (logrus.Fields, error) {
		res, err := e.ExpirePoints(ctx)
		return logrus.Fields{"rows": res.Rows, "points": res.Points}, err
	}
}

// CampaignJob wraps the due campaign dispatcher.
func CampaignJob(r CampaignRunner) JobFunc {
	return func(ctx context.Context) (logrus.Fields, error) {
		n, err := r.RunDueCampaigns(ctx)
		return logrus.Fields{"campaigns": n}, err
	}
}

// Specs holds the cron spec per job. Empty disables the cron trigger but
// keeps the job available to Run.
type Specs struct {
	Expiry    string
	Campaigns string
}

// Register adds the standard jobs.
func Register(s *Scheduler, specs Specs, e PointsExpirer, r CampaignRunner) error {
	if err := s.Add(JobExpirePoints, specs.Expiry, ExpiryJob(e)); err != nil {
		return err
	}
	return s.Add(JobCampaigns, specs.Campaigns, CampaignJob(r))
}
