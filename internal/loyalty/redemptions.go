package loyalty

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// MaxVerificationAttempts is how many wrong codes fail a redemption.
const MaxVerificationAttempts = 5

// deliveryOrder is the forward path of a redemption's delivery status.
var deliveryOrder = []string{
	store.DeliveryPending,
	store.DeliveryProcessing,
	store.DeliveryShipped,
	store.DeliveryDelivered,
}

// RedeemResult is a new redemption and whether its verification code was
// handed to a notification channel.
type RedeemResult struct {
	Redemption store.Redemption `json:"redemption"`
	CodeSent   bool             `json:"code_sent"`
}

// Redeem exchanges a customer's points for a reward. Rewards that require
// verification start pending with a code sent to the customer.
func (s *Service) Redeem(ctx context.Context, customerID, rewardID int64, staffID *int64) (RedeemResult, error) {
	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return RedeemResult{}, err
	}
	if err := s.customerUsable(c); err != nil {
		return RedeemResult{}, err
	}
	reward, err := s.store.GetReward(ctx, rewardID)
	if errors.Is(err, store.ErrNotFound) {
		return RedeemResult{}, apperr.Validation(map[string]string{"reward_id": "does not exist"})
	}
	if err != nil {
		return RedeemResult{}, err
	}

	r := store.Redemption{
		CustomerID:         customerID,
		RewardID:           rewardID,
		VerificationStatus: store.VerificationNotRequired,
		DeliveryStatus:     store.DeliveryPending,
		CreatedBy:          staffID,
	}
	settings, err := s.store.GetProgramSettings(ctx)
	if err != nil {
		return RedeemResult{}, err
	}
	if reward.RequiresVerification {
		if err := s.newCode(&r, settings); err != nil {
			return RedeemResult{}, err
		}
	}

	// Codes are random; a collision is retried with a fresh one.
	for attempt := 0; ; attempt++ {
		r.Code = RedemptionCode()
		err = s.store.CreateRedemption(ctx, &r)
		if !errors.Is(err, store.ErrConflict) || attempt == 2 {
			break
		}
	}
	if err != nil {
		return RedeemResult{}, err
	}
	metrics.PointsMoved(store.TxnRedeem, -r.PointsSpent)
	metrics.Redemption("created")
	s.log.WithFields(logrus.Fields{
		"redemption_id": r.ID,
		"customer_id":   customerID,
		"reward_id":     rewardID,
		"points":        r.PointsSpent,
	}).Info("redemption created")

	res := RedeemResult{Redemption: r}
	if r.VerificationStatus == store.VerificationPending {
		res.CodeSent = s.sendCode(ctx, c, reward, r)
	}
	return res, nil
}

// Verify checks a submitted verification code. Wrong codes count towards
// MaxVerificationAttempts; expiry or too many attempts fail the redemption.
func (s *Service) Verify(ctx context.Context, id int64, code string) (store.Redemption, error) {
	r, err := s.store.GetRedemption(ctx, id)
	if err != nil {
		return store.Redemption{}, err
	}
	if r.VerificationStatus != store.VerificationPending {
		return store.Redemption{}, apperr.Conflict("redemption " + r.Code + " is not awaiting verification")
	}
	if !r.Open() {
		return store.Redemption{}, apperr.Conflict("redemption " + r.Code + " is " + r.DeliveryStatus)
	}
	prev := r.State()

	now := s.clock.Now()
	if r.VerificationExpiresAt != nil && now.After(*r.VerificationExpiresAt) {
		if err := s.failVerification(ctx, &r, prev); err != nil {
			return store.Redemption{}, err
		}
		return r, apperr.Unprocessable("verification_expired", "the verification code has expired")
	}

	code = strings.TrimSpace(code)
	if subtle.ConstantTimeCompare([]byte(code), []byte(r.VerificationCode)) != 1 {
		r.VerificationAttempts++
		if r.VerificationAttempts >= MaxVerificationAttempts {
			if err := s.failVerification(ctx, &r, prev); err != nil {
				return store.Redemption{}, err
			}
			return r, apperr.Unprocessable("verification_failed", "too many wrong verification codes")
		}
		if err := s.store.UpdateRedemption(ctx, &r, prev); err != nil {
			return store.Redemption{}, err
		}
		left := MaxVerificationAttempts - r.VerificationAttempts
		return r, apperr.Unprocessable("invalid_code", fmt.Sprintf("wrong verification code, %d attempt(s) left", left))
	}

	r.VerificationStatus = store.VerificationVerified
	r.VerificationCode = ""
	r.VerifiedAt = &now
	if err := s.store.UpdateRedemption(ctx, &r, prev); err != nil {
		return store.Redemption{}, err
	}
	metrics.Redemption("verified")
	return r, nil
}

func (s *Service) failVerification(ctx context.Context, r *store.Redemption, prev store.RedemptionState) error {
	r.VerificationStatus = store.VerificationFailed
	r.VerificationCode = ""
	if err := s.store.UpdateRedemption(ctx, r, prev); err != nil {
		return err
	}
	metrics.Redemption("verification_failed")
	return nil
}

// ResendCode issues a new verification code for a pending redemption. The
// attempt counter carries over.
func (s *Service) ResendCode(ctx context.Context, id int64) (RedeemResult, error) {
	r, err := s.store.GetRedemption(ctx, id)
	if err != nil {
		return RedeemResult{}, err
	}
	if r.VerificationStatus != store.VerificationPending {
		return RedeemResult{}, apperr.Conflict("redemption " + r.Code + " is not awaiting verification")
	}
	if !r.Open() {
		return RedeemResult{}, apperr.Conflict("redemption " + r.Code + " is " + r.DeliveryStatus)
	}
	prev := r.State()
	settings, err := s.store.GetProgramSettings(ctx)
	if err != nil {
		return RedeemResult{}, err
	}
	if err := s.newCode(&r, settings); err != nil {
		return RedeemResult{}, err
	}
	if err := s.store.UpdateRedemption(ctx, &r, prev); err != nil {
		return RedeemResult{}, err
	}

	c, err := s.store.GetCustomer(ctx, r.CustomerID)
	if err != nil {
		return RedeemResult{}, err
	}
	reward, err := s.store.GetReward(ctx, r.RewardID)
	if err != nil {
		return RedeemResult{}, err
	}
	return RedeemResult{Redemption: r, CodeSent: s.sendCode(ctx, c, reward, r)}, nil
}

// AdvanceDelivery moves a redemption one step along pending, processing,
// shipped, delivered. Leaving pending requires a verified redemption or one
// that needs no verification. Moving to cancelled refunds the points.
func (s *Service) AdvanceDelivery(ctx context.Context, id int64, to, note string, staffID *int64) (store.Redemption, error) {
	if to == store.DeliveryCancelled {
		return s.Cancel(ctx, id, note, staffID)
	}
	r, err := s.store.GetRedemption(ctx, id)
	if err != nil {
		return store.Redemption{}, err
	}

	from := indexOf(deliveryOrder, r.DeliveryStatus)
	next := indexOf(deliveryOrder, to)
	if next < 0 {
		return store.Redemption{}, apperr.Validation(map[string]string{"delivery_status": "is not a valid status"})
	}
	if from < 0 || next != from+1 {
		return store.Redemption{}, apperr.New(http.StatusConflict, "invalid_transition",
			fmt.Sprintf("cannot move redemption from %s to %s", r.DeliveryStatus, to))
	}
	if r.VerificationStatus != store.VerificationVerified && r.VerificationStatus != store.VerificationNotRequired {
		return store.Redemption{}, apperr.Unprocessable("verification_required",
			"redemption "+r.Code+" must be verified before delivery")
	}

	prev := r.State()
	now := s.clock.Now()
	r.DeliveryStatus = to
	if note = strings.TrimSpace(note); note != "" {
		r.DeliveryNote = note
	}
	if to == store.DeliveryDelivered {
		r.DeliveredAt = &now
	}
	if err := s.store.UpdateRedemption(ctx, &r, prev); err != nil {
		return store.Redemption{}, err
	}
	metrics.Redemption(to)
	return r, nil
}

// Cancel cancels an open redemption, refunds its points and restores stock.
func (s *Service) Cancel(ctx context.Context, id int64, note string, staffID *int64) (store.Redemption, error) {
	r, err := s.store.CancelRedemption(ctx, id, staffID, strings.TrimSpace(note))
	if err != nil {
		return store.Redemption{}, err
	}
	metrics.PointsMoved(store.TxnRefund, r.PointsSpent)
	metrics.Redemption("cancelled")
	return r, nil
}

func (s *Service) newCode(r *store.Redemption, settings store.ProgramSettings) error {
	code, err := VerificationCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	ttl := time.Duration(settings.VerificationTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	exp := s.clock.Now().Add(ttl)
	r.VerificationStatus = store.VerificationPending
	r.VerificationCode = code
	r.VerificationExpiresAt = &exp
	return nil
}

// sendCode hands the verification code to the notifier. Failure leaves the
// redemption pending so staff can resend.
func (s *Service) sendCode(ctx context.Context, c store.Customer, reward store.Reward, r store.Redemption) bool {
	if s.notifier == nil {
		return false
	}
	body := fmt.Sprintf("Hi {{first_name}}, your code to confirm %s (%s) is %s", reward.Name, r.Code, r.VerificationCode)
	_, err := s.notifier.NotifyCustomer(ctx, c, "Confirm your reward", body)
	if err != nil {
		s.log.WithError(err).WithField("redemption_id", r.ID).Warn("verification code not sent")
		return false
	}
	return true
}

// RedemptionCode returns a random code of the form RDM-XXXX-XXXX.
func RedemptionCode() string {
	b := make([]byte, 4)
	rand.Read(b)
	h := strings.ToUpper(hex.EncodeToString(b))
	return fmt.Sprintf("RDM-%s-%s", h[:4], h[4:])
}

// VerificationCode returns a random 6-digit code.
func VerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
