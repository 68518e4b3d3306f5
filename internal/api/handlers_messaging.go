package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/segment"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// --- Segments ---

type criterionRequest struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    string `json:"value" validate:"max=500"`
}

type criteriaRequest struct {
	Match    string             `json:"match" validate:"omitempty,oneof=all any"`
	Criteria []criterionRequest `json:"criteria" validate:"max=50,dive"`
}

// parseCriteria defaults the match mode to all and validates each rule
// against its field kind.
func parseCriteria(match string, in []criterionRequest) (string, store.Criteria, error) {
	if match == "" {
		match = store.MatchAll
	}
	criteria := make(store.Criteria, 0, len(in))
	for _, c := range in {
		criteria = append(criteria, store.Criterion{
			Field:    c.Field,
			Operator: c.Operator,
			Value:    strings.TrimSpace(c.Value),
		})
	}
	if err := segment.Validate(match, criteria); err != nil {
		return "", nil, err
	}
	return match, criteria, nil
}

type segmentRequest struct {
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=1000"`
	Match       string             `json:"match" validate:"omitempty,oneof=all any"`
	Criteria    []criterionRequest `json:"criteria" validate:"max=50,dive"`
}

func (req segmentRequest) segment() (store.Segment, error) {
	match, criteria, err := parseCriteria(req.Match, req.Criteria)
	if err != nil {
		return store.Segment{}, err
	}
	return store.Segment{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Match:       match,
		Criteria:    criteria,
	}, nil
}

// ListSegments handles GET /api/segments.
func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListSegments(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// GetSegment handles GET /api/segments/{id}.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sg, err := h.store.GetSegment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, sg)
}

// CreateSegment handles POST /api/segments.
func (h *Handler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sg, err := req.segment()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.CreateSegment(r.Context(), &sg); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, sg.ID)
	server.Data(w, http.StatusCreated, sg)
}

// UpdateSegment handles PUT /api/segments/{id}.
func (h *Handler) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req segmentRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sg, err := req.segment()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sg.ID = id
	if err := h.store.UpdateSegment(r.Context(), &sg); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, sg)
}

// DeleteSegment handles DELETE /api/segments/{id}. Segments used by a
// campaign are rejected with 409.
func (h *Handler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteSegment(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request, match string, criteria []store.Criterion) {
	p, err := listParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.MatchCustomers(r.Context(), match, criteria, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"count": page.Meta.Total,
		"data":  page.Data,
		"meta":  page.Meta,
	})
}

// PreviewSegment handles GET /api/segments/{id}/preview.
func (h *Handler) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sg, err := h.store.GetSegment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.preview(w, r, sg.Match, sg.Criteria)
}

// PreviewCriteria handles POST /api/segments/preview for unsaved criteria.
func (h *Handler) PreviewCriteria(w http.ResponseWriter, r *http.Request) {
	var req criteriaRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	match, criteria, err := parseCriteria(req.Match, req.Criteria)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.preview(w, r, match, criteria)
}

// --- Campaigns ---

type campaignRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	SegmentID int64  `json:"segment_id" validate:"required,gt=0"`
	Channel   string `json:"channel" validate:"required,channel"`
	Subject   string `json:"subject" validate:"max=255"`
	Body      string `json:"body" validate:"required,max=4000"`
}

func (h *Handler) checkCampaign(r *http.Request, req campaignRequest) error {
	fields := map[string]string{}
	if req.Channel == store.ChannelEmail && strings.TrimSpace(req.Subject) == "" {
		fields["subject"] = "is required for email campaigns"
	}
	if unknown := append(messaging.Unknown(req.Subject), messaging.Unknown(req.Body)...); len(unknown) > 0 {
		fields["body"] = fmt.Sprintf("unknown placeholder(s): %s", strings.Join(unknown, ", "))
	}
	if _, err := h.store.GetSegment(r.Context(), req.SegmentID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		fields["segment_id"] = "does not exist"
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// ListCampaigns handles GET /api/campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "status", "channel", "segment_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListCampaigns(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// GetCampaign handles GET /api/campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, c)
}

// CreateCampaign handles POST /api/campaigns. New campaigns are drafts.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.checkCampaign(r, req); err != nil {
		h.fail(w, r, err)
		return
	}
	c := store.Campaign{
		Name:      strings.TrimSpace(req.Name),
		SegmentID: req.SegmentID,
		Channel:   req.Channel,
		Subject:   strings.TrimSpace(req.Subject),
		Body:      req.Body,
		Status:    store.CampaignDraft,
		CreatedBy: auth.StaffID(r.Context()),
	}
	if err := h.store.CreateCampaign(r.Context(), &c); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, c.ID)
	server.Data(w, http.StatusCreated, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}. Only drafts and scheduled
// campaigns can be edited.
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req campaignRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if c.Status != store.CampaignDraft && c.Status != store.CampaignScheduled {
		h.fail(w, r, apperr.Conflict("campaign is "+c.Status+" and can no longer be edited"))
		return
	}
	if err := h.checkCampaign(r, req); err != nil {
		h.fail(w, r, err)
		return
	}
	c.Name = strings.TrimSpace(req.Name)
	c.SegmentID = req.SegmentID
	c.Channel = req.Channel
	c.Subject = strings.TrimSpace(req.Subject)
	c.Body = req.Body
	if err := h.store.UpdateCampaign(r.Context(), &c); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}. A campaign that is
// sending cannot be deleted.
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if c.Status == store.CampaignSending {
		h.fail(w, r, apperr.Conflict("campaign is sending"))
		return
	}
	if err := h.store.DeleteCampaign(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}

// SendCampaign handles POST /api/campaigns/{id}/send. Delivery continues
// in the background; the response is the campaign in the sending state.
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.messaging.SendCampaignNow(r.Context(), id)
	if err != nil {
		h.fail(w, r, messagingError(err))
		return
	}
	server.Data(w, http.StatusAccepted, c)
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// ScheduleCampaign handles POST /api/campaigns/{id}/schedule.
func (h *Handler) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req scheduleRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.messaging.ScheduleCampaign(r.Context(), id, req.ScheduledAt)
	if err != nil {
		h.fail(w, r, messagingError(err))
		return
	}
	server.Data(w, http.StatusOK, c)
}

// CancelCampaign handles POST /api/campaigns/{id}/cancel.
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.messaging.CancelCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, c)
}

// --- Notifications ---

// ListNotifications handles GET /api/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "channel", "status", "campaign_id", "customer_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListNotifications(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// GetNotification handles GET /api/notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.store.GetNotification(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, n)
}
