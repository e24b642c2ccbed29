package marketplace

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/l0p7/influencehub/internal/runtime/apiclient"
	"github.com/l0p7/influencehub/internal/runtime/apierror"
	"github.com/l0p7/influencehub/internal/runtime/form"
	"github.com/l0p7/influencehub/internal/runtime/mutation"
	"github.com/l0p7/influencehub/internal/runtime/notify"
)

// Mutation names.
const (
	MutationCreateCampaign  = "create-campaign"
	MutationUpdateCampaign  = "update-campaign"
	MutationDeleteCampaign  = "delete-campaign"
	MutationMarkPaymentPaid = "mark-payment-paid"
	MutationAcceptRequest   = "accept-request"
	MutationRejectRequest   = "reject-request"
	MutationUpdateProfile   = "update-profile"
)

var defaultNotices = map[string]string{
	MutationCreateCampaign:  `Campaign "{{ .Result.Title }}" created`,
	MutationUpdateCampaign:  `Campaign "{{ .Result.Title }}" updated`,
	MutationDeleteCampaign:  `Campaign deleted`,
	MutationMarkPaymentPaid: `Payment marked as completed`,
	MutationAcceptRequest:   `Collaboration request accepted`,
	MutationRejectRequest:   `Collaboration request rejected`,
	MutationUpdateProfile:   `Profile updated`,
}

func registerDefaultMessages(messages *notify.Messages) error {
	for name, success := range defaultNotices {
		if err := messages.Register(name, success, ""); err != nil {
			return err
		}
	}
	return nil
}

const (
	platformRule = `value in ["instagram", "youtube", "tiktok"]`
	endDateRule  = `!has(form.start_date) || value > form.start_date`
)

func idField() form.Field {
	return form.Field{Name: "id", Label: "Id", Kind: form.KindInteger, Required: true, Rule: `value > 0`, RuleMessage: "Id must be positive"}
}

func campaignFields(create bool) []form.Field {
	fields := []form.Field{
		{Name: "title", Label: "Title", Required: create, Rule: `size(value) <= 120`, RuleMessage: "Title must be at most 120 characters"},
		{Name: "description", Label: "Description"},
		{Name: "budget", Label: "Budget", Kind: form.KindCurrency, Required: create, Rule: `value > 0.0`, RuleMessage: "Budget must be positive"},
		{Name: "platform", Label: "Platform", Rule: platformRule, RuleMessage: "Platform must be instagram, youtube or tiktok"},
		{Name: "requirements", Label: "Requirements"},
		{Name: "start_date", Label: "Start date", Kind: form.KindDatetime, Required: create},
		{Name: "end_date", Label: "End date", Kind: form.KindDatetime, Rule: endDateRule, RuleMessage: "End date must be after start date"},
	}
	if create {
		return fields
	}
	fields = append([]form.Field{idField()}, fields...)
	return append(fields, form.Field{
		Name:        "status",
		Label:       "Status",
		Rule:        `value in ["draft", "active", "completed"]`,
		RuleMessage: "Status must be draft, active or completed",
	})
}

func profileFields() []form.Field {
	return []form.Field{
		{Name: "display_name", Label: "Display name", Rule: `size(value) <= 80`, RuleMessage: "Display name must be at most 80 characters"},
		{Name: "bio", Label: "Bio", Rule: `size(value) <= 500`, RuleMessage: "Bio must be at most 500 characters"},
		{Name: "website", Label: "Website", Rule: `value.startsWith("http://") || value.startsWith("https://")`, RuleMessage: "Website must start with http:// or https://"},
		{Name: "location", Label: "Location"},
		{Name: "industry", Label: "Industry"},
		{Name: "instagram_handle", Label: "Instagram handle", Rule: `value.matches("^@?[A-Za-z0-9._]{1,30}$")`, RuleMessage: "Instagram handle is invalid"},
		{Name: "youtube_channel", Label: "YouTube channel"},
	}
}

func optional(values form.Values, name string) *string {
	if _, ok := values[name]; !ok {
		return nil
	}
	v := values.String(name)
	return &v
}

func (m *Marketplace) mutationLogger(name string) *slog.Logger {
	return m.logger.With(slog.String("mutation", name))
}

// viewError is the view-level error hook: the bridge renders the recorded
// form state, so the hook only logs.
func viewError[In any](logger *slog.Logger) func(apierror.Normalized, In, mutation.Rollback) {
	return func(err apierror.Normalized, _ In, rollback mutation.Rollback) {
		logger.Debug("mutation error surfaced",
			slog.String("kind", string(err.Kind)),
			slog.Any("rolled_back", rollback.Keys),
		)
	}
}

func (in CampaignDraftInput) placeholder() Campaign {
	c := Campaign{
		ID:            in.tempID,
		Title:         in.Title,
		Description:   in.Description,
		Platform:      in.Platform,
		Requirements:  in.Requirements,
		Status:        CampaignDraft,
		PaymentStatus: PaymentPending,
	}
	if d, err := decimal.NewFromString(in.Budget); err == nil {
		c.Budget = &d
	}
	if t, err := time.Parse(time.RFC3339, in.StartDate); err == nil {
		c.StartDate = &t
	}
	if t, err := time.Parse(time.RFC3339, in.EndDate); err == nil {
		c.EndDate = &t
	}
	return c
}

func (m *Marketplace) createCampaign() error {
	logger := m.mutationLogger(MutationCreateCampaign)
	ctrl, err := mutation.New(m.cache, mutation.Options[CampaignDraftInput, Campaign]{
		Name: MutationCreateCampaign,
		Mutate: func(ctx context.Context, in CampaignDraftInput) (Campaign, error) {
			body, err := m.client.Do(ctx, http.MethodPost, pathCampaigns, in)
			if err != nil {
				return Campaign{}, err
			}
			return apiclient.DecodeJSON[Campaign](body)
		},
		OnMutate: func(in CampaignDraftInput) []mutation.Optimistic {
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, mutation.Prepend(in.placeholder())),
			}
		},
		Reconcile: func(in CampaignDraftInput, out Campaign) []mutation.Optimistic {
			if out.ID == 0 {
				return nil
			}
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, func(prev []Campaign) []Campaign {
					next := make([]Campaign, 0, len(prev)+1)
					replaced := false
					for _, c := range prev {
						if c.ID == in.tempID || c.ID == out.ID {
							if !replaced {
								next = append(next, out)
								replaced = true
							}
							continue
						}
						next = append(next, c)
					}
					if !replaced {
						next = append([]Campaign{out}, next...)
					}
					return next
				}),
			}
		},
		OnError:     viewError[CampaignDraftInput](logger),
		Invalidates: []string{KeyCompanyCampaigns, KeyCompanyProfile},
		Notifier:    m.notifier,
		Messages:    m.messages,
		Logger:      m.logger,
		Metrics:     m.metrics,
	})
	if err != nil {
		return err
	}
	binder, err := form.New(form.Options[Campaign]{
		Name:     MutationCreateCampaign,
		Fields:   campaignFields(true),
		Env:      m.rules,
		Location: m.location,
		Submit: func(ctx context.Context, v form.Values) (Campaign, error) {
			return ctrl.Invoke(ctx, CampaignDraftInput{
				Title:        v.String("title"),
				Description:  v.String("description"),
				Budget:       v.String("budget"),
				Platform:     v.String("platform"),
				Requirements: v.String("requirements"),
				StartDate:    v.String("start_date"),
				EndDate:      v.String("end_date"),
				tempID:       m.nextTempID(),
			})
		},
	})
	if err != nil {
		return err
	}
	m.register(binder, ctrl)
	return nil
}

func (m *Marketplace) updateCampaign() error {
	logger := m.mutationLogger(MutationUpdateCampaign)
	ctrl, err := mutation.New(m.cache, mutation.Options[CampaignPatch, Campaign]{
		Name: MutationUpdateCampaign,
		Mutate: func(ctx context.Context, in CampaignPatch) (Campaign, error) {
			body, err := m.client.Do(ctx, http.MethodPatch, campaignPath(in.ID), in)
			if err != nil {
				return Campaign{}, err
			}
			return apiclient.DecodeJSON[Campaign](body)
		},
		OnMutate: func(in CampaignPatch) []mutation.Optimistic {
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, mutation.UpdateByID(campaignID, in.ID, in.Apply)),
			}
		},
		Reconcile: func(in CampaignPatch, out Campaign) []mutation.Optimistic {
			if out.ID == 0 {
				return nil
			}
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, mutation.ReplaceByID(campaignID, out)),
			}
		},
		OnError:     viewError[CampaignPatch](logger),
		Invalidates: []string{KeyCompanyCampaigns, KeyCompanyProfile},
		Notifier:    m.notifier,
		Messages:    m.messages,
		Logger:      m.logger,
		Metrics:     m.metrics,
	})
	if err != nil {
		return err
	}
	binder, err := form.New(form.Options[Campaign]{
		Name:     MutationUpdateCampaign,
		Fields:   campaignFields(false),
		Env:      m.rules,
		Location: m.location,
		Submit: func(ctx context.Context, v form.Values) (Campaign, error) {
			return ctrl.Invoke(ctx, CampaignPatch{
				ID:           v.Int("id"),
				Title:        optional(v, "title"),
				Description:  optional(v, "description"),
				Budget:       optional(v, "budget"),
				Platform:     optional(v, "platform"),
				Requirements: optional(v, "requirements"),
				StartDate:    optional(v, "start_date"),
				EndDate:      optional(v, "end_date"),
				Status:       optional(v, "status"),
			})
		},
	})
	if err != nil {
		return err
	}
	m.register(binder, ctrl)
	return nil
}

func (m *Marketplace) deleteCampaign() error {
	logger := m.mutationLogger(MutationDeleteCampaign)
	ctrl, err := mutation.New(m.cache, mutation.Options[int64, Deleted]{
		Name: MutationDeleteCampaign,
		Mutate: func(ctx context.Context, id int64) (Deleted, error) {
			if _, err := m.client.Do(ctx, http.MethodDelete, campaignPath(id), nil); err != nil {
				return Deleted{}, err
			}
			return Deleted{ID: id}, nil
		},
		OnMutate: func(id int64) []mutation.Optimistic {
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, mutation.RemoveByID(campaignID, id)),
			}
		},
		OnError:     viewError[int64](logger),
		Invalidates: []string{KeyCompanyCampaigns, KeyCompanyProfile},
		Notifier:    m.notifier,
		Messages:    m.messages,
		Logger:      m.logger,
		Metrics:     m.metrics,
	})
	if err != nil {
		return err
	}
	binder, err := form.New(form.Options[Deleted]{
		Name:   MutationDeleteCampaign,
		Fields: []form.Field{idField()},
		Env:    m.rules,
		Submit: func(ctx context.Context, v form.Values) (Deleted, error) {
			return ctrl.Invoke(ctx, v.Int("id"))
		},
	})
	if err != nil {
		return err
	}
	m.register(binder, ctrl)
	return nil
}

func (m *Marketplace) markPaymentPaid() error {
	logger := m.mutationLogger(MutationMarkPaymentPaid)
	markPaid := func(c Campaign) Campaign {
		c.PaymentStatus = PaymentPaid
		return c
	}
	ctrl, err := mutation.New(m.cache, mutation.Options[int64, Campaign]{
		Name: MutationMarkPaymentPaid,
		Mutate: func(ctx context.Context, id int64) (Campaign, error) {
			body, err := m.client.Do(ctx, http.MethodPost, paymentPath(id), map[string]string{"payment_status": PaymentPaid})
			if err != nil {
				return Campaign{}, err
			}
			return apiclient.DecodeJSON[Campaign](body)
		},
		OnMutate: func(id int64) []mutation.Optimistic {
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, mutation.UpdateByID(campaignID, id, markPaid)),
			}
		},
		Reconcile: func(id int64, out Campaign) []mutation.Optimistic {
			if out.ID == 0 {
				return nil
			}
			return []mutation.Optimistic{
				mutation.PatchKey(KeyCompanyCampaigns, mutation.ReplaceByID(campaignID, out)),
			}
		},
		OnError:     viewError[int64](logger),
		Invalidates: []string{KeyCompanyCampaigns, KeyCompanyProfile},
		Notifier:    m.notifier,
		Messages:    m.messages,
		Logger:      m.logger,
		Metrics:     m.metrics,
	})
	if err != nil {
		return err
	}
	binder, err := form.New(form.Options[Campaign]{
		Name:   MutationMarkPaymentPaid,
		Fields: []form.Field{idField()},
		Env:    m.rules,
		Submit: func(ctx context.Context, v form.Values) (Campaign, error) {
			return ctrl.Invoke(ctx, v.Int("id"))
		},
	})
	if err != nil {
		return err
	}
	m.register(binder, ctrl)
	return nil
}

func (m *Marketplace) acceptRequest() error {
	return m.requestAction(MutationAcceptRequest, "accept", RequestAccepted)
}

func (m *Marketplace) rejectRequest() error {
	return m.requestAction(MutationRejectRequest, "reject", RequestRejected)
}

func (m *Marketplace) requestAction(name, action, status string) error {
	logger := m.mutationLogger(name)
	setStatus := func(r CollaborationRequest) CollaborationRequest {
		r.Status = status
		return r
	}
	ctrl, err := mutation.New(m.cache, mutation.Options[int64, CollaborationRequest]{
		Name: name,
		Mutate: func(ctx context.Context, id int64) (CollaborationRequest, error) {
			body, err := m.client.Do(ctx, http.MethodPost, requestActionPath(id, action), nil)
			if err != nil {
				return CollaborationRequest{}, err
			}
			return apiclient.DecodeJSON[CollaborationRequest](body, "request")
		},
		OnMutate: func(id int64) []mutation.Optimistic {
			return []mutation.Optimistic{
				mutation.PatchKey(KeyInfluencerRequests, mutation.UpdateByID(requestID, id, setStatus)),
			}
		},
		Reconcile: func(id int64, out CollaborationRequest) []mutation.Optimistic {
			if out.ID == 0 {
				return nil
			}
			return []mutation.Optimistic{
				mutation.PatchKey(KeyInfluencerRequests, mutation.ReplaceByID(requestID, out)),
			}
		},
		OnError:     viewError[int64](logger),
		Invalidates: []string{KeyInfluencerRequests, KeyInfluencerProfile},
		Notifier:    m.notifier,
		Messages:    m.messages,
		Logger:      m.logger,
		Metrics:     m.metrics,
	})
	if err != nil {
		return err
	}
	binder, err := form.New(form.Options[CollaborationRequest]{
		Name:   name,
		Fields: []form.Field{idField()},
		Env:    m.rules,
		Submit: func(ctx context.Context, v form.Values) (CollaborationRequest, error) {
			return ctrl.Invoke(ctx, v.Int("id"))
		},
	})
	if err != nil {
		return err
	}
	m.register(binder, ctrl)
	return nil
}

func (m *Marketplace) updateProfile() error {
	logger := m.mutationLogger(MutationUpdateProfile)
	key := ProfileKey(m.role)
	ctrl, err := mutation.New(m.cache, mutation.Options[ProfilePatch, Profile]{
		Name: MutationUpdateProfile,
		Mutate: func(ctx context.Context, in ProfilePatch) (Profile, error) {
			body, err := m.client.Do(ctx, http.MethodPatch, pathProfile, in)
			if err != nil {
				return Profile{}, err
			}
			return apiclient.DecodeJSON[Profile](body, "profile")
		},
		OnMutate: func(in ProfilePatch) []mutation.Optimistic {
			return []mutation.Optimistic{mutation.PatchKey(key, in.Apply)}
		},
		Reconcile: func(_ ProfilePatch, out Profile) []mutation.Optimistic {
			if out == (Profile{}) {
				return nil
			}
			return []mutation.Optimistic{mutation.SetKey(key, out)}
		},
		OnError:     viewError[ProfilePatch](logger),
		Invalidates: []string{key},
		InvalidatesFor: func(in ProfilePatch) []string {
			if in.InstagramHandle == nil {
				return nil
			}
			return []string{InstagramLookupKey(*in.InstagramHandle)}
		},
		Notifier: m.notifier,
		Messages: m.messages,
		Logger:   m.logger,
		Metrics:  m.metrics,
	})
	if err != nil {
		return err
	}
	binder, err := form.New(form.Options[Profile]{
		Name:   MutationUpdateProfile,
		Fields: profileFields(),
		Env:    m.rules,
		Submit: func(ctx context.Context, v form.Values) (Profile, error) {
			var handle *string
			if raw := optional(v, "instagram_handle"); raw != nil {
				normalized := normalizeHandle(*raw)
				handle = &normalized
			}
			return ctrl.Invoke(ctx, ProfilePatch{
				DisplayName:     optional(v, "display_name"),
				Bio:             optional(v, "bio"),
				Website:         optional(v, "website"),
				Location:        optional(v, "location"),
				Industry:        optional(v, "industry"),
				InstagramHandle: handle,
				YouTubeChannel:  optional(v, "youtube_channel"),
			})
		},
	})
	if err != nil {
		return err
	}
	m.register(binder, ctrl)
	return nil
}
