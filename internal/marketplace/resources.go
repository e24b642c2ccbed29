// Package marketplace binds the runtime primitives to the influencer
// marketplace resources served by the backend API.
package marketplace

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign is a brand campaign as returned by /campaigns/.
type Campaign struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description,omitempty"`
	Budget        *decimal.Decimal `json:"budget,omitempty"`
	Platform      string           `json:"platform,omitempty"`
	Requirements  string           `json:"requirements,omitempty"`
	StartDate     *time.Time       `json:"start_date,omitempty"`
	EndDate       *time.Time       `json:"end_date,omitempty"`
	Status        string           `json:"status,omitempty"`
	PaymentStatus string           `json:"payment_status,omitempty"`
}

func campaignID(c Campaign) int64 { return c.ID }

// Campaign statuses and payment statuses used by the patches.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignCompleted = "completed"

	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// CampaignDraftInput is the create-campaign payload.
type CampaignDraftInput struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Budget       string `json:"budget"`
	Platform     string `json:"platform,omitempty"`
	Requirements string `json:"requirements,omitempty"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date,omitempty"`

	// placeholder id shown until the server assigns one
	tempID int64
}

// CampaignPatch is the update-campaign payload. Nil fields are not sent.
type CampaignPatch struct {
	ID           int64   `json:"-"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Budget       *string `json:"budget,omitempty"`
	Platform     *string `json:"platform,omitempty"`
	Requirements *string `json:"requirements,omitempty"`
	StartDate    *string `json:"start_date,omitempty"`
	EndDate      *string `json:"end_date,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// Apply overlays the patch on c.
func (p CampaignPatch) Apply(c Campaign) Campaign {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Budget != nil {
		if d, err := decimal.NewFromString(*p.Budget); err == nil {
			c.Budget = &d
		}
	}
	if p.Platform != nil {
		c.Platform = *p.Platform
	}
	if p.Requirements != nil {
		c.Requirements = *p.Requirements
	}
	if p.StartDate != nil {
		if t, err := time.Parse(time.RFC3339, *p.StartDate); err == nil {
			c.StartDate = &t
		}
	}
	if p.EndDate != nil {
		if t, err := time.Parse(time.RFC3339, *p.EndDate); err == nil {
			c.EndDate = &t
		}
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	return c
}

// CollaborationRequest is an offer from a company to an influencer.
type CollaborationRequest struct {
	ID            int64            `json:"id"`
	CampaignID    int64            `json:"campaign,omitempty"`
	CampaignTitle string           `json:"campaign_title,omitempty"`
	CompanyName   string           `json:"company_name,omitempty"`
	Message       string           `json:"message,omitempty"`
	Offer         *decimal.Decimal `json:"offer,omitempty"`
	Status        string           `json:"status"`
	CreatedAt     *time.Time       `json:"created_at,omitempty"`
}

func requestID(r CollaborationRequest) int64 { return r.ID }

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// Profile is the signed-in account's public profile.
type Profile struct {
	ID              int64  `json:"id,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	Bio             string `json:"bio,omitempty"`
	Website         string `json:"website,omitempty"`
	Location        string `json:"location,omitempty"`
	Industry        string `json:"industry,omitempty"`
	InstagramHandle string `json:"instagram_handle,omitempty"`
	YouTubeChannel  string `json:"youtube_channel,omitempty"`
	TotalCampaigns  int64  `json:"total_campaigns,omitempty"`
	TotalSpent      string `json:"total_spent,omitempty"`
}

// ProfilePatch is the update-profile payload. Nil fields are not sent.
type ProfilePatch struct {
	DisplayName     *string `json:"display_name,omitempty"`
	Bio             *string `json:"bio,omitempty"`
	Website         *string `json:"website,omitempty"`
	Location        *string `json:"location,omitempty"`
	Industry        *string `json:"industry,omitempty"`
	InstagramHandle *string `json:"instagram_handle,omitempty"`
	YouTubeChannel  *string `json:"youtube_channel,omitempty"`
}

func (p ProfilePatch) Apply(prof Profile) Profile {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&prof.DisplayName, p.DisplayName)
	set(&prof.Bio, p.Bio)
	set(&prof.Website, p.Website)
	set(&prof.Location, p.Location)
	set(&prof.Industry, p.Industry)
	set(&prof.InstagramHandle, p.InstagramHandle)
	set(&prof.YouTubeChannel, p.YouTubeChannel)
	return prof
}

// Analytics is the aggregate performance summary shown on the analytics tab.
type Analytics struct {
	Followers      int64            `json:"followers"`
	Impressions    int64            `json:"impressions"`
	Reach          int64            `json:"reach"`
	EngagementRate float64          `json:"engagement_rate"`
	Earnings       *decimal.Decimal `json:"earnings,omitempty"`
	Series         []AnalyticsPoint `json:"series,omitempty"`
}

type AnalyticsPoint struct {
	Date        string `json:"date"`
	Impressions int64  `json:"impressions"`
	Engagement  int64  `json:"engagement"`
}

// InstagramProfile is the result of a public handle lookup.
type InstagramProfile struct {
	Username          string  `json:"username"`
	FullName          string  `json:"full_name,omitempty"`
	Biography         string  `json:"biography,omitempty"`
	FollowersCount    int64   `json:"followers_count"`
	FollowsCount      int64   `json:"follows_count,omitempty"`
	MediaCount        int64   `json:"media_count"`
	EngagementRate    float64 `json:"engagement_rate,omitempty"`
	ProfilePictureURL string  `json:"profile_picture_url,omitempty"`
}

// Deleted is the local result of a delete-campaign call.
type Deleted struct {
	ID int64 `json:"id"`
}
