package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/l0p7/influencehub/internal/runtime/apiclient"
	"github.com/l0p7/influencehub/internal/runtime/dashboard"
	"github.com/l0p7/influencehub/internal/runtime/query"
)

// Query keys.
const (
	KeyCompanyCampaigns      = "company-campaigns"
	KeyCompanyProfile        = "company-profile"
	KeyCompanyCollaborations = "company-collaborations"
	KeyCompanyAnalytics      = "company-analytics"
	KeyInfluencerRequests    = "influencer-requests"
	KeyInfluencerProfile     = "influencer-profile"
	KeyInfluencerAnalytics   = "influencer-analytics"

	instagramLookupPrefix = "instagram-lookup:"
)

// REST paths owned by the backend.
const (
	pathCampaigns      = "/campaigns/"
	pathCollaborations = "/collaborations/"
	pathRequests       = "/requests/"
	pathProfile        = "/profile/"
	pathAnalytics      = "/analytics/"
	pathInstagram      = "/social/instagram/"
)

// ErrUnknownQuery is returned for keys the marketplace has no loader for.
var ErrUnknownQuery = errors.New("marketplace: unknown query")

// InstagramLookupKey is the cache key for a handle lookup. Handles are
// compared without a leading @ and case-insensitively.
func InstagramLookupKey(handle string) string {
	return instagramLookupPrefix + normalizeHandle(handle)
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

func campaignPath(id int64) string { return fmt.Sprintf("%s%d/", pathCampaigns, id) }

func paymentPath(id int64) string { return fmt.Sprintf("%s%d/payment/", pathCampaigns, id) }

func requestActionPath(id int64, action string) string {
	return fmt.Sprintf("%s%d/%s/", pathRequests, id, action)
}

// queryPaths maps each role's keys onto the endpoint that serves them.
var queryPaths = map[dashboard.Role]map[string]string{
	dashboard.RoleCompany: {
		KeyCompanyCampaigns:      pathCampaigns,
		KeyCompanyProfile:        pathProfile,
		KeyCompanyCollaborations: pathCollaborations,
		KeyCompanyAnalytics:      pathAnalytics,
	},
	dashboard.RoleInfluencer: {
		KeyInfluencerRequests:  pathRequests,
		KeyInfluencerProfile:   pathProfile,
		KeyInfluencerAnalytics: pathAnalytics,
	},
}

// ProfileKey is the profile key of role.
func ProfileKey(role dashboard.Role) string {
	if role == dashboard.RoleInfluencer {
		return KeyInfluencerProfile
	}
	return KeyCompanyProfile
}

// AnalyticsKey is the polled analytics key of role.
func AnalyticsKey(role dashboard.Role) string {
	if role == dashboard.RoleInfluencer {
		return KeyInfluencerAnalytics
	}
	return KeyCompanyAnalytics
}

// Keys lists the static query keys of the marketplace role.
func (m *Marketplace) Keys() []string {
	paths := queryPaths[m.role]
	out := make([]string, 0, len(paths))
	for _, key := range []string{
		KeyCompanyCampaigns, KeyCompanyProfile, KeyCompanyCollaborations, KeyCompanyAnalytics,
		KeyInfluencerRequests, KeyInfluencerProfile, KeyInfluencerAnalytics,
	} {
		if _, ok := paths[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// Loader returns the network read behind key.
func (m *Marketplace) Loader(key string) (query.Loader, error) {
	if strings.HasPrefix(key, instagramLookupPrefix) {
		handle := normalizeHandle(strings.TrimPrefix(key, instagramLookupPrefix))
		if handle == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, key)
		}
		return m.get(pathInstagram + url.PathEscape(handle) + "/"), nil
	}
	path, ok := queryPaths[m.role][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, key)
	}
	return m.get(path), nil
}

// get reads path and strips the envelopes list endpoints are served in.
func (m *Marketplace) get(path string) query.Loader {
	return func(ctx context.Context) (json.RawMessage, error) {
		body, err := m.client.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return apiclient.Unwrap(body, "results"), nil
	}
}

// Fetch reads key through the cache.
func (m *Marketplace) Fetch(ctx context.Context, key string) (query.Entry, error) {
	if strings.HasPrefix(key, instagramLookupPrefix) {
		key = InstagramLookupKey(strings.TrimPrefix(key, instagramLookupPrefix))
	}
	loader, err := m.Loader(key)
	if err != nil {
		return query.Entry{}, err
	}
	return m.cache.Fetch(ctx, key, loader), nil
}

// LookupInstagram fetches and decodes a public Instagram profile.
func (m *Marketplace) LookupInstagram(ctx context.Context, handle string) (InstagramProfile, query.Entry, error) {
	entry, err := m.Fetch(ctx, InstagramLookupKey(handle))
	if err != nil {
		return InstagramProfile{}, entry, err
	}
	if entry.Status == query.StatusError && !entry.HasData() {
		return InstagramProfile{}, entry, errors.New(entry.Err)
	}
	profile, err := query.Decode[InstagramProfile](entry)
	return profile, entry, err
}
