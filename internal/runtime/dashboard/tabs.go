// Package dashboard tracks which tab of a role's dashboard is selected.
package dashboard

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role picks the tab set.
type Role string

const (
	RoleCompany    Role = "company"
	RoleInfluencer Role = "influencer"
)

// Tab is one named dashboard section.
type Tab string

const (
	TabOverview       Tab = "overview"
	TabProfile        Tab = "profile"
	TabCampaigns      Tab = "campaigns"
	TabInfluencers    Tab = "influencers"
	TabCollaborations Tab = "collaborations"
	TabRequests       Tab = "requests"
	TabAnalytics      Tab = "analytics"
)

var (
	ErrUnknownTab  = errors.New("dashboard: unknown tab")
	ErrUnknownRole = errors.New("dashboard: unknown role")
)

var tabSets = map[Role][]Tab{
	RoleCompany:    {TabOverview, TabProfile, TabCampaigns, TabInfluencers, TabCollaborations, TabAnalytics},
	RoleInfluencer: {TabOverview, TabProfile, TabCampaigns, TabRequests, TabAnalytics},
}

// Tabs lists the tabs of role in display order.
func Tabs(role Role) []Tab {
	return append([]Tab(nil), tabSets[role]...)
}

// ParseRole accepts role names case-insensitively.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := tabSets[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
	}
	return role, nil
}

// Navigator holds the selected tab. Every known tab is reachable from every
// other; selecting a tab always fires the scroll hook, including when it is
// already selected.
type Navigator struct {
	role     Role
	allowed  map[Tab]bool
	onScroll func(Tab)

	mu      sync.Mutex
	current Tab
}

// NewNavigator starts on the overview tab. onScroll may be nil.
func NewNavigator(role Role, onScroll func(Tab)) (*Navigator, error) {
	tabs, ok := tabSets[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	allowed := make(map[Tab]bool, len(tabs))
	for _, tab := range tabs {
		allowed[tab] = true
	}
	return &Navigator{role: role, allowed: allowed, onScroll: onScroll, current: TabOverview}, nil
}

func (n *Navigator) Role() Role { return n.role }

func (n *Navigator) Current() Tab {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// SelectTab switches to id.
func (n *Navigator) SelectTab(id string) error {
	tab := Tab(strings.ToLower(strings.TrimSpace(id)))
	if !n.allowed[tab] {
		return fmt.Errorf("%w: %q", ErrUnknownTab, id)
	}
	n.mu.Lock()
	n.current = tab
	n.mu.Unlock()
	if n.onScroll != nil {
		n.onScroll(tab)
	}
	return nil
}

// View is the serializable navigator state.
type View struct {
	Role    Role  `json:"role"`
	Current Tab   `json:"current"`
	Tabs    []Tab `json:"tabs"`
}

func (n *Navigator) View() View {
	return View{Role: n.role, Current: n.Current(), Tabs: Tabs(n.role)}
}
