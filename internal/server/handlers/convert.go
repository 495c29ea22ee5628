// Converts between clans entities and API types.

package handlers

import (
	"time"

	"github.com/maruel/arena/internal/clans"
	"github.com/maruel/arena/internal/server/dto"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func clanToDTO(c *clans.Clan) dto.ClanResponse {
	pricing := make([]dto.PriceTier, len(c.Pricing))
	for i, p := range c.Pricing {
		pricing[i] = dto.PriceTier{Name: p.Name, Price: p.Price, Currency: p.Currency}
	}
	reqs := c.Requirements
	if reqs == nil {
		reqs = []string{}
	}
	return dto.ClanResponse{
		ID:           c.ID,
		Name:         c.Name,
		Tag:          c.Tag,
		Region:       c.Region,
		Description:  c.Description,
		OwnerID:      c.OwnerID,
		Trophies:     c.Trophies,
		Hireable:     c.Hireable,
		Pricing:      pricing,
		Requirements: reqs,
		Created:      formatTime(c.Created),
		Modified:     formatTime(c.Modified),
	}
}

func pricingFromDTO(tiers []dto.PriceTier) []clans.PriceTier {
	if tiers == nil {
		return nil
	}
	out := make([]clans.PriceTier, len(tiers))
	for i, p := range tiers {
		out[i] = clans.PriceTier{Name: p.Name, Price: p.Price, Currency: p.Currency}
	}
	return out
}

func memberToDTO(m *clans.Member) dto.MemberResponse {
	return dto.MemberResponse{
		ID:       m.ID,
		ClanID:   m.ClanID,
		PlayerID: m.PlayerID,
		Role:     string(m.Role),
		Joined:   formatTime(m.Joined),
	}
}

func applicationToDTO(a *clans.Application) dto.ApplicationResponse {
	r := dto.ApplicationResponse{
		ID:       a.ID,
		ClanID:   a.ClanID,
		PlayerID: a.PlayerID,
		Message:  a.Message,
		Status:   string(a.Status),
		Created:  formatTime(a.Created),
	}
	if a.Decided != nil {
		r.Decided = formatTime(*a.Decided)
	}
	return r
}
