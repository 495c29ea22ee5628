// Handles clan registry endpoints.

package handlers

import (
	"context"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/maruel/arena/internal/clans"
	"github.com/maruel/arena/internal/server/dto"
)

// ClanHandler serves the clan registry.
type ClanHandler struct {
	svc *clans.Service
}

// NewClanHandler creates a new clan handler.
func NewClanHandler(svc *clans.Service) *ClanHandler {
	return &ClanHandler{svc: svc}
}

// Schema returns the JSON Schema of the registration payload.
func (h *ClanHandler) Schema(ctx context.Context, req *dto.SchemaRequest) (*jsonschema.Schema, error) {
	return clans.Schema(), nil
}

// Register registers a clan.
func (h *ClanHandler) Register(ctx context.Context, req *dto.RegisterClanRequest) (*dto.ClanResponse, error) {
	c, err := h.svc.Register(ctx, &clans.RegisterRequest{
		Name:         req.Name,
		Tag:          req.Tag,
		Region:       req.Region,
		Description:  req.Description,
		OwnerID:      req.OwnerID,
		Trophies:     req.Trophies,
		Hireable:     req.Hireable,
		Pricing:      pricingFromDTO(req.Pricing),
		Requirements: req.Requirements,
	})
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := clanToDTO(c)
	return &resp, nil
}

// List lists clans.
func (h *ClanHandler) List(ctx context.Context, req *dto.ListClansRequest) (*dto.ListClansResponse, error) {
	opts := &clans.ListOptions{
		Region:      req.Region,
		Name:        req.Name,
		MinTrophies: req.MinTrophies,
		SortBy:      req.Sort,
		Order:       strings.ToLower(req.Order),
		Page:        req.Page,
		PageSize:    req.PageSize,
		Filters:     req.Filter,
	}
	if req.Hireable != "" {
		v := req.Hireable == "true"
		opts.Hireable = &v
	}
	p, err := h.svc.List(ctx, opts)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := &dto.ListClansResponse{
		Clans:      make([]dto.ClanResponse, 0, len(p.Items)),
		Total:      p.Total,
		TotalPages: p.TotalPages,
		Page:       p.Page,
		PageSize:   p.PageSize,
	}
	for _, c := range p.Items {
		resp.Clans = append(resp.Clans, clanToDTO(c))
	}
	return resp, nil
}

// Get returns a clan.
func (h *ClanHandler) Get(ctx context.Context, req *dto.GetClanRequest) (*dto.ClanResponse, error) {
	c, err := h.svc.Get(ctx, req.ID)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := clanToDTO(c)
	return &resp, nil
}

// Update applies a partial update to a clan.
func (h *ClanHandler) Update(ctx context.Context, req *dto.UpdateClanRequest) (*dto.ClanResponse, error) {
	u := &clans.UpdateRequest{
		Name:         req.Name,
		Tag:          req.Tag,
		Region:       req.Region,
		Description:  req.Description,
		Trophies:     req.Trophies,
		Hireable:     req.Hireable,
		Requirements: req.Requirements,
	}
	if req.Pricing != nil {
		p := pricingFromDTO(*req.Pricing)
		if p == nil {
			p = []clans.PriceTier{}
		}
		u.Pricing = &p
	}
	c, err := h.svc.Update(ctx, req.ID, u)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := clanToDTO(c)
	return &resp, nil
}

// Delete deletes a clan with its members and applications. With force, the
// clan is loaded first and dependents are removed even if the clan vanishes
// concurrently.
func (h *ClanHandler) Delete(ctx context.Context, req *dto.DeleteClanRequest) (*dto.OkResponse, error) {
	if req.Force {
		c, err := h.svc.Get(ctx, req.ID)
		if err != nil {
			return nil, toAPIError(err)
		}
		if err := h.svc.ForceDelete(ctx, c); err != nil {
			return nil, toAPIError(err)
		}
		return &dto.OkResponse{Ok: true}, nil
	}
	if err := h.svc.Delete(ctx, req.ID); err != nil {
		return nil, toAPIError(err)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// ListMembers lists a clan's members.
func (h *ClanHandler) ListMembers(ctx context.Context, req *dto.ListMembersRequest) (*dto.ListMembersResponse, error) {
	members, err := h.svc.ListMembers(ctx, req.ClanID)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := &dto.ListMembersResponse{Members: make([]dto.MemberResponse, 0, len(members))}
	for _, m := range members {
		resp.Members = append(resp.Members, memberToDTO(m))
	}
	return resp, nil
}

// AddMember adds a member to a clan.
func (h *ClanHandler) AddMember(ctx context.Context, req *dto.AddMemberRequest) (*dto.MemberResponse, error) {
	m, err := h.svc.AddMember(ctx, req.ClanID, &clans.AddMemberRequest{PlayerID: req.PlayerID, Role: clans.Role(req.Role)})
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := memberToDTO(m)
	return &resp, nil
}

// RemoveMember removes a member from a clan.
func (h *ClanHandler) RemoveMember(ctx context.Context, req *dto.RemoveMemberRequest) (*dto.OkResponse, error) {
	if err := h.svc.RemoveMember(ctx, req.ClanID, req.MemberID); err != nil {
		return nil, toAPIError(err)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// Apply files an application to join a clan.
func (h *ClanHandler) Apply(ctx context.Context, req *dto.ApplyRequest) (*dto.ApplicationResponse, error) {
	a, err := h.svc.Apply(ctx, req.ClanID, &clans.ApplyRequest{PlayerID: req.PlayerID, Message: req.Message})
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := applicationToDTO(a)
	return &resp, nil
}

// ListApplications lists a clan's applications.
func (h *ClanHandler) ListApplications(ctx context.Context, req *dto.ListApplicationsRequest) (*dto.ListApplicationsResponse, error) {
	apps, err := h.svc.ListApplications(ctx, req.ClanID, clans.Status(req.Status))
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := &dto.ListApplicationsResponse{Applications: make([]dto.ApplicationResponse, 0, len(apps))}
	for _, a := range apps {
		resp.Applications = append(resp.Applications, applicationToDTO(a))
	}
	return resp, nil
}

// DecideApplication accepts or rejects an application.
func (h *ClanHandler) DecideApplication(ctx context.Context, req *dto.DecideApplicationRequest) (*dto.ApplicationResponse, error) {
	a, err := h.svc.DecideApplication(ctx, req.ClanID, req.AppID, *req.Accept)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp := applicationToDTO(a)
	return &resp, nil
}
