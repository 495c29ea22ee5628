package dto

// OkResponse is a simple success response.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// HealthResponse is a response from the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Engine  string `json:"engine"`
}

// ClanResponse is a clan as returned by the API.
type ClanResponse struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Tag          string      `json:"tag"`
	Region       string      `json:"region,omitempty"`
	Description  string      `json:"description,omitempty"`
	OwnerID      string      `json:"owner_id"`
	Trophies     int         `json:"trophies"`
	Hireable     bool        `json:"hireable"`
	Pricing      []PriceTier `json:"pricing"`
	Requirements []string    `json:"requirements"`
	Created      string      `json:"created"`
	Modified     string      `json:"modified"`
}

// ListClansResponse is one page of clans.
type ListClansResponse struct {
	Clans      []ClanResponse `json:"clans"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// MemberResponse is a clan member.
type MemberResponse struct {
	ID       string `json:"id"`
	ClanID   string `json:"clan_id"`
	PlayerID string `json:"player_id"`
	Role     string `json:"role"`
	Joined   string `json:"joined"`
}

// ListMembersResponse lists a clan's members.
type ListMembersResponse struct {
	Members []MemberResponse `json:"members"`
}

// ApplicationResponse is a join application.
type ApplicationResponse struct {
	ID       string `json:"id"`
	ClanID   string `json:"clan_id"`
	PlayerID string `json:"player_id"`
	Message  string `json:"message,omitempty"`
	Status   string `json:"status"`
	Created  string `json:"created"`
	Decided  string `json:"decided,omitempty"`
}

// ListApplicationsResponse lists a clan's applications.
type ListApplicationsResponse struct {
	Applications []ApplicationResponse `json:"applications"`
}
