package dto

// --- Health ---

// HealthRequest is a request to check server health.
type HealthRequest struct{}

// Validate validates the health request (always valid).
func (r *HealthRequest) Validate() error { return nil }

// SchemaRequest is a request for the clan registration JSON Schema.
type SchemaRequest struct{}

// Validate validates the schema request (always valid).
func (r *SchemaRequest) Validate() error { return nil }

// --- Clans ---

// PriceTier is one hire offer of a clan.
type PriceTier struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
}

// RegisterClanRequest is a request to register a clan.
type RegisterClanRequest struct {
	Name         string      `json:"name"`
	Tag          string      `json:"tag"`
	Region       string      `json:"region,omitempty"`
	Description  string      `json:"description,omitempty"`
	OwnerID      string      `json:"owner_id"`
	Trophies     int         `json:"trophies,omitempty"`
	Hireable     bool        `json:"hireable,omitempty"`
	Pricing      []PriceTier `json:"pricing,omitempty"`
	Requirements []string    `json:"requirements,omitempty"`
}

// Validate validates the register clan request fields.
func (r *RegisterClanRequest) Validate() error {
	if r.Name == "" {
		return MissingField("name")
	}
	if r.Tag == "" {
		return MissingField("tag")
	}
	if r.OwnerID == "" {
		return MissingField("owner_id")
	}
	return nil
}

// ListClansRequest is a request to list clans.
type ListClansRequest struct {
	Region      string `json:"-" query:"region"`
	Hireable    string `json:"-" query:"hireable"`
	Name        string `json:"-" query:"name"`
	MinTrophies int    `json:"-" query:"min_trophies"`
	Sort        string `json:"-" query:"sort"`
	Order       string `json:"-" query:"order"`
	Page        int    `json:"-" query:"page"`
	PageSize    int    `json:"-" query:"page_size"`
	// Filter holds repeated field:op:value predicates.
	Filter []string `json:"-" query:"filter"`
}

// Validate validates the list clans request fields.
func (r *ListClansRequest) Validate() error {
	switch r.Hireable {
	case "", "true", "false":
	default:
		return InvalidField("hireable", "must be true or false")
	}
	if r.Page < 0 {
		return InvalidField("page", "must not be negative")
	}
	if r.PageSize < 0 {
		return InvalidField("page_size", "must not be negative")
	}
	return nil
}

// GetClanRequest is a request to get a clan.
type GetClanRequest struct {
	ID string `json:"-" path:"id"`
}

// Validate validates the get clan request fields.
func (r *GetClanRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// UpdateClanRequest is a request to update a clan. Omitted fields are
// unchanged.
type UpdateClanRequest struct {
	ID           string       `json:"-" path:"id"`
	Name         *string      `json:"name,omitempty"`
	Tag          *string      `json:"tag,omitempty"`
	Region       *string      `json:"region,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Trophies     *int         `json:"trophies,omitempty"`
	Hireable     *bool        `json:"hireable,omitempty"`
	Pricing      *[]PriceTier `json:"pricing,omitempty"`
	Requirements *[]string    `json:"requirements,omitempty"`
}

// Validate validates the update clan request fields.
func (r *UpdateClanRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	if r.Name == nil && r.Tag == nil && r.Region == nil && r.Description == nil &&
		r.Trophies == nil && r.Hireable == nil && r.Pricing == nil && r.Requirements == nil {
		return BadRequest("no fields to update")
	}
	return nil
}

// DeleteClanRequest is a request to delete a clan and its dependents.
type DeleteClanRequest struct {
	ID    string `json:"-" path:"id"`
	Force bool   `json:"-" query:"force"`
}

// Validate validates the delete clan request fields.
func (r *DeleteClanRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// --- Members ---

// ListMembersRequest is a request to list a clan's members.
type ListMembersRequest struct {
	ClanID string `json:"-" path:"id"`
}

// Validate validates the list members request fields.
func (r *ListMembersRequest) Validate() error {
	if r.ClanID == "" {
		return MissingField("id")
	}
	return nil
}

// AddMemberRequest is a request to add a member to a clan.
type AddMemberRequest struct {
	ClanID   string `json:"-" path:"id"`
	PlayerID string `json:"player_id"`
	Role     string `json:"role,omitempty"`
}

// Validate validates the add member request fields.
func (r *AddMemberRequest) Validate() error {
	if r.ClanID == "" {
		return MissingField("id")
	}
	if r.PlayerID == "" {
		return MissingField("player_id")
	}
	return nil
}

// RemoveMemberRequest is a request to remove a member from a clan.
type RemoveMemberRequest struct {
	ClanID   string `json:"-" path:"id"`
	MemberID string `json:"-" path:"memberID"`
}

// Validate validates the remove member request fields.
func (r *RemoveMemberRequest) Validate() error {
	if r.ClanID == "" {
		return MissingField("id")
	}
	if r.MemberID == "" {
		return MissingField("memberID")
	}
	return nil
}

// --- Applications ---

// ApplyRequest is a request to apply to a clan.
type ApplyRequest struct {
	ClanID   string `json:"-" path:"id"`
	PlayerID string `json:"player_id"`
	Message  string `json:"message,omitempty"`
}

// Validate validates the apply request fields.
func (r *ApplyRequest) Validate() error {
	if r.ClanID == "" {
		return MissingField("id")
	}
	if r.PlayerID == "" {
		return MissingField("player_id")
	}
	return nil
}

// ListApplicationsRequest is a request to list a clan's applications.
type ListApplicationsRequest struct {
	ClanID string `json:"-" path:"id"`
	Status string `json:"-" query:"status"`
}

// Validate validates the list applications request fields.
func (r *ListApplicationsRequest) Validate() error {
	if r.ClanID == "" {
		return MissingField("id")
	}
	return nil
}

// DecideApplicationRequest is a request to accept or reject an application.
type DecideApplicationRequest struct {
	ClanID string `json:"-" path:"id"`
	AppID  string `json:"-" path:"appID"`
	Accept *bool  `json:"accept"`
}

// Validate validates the decide application request fields.
func (r *DecideApplicationRequest) Validate() error {
	if r.ClanID == "" {
		return MissingField("id")
	}
	if r.AppID == "" {
		return MissingField("appID")
	}
	if r.Accept == nil {
		return MissingField("accept")
	}
	return nil
}
