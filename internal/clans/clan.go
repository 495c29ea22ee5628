// Defines clan registry entities and their record encoding.

// Package clans implements the clan registry: clans available for hire, their
// members and the applications players submit to join them.
//
// Entities are stored as opaque records in a recordstore.Engine. Deleting a
// clan removes its members and applications in one atomic cascade.
package clans

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/maruel/arena/internal/recordstore"
)

// Collection names.
const (
	CollectionClans        = "clans"
	CollectionMembers      = "clan_members"
	CollectionApplications = "clan_applications"
)

// Dependents is the cascade group rooted at a clan.
var Dependents = []recordstore.Dependent{
	{Collection: CollectionMembers, ForeignKey: "clan_id"},
	{Collection: CollectionApplications, ForeignKey: "clan_id"},
}

// Clan is a registered clan.
type Clan struct {
	ID           string      `json:"id" jsonschema:"description=Unique clan identifier"`
	Name         string      `json:"name" jsonschema:"description=Display name"`
	Tag          string      `json:"tag" jsonschema:"description=Short uppercase tag shown next to player names"`
	Region       string      `json:"region,omitempty" jsonschema:"description=Home region"`
	Description  string      `json:"description,omitempty" jsonschema:"description=Free-form description"`
	OwnerID      string      `json:"owner_id" jsonschema:"description=Player that registered the clan"`
	Trophies     int         `json:"trophies" jsonschema:"description=Accumulated tournament trophies"`
	Hireable     bool        `json:"hireable" jsonschema:"description=Whether the clan accepts hire requests"`
	Pricing      []PriceTier `json:"pricing" jsonschema:"description=Hire pricing tiers sorted by price"`
	Requirements []string    `json:"requirements" jsonschema:"description=Requirements for applicants"`
	Created      time.Time   `json:"created" jsonschema:"description=Registration timestamp"`
	Modified     time.Time   `json:"modified" jsonschema:"description=Last modification timestamp"`
}

// PriceTier is one hire offer of a clan.
type PriceTier struct {
	Name     string  `json:"name" jsonschema:"description=Tier name,minLength=1,maxLength=32"`
	Price    float64 `json:"price" jsonschema:"description=Price per engagement,minimum=0,maximum=1000000"`
	Currency string  `json:"currency,omitempty" jsonschema:"description=ISO 4217 currency code; USD when empty"`
}

// Role is a member's role within a clan.
type Role string

// Member roles.
const (
	RoleOwner   Role = "owner"
	RoleOfficer Role = "officer"
	RoleMember  Role = "member"
)

// Validate checks the role is known.
func (r Role) Validate() error {
	switch r {
	case RoleOwner, RoleOfficer, RoleMember:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, r)
	}
}

// Member links a player to a clan.
type Member struct {
	ID       string    `json:"id"`
	ClanID   string    `json:"clan_id"`
	PlayerID string    `json:"player_id"`
	Role     Role      `json:"role"`
	Joined   time.Time `json:"joined"`
}

// Status is the state of an application.
type Status string

// Application states.
const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Application is a player's request to join a clan.
type Application struct {
	ID       string     `json:"id"`
	ClanID   string     `json:"clan_id"`
	PlayerID string     `json:"player_id"`
	Message  string     `json:"message,omitempty"`
	Status   Status     `json:"status"`
	Created  time.Time  `json:"created"`
	Decided  *time.Time `json:"decided,omitempty"`
}

// ClanPage is one page of a clan listing.
type ClanPage struct {
	Items      []*Clan `json:"items"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
}

// toRecord encodes an entity with its JSON field names.
func toRecord(v any) (recordstore.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r recordstore.Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// fromRecord decodes a stored record into an entity.
func fromRecord[T any](r recordstore.Record) (*T, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("%w: decode %T: %w", recordstore.ErrStorageUnavailable, v, err)
	}
	return v, nil
}

func fromRecords[T any](rows []recordstore.Record) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, r := range rows {
		v, err := fromRecord[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
