// Implements clan registration, listing, update and cascade deletion.

package clans

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/maruel/ksid"

	"github.com/maruel/arena/internal/recordstore"
)

// Service manages clans and their dependents on top of a record store.
type Service struct {
	db    recordstore.Engine
	now   func() time.Time
	newID func() string
}

// NewService returns a Service persisting to db.
func NewService(db recordstore.Engine) *Service {
	return &Service{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return ksid.NewID().String() },
	}
}

// RegisterRequest is the payload to register a clan.
type RegisterRequest struct {
	Name         string      `json:"name" jsonschema:"description=Display name,minLength=3,maxLength=48"`
	Tag          string      `json:"tag" jsonschema:"description=Short tag; letters and digits,minLength=2,maxLength=6"`
	Region       string      `json:"region,omitempty" jsonschema:"description=Home region,maxLength=32"`
	Description  string      `json:"description,omitempty" jsonschema:"description=Free-form description,maxLength=1000"`
	OwnerID      string      `json:"owner_id" jsonschema:"description=Registering player,maxLength=64"`
	Trophies     int         `json:"trophies,omitempty" jsonschema:"description=Initial trophy count,minimum=0"`
	Hireable     bool        `json:"hireable,omitempty" jsonschema:"description=Whether the clan accepts hire requests"`
	Pricing      []PriceTier `json:"pricing,omitempty" jsonschema:"description=Hire pricing tiers,maxItems=10"`
	Requirements []string    `json:"requirements,omitempty" jsonschema:"description=Requirements for applicants,maxItems=20"`
}

// Schema returns the JSON Schema of RegisterRequest.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return r.Reflect(&RegisterRequest{})
}

// Register validates req and stores a new clan with its owner as first
// member.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Clan, error) {
	c := &Clan{OwnerID: req.OwnerID, Trophies: req.Trophies, Hireable: req.Hireable}
	var err error
	if c.Name, err = normalizeName(req.Name); err != nil {
		return nil, err
	}
	if c.Tag, err = normalizeTag(req.Tag); err != nil {
		return nil, err
	}
	if c.Region, err = normalizeRegion(req.Region); err != nil {
		return nil, err
	}
	if c.Description, err = normalizeDescription(req.Description); err != nil {
		return nil, err
	}
	if err := validatePlayerID("owner_id", req.OwnerID); err != nil {
		return nil, err
	}
	if err := validateTrophies(req.Trophies); err != nil {
		return nil, err
	}
	if c.Pricing, err = normalizePricing(req.Pricing); err != nil {
		return nil, err
	}
	if c.Requirements, err = normalizeRequirements(req.Requirements); err != nil {
		return nil, err
	}

	now := s.now()
	c.ID = s.newID()
	c.Created = now
	c.Modified = now
	owner := &Member{ID: memberID(c.ID, c.OwnerID), ClanID: c.ID, PlayerID: c.OwnerID, Role: RoleOwner, Joined: now}
	err = s.db.RunInTx(ctx, []string{CollectionClans, CollectionMembers}, func(tx recordstore.Txn) error {
		if err := insert(tx, CollectionClans, c); err != nil {
			return err
		}
		return insert(tx, CollectionMembers, owner)
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "clans: registered", "clan", c.ID, "name", c.Name, "owner", c.OwnerID)
	return c, nil
}

// Get returns the clan with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Clan, error) {
	r, err := s.db.Get(ctx, CollectionClans, id)
	if err != nil {
		return nil, err
	}
	return fromRecord[Clan](r)
}

// ListOptions selects and orders clans.
type ListOptions struct {
	Region      string
	Hireable    *bool
	Name        string // case-insensitive substring
	MinTrophies int
	Filters     []string // field:op:value, see recordstore.ParseFilter
	SortBy      string   // trophies (default), created, modified, name
	Order       string   // asc, desc or empty for the field's natural order
	Page        int
	PageSize    int
}

var sortFields = map[string]bool{"trophies": true, "created": true, "modified": true, "name": true}

// filterFields lists the clan fields generic filters may reference.
var filterFields = map[string]bool{
	"name": true, "tag": true, "region": true, "description": true, "owner_id": true,
	"trophies": true, "hireable": true, "requirements": true, "created": true, "modified": true,
}

// List returns one page of clans matching opts.
func (s *Service) List(ctx context.Context, opts *ListOptions) (*ClanPage, error) {
	q := recordstore.Query{Page: opts.Page, PageSize: opts.PageSize, SortBy: opts.SortBy}
	if q.SortBy == "" {
		q.SortBy = "trophies"
	}
	if !sortFields[q.SortBy] {
		return nil, invalid("sort", "unknown field %q", q.SortBy)
	}
	order, err := recordstore.ParseSortOrder(opts.Order)
	if err != nil {
		return nil, err
	}
	q.Order = order
	if opts.Region != "" {
		q.Filters = append(q.Filters, recordstore.Filter{Field: "region", Op: recordstore.OpEq, Value: strings.ToLower(opts.Region)})
	}
	if opts.Hireable != nil {
		q.Filters = append(q.Filters, recordstore.Filter{Field: "hireable", Op: recordstore.OpEq, Value: *opts.Hireable})
	}
	if opts.Name != "" {
		q.Filters = append(q.Filters, recordstore.Filter{Field: "name", Op: recordstore.OpContains, Value: opts.Name})
	}
	if opts.MinTrophies > 0 {
		q.Filters = append(q.Filters, recordstore.Filter{Field: "trophies", Op: recordstore.OpGte, Value: opts.MinTrophies})
	}
	for _, raw := range opts.Filters {
		f, err := recordstore.ParseFilter(raw)
		if err != nil {
			return nil, err
		}
		if !filterFields[f.Field] {
			return nil, invalid("filter", "unknown field %q", f.Field)
		}
		q.Filters = append(q.Filters, f)
	}
	p, err := s.db.Query(ctx, CollectionClans, q)
	if err != nil {
		return nil, err
	}
	items, err := fromRecords[Clan](p.Items)
	if err != nil {
		return nil, err
	}
	return &ClanPage{Items: items, Total: p.Total, TotalPages: p.TotalPages, Page: p.Page, PageSize: p.PageSize}, nil
}

// UpdateRequest lists the clan fields to change. Nil fields are left as is.
type UpdateRequest struct {
	Name         *string      `json:"name,omitempty"`
	Tag          *string      `json:"tag,omitempty"`
	Region       *string      `json:"region,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Trophies     *int         `json:"trophies,omitempty"`
	Hireable     *bool        `json:"hireable,omitempty"`
	Pricing      *[]PriceTier `json:"pricing,omitempty"`
	Requirements *[]string    `json:"requirements,omitempty"`
}

// Update applies the supplied fields to the clan and bumps Modified.
func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*Clan, error) {
	fields := recordstore.Record{}
	if req.Name != nil {
		v, err := normalizeName(*req.Name)
		if err != nil {
			return nil, err
		}
		fields["name"] = v
	}
	if req.Tag != nil {
		v, err := normalizeTag(*req.Tag)
		if err != nil {
			return nil, err
		}
		fields["tag"] = v
	}
	if req.Region != nil {
		v, err := normalizeRegion(*req.Region)
		if err != nil {
			return nil, err
		}
		fields["region"] = v
	}
	if req.Description != nil {
		v, err := normalizeDescription(*req.Description)
		if err != nil {
			return nil, err
		}
		fields["description"] = v
	}
	if req.Trophies != nil {
		if err := validateTrophies(*req.Trophies); err != nil {
			return nil, err
		}
		fields["trophies"] = *req.Trophies
	}
	if req.Hireable != nil {
		fields["hireable"] = *req.Hireable
	}
	if req.Pricing != nil {
		v, err := normalizePricing(*req.Pricing)
		if err != nil {
			return nil, err
		}
		fields["pricing"] = v
	}
	if req.Requirements != nil {
		v, err := normalizeRequirements(*req.Requirements)
		if err != nil {
			return nil, err
		}
		fields["requirements"] = v
	}
	fields["modified"] = s.now()
	r, err := s.db.Update(ctx, CollectionClans, id, fields)
	if err != nil {
		return nil, err
	}
	return fromRecord[Clan](r)
}

// Delete removes the clan with its members and applications atomically.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.db.CascadeDelete(ctx, CollectionClans, id, Dependents); err != nil {
		return err
	}
	slog.InfoContext(ctx, "clans: deleted", "clan", id)
	return nil
}

// ForceDelete is Delete for a clan the caller already loaded. Dependents are
// removed even if the clan record vanished in the meantime.
func (s *Service) ForceDelete(ctx context.Context, c *Clan) error {
	r, err := toRecord(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.db.ForceCascadeDelete(ctx, CollectionClans, r, Dependents); err != nil {
		return err
	}
	slog.InfoContext(ctx, "clans: force deleted", "clan", c.ID)
	return nil
}

// groupScope is the cascade group rooted at a clan; transactions that check
// membership or application state hold all of it.
var groupScope = []string{CollectionClans, CollectionMembers, CollectionApplications}

func insert(tx recordstore.Txn, collection string, v any) error {
	r, err := toRecord(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return tx.Insert(collection, r)
}

func get[T any](tx recordstore.Txn, collection, id string) (*T, error) {
	r, err := tx.Get(collection, id)
	if err != nil {
		return nil, err
	}
	return fromRecord[T](r)
}

// byClan returns the records referencing clanID.
func byClan(rows []recordstore.Record, clanID string) []recordstore.Record {
	return filterRecords(rows, recordstore.Filter{Field: "clan_id", Op: recordstore.OpEq, Value: clanID})
}

func filterRecords(rows []recordstore.Record, filters ...recordstore.Filter) []recordstore.Record {
	q := recordstore.Query{Filters: filters}
	var out []recordstore.Record
	for _, r := range rows {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
