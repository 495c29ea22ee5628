// Manages clan members and join applications.

package clans

import (
	"context"
	"errors"
	"fmt"

	"github.com/maruel/arena/internal/recordstore"
)

// memberID is deterministic so the store's id uniqueness rejects a second
// membership of the same player in the same clan.
func memberID(clanID, playerID string) string {
	return clanID + "." + playerID
}

// AddMemberRequest is the payload to add a member.
type AddMemberRequest struct {
	PlayerID string `json:"player_id"`
	Role     Role   `json:"role,omitempty"`
}

// AddMember adds a player to the clan. Role defaults to RoleMember; a clan has
// exactly one owner, set at registration.
func (s *Service) AddMember(ctx context.Context, clanID string, req *AddMemberRequest) (*Member, error) {
	if err := validatePlayerID("player_id", req.PlayerID); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	if err := role.Validate(); err != nil {
		return nil, err
	}
	if role == RoleOwner {
		return nil, invalid("role", "a clan has a single owner")
	}
	m := &Member{ID: memberID(clanID, req.PlayerID), ClanID: clanID, PlayerID: req.PlayerID, Role: role, Joined: s.now()}
	err := s.db.RunInTx(ctx, []string{CollectionClans, CollectionMembers}, func(tx recordstore.Txn) error {
		if _, err := tx.Get(CollectionClans, clanID); err != nil {
			return err
		}
		return insertMember(tx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func insertMember(tx recordstore.Txn, m *Member) error {
	if err := insert(tx, CollectionMembers, m); err != nil {
		if errors.Is(err, recordstore.ErrDuplicateID) {
			return fmt.Errorf("%w: player %s is already a member of %s", ErrConflict, m.PlayerID, m.ClanID)
		}
		return err
	}
	return nil
}

// RemoveMember removes a member from the clan. The owner cannot be removed;
// delete the clan instead.
func (s *Service) RemoveMember(ctx context.Context, clanID, id string) error {
	return s.db.RunInTx(ctx, []string{CollectionMembers}, func(tx recordstore.Txn) error {
		m, err := get[Member](tx, CollectionMembers, id)
		if err != nil {
			return err
		}
		if m.ClanID != clanID {
			return fmt.Errorf("%w: member %s in clan %s", recordstore.ErrNotFound, id, clanID)
		}
		if m.Role == RoleOwner {
			return invalid("member", "the owner cannot be removed")
		}
		_, err = tx.Delete(CollectionMembers, id)
		return err
	})
}

// ListMembers returns the clan's members in join order.
func (s *Service) ListMembers(ctx context.Context, clanID string) ([]*Member, error) {
	if _, err := s.Get(ctx, clanID); err != nil {
		return nil, err
	}
	rows, err := s.db.List(ctx, CollectionMembers)
	if err != nil {
		return nil, err
	}
	return fromRecords[Member](byClan(rows, clanID))
}

// ApplyRequest is the payload of a join application.
type ApplyRequest struct {
	PlayerID string `json:"player_id"`
	Message  string `json:"message,omitempty"`
}

// Apply files a pending application. A player may have at most one pending
// application per clan and cannot apply to a clan they are a member of.
func (s *Service) Apply(ctx context.Context, clanID string, req *ApplyRequest) (*Application, error) {
	if err := validatePlayerID("player_id", req.PlayerID); err != nil {
		return nil, err
	}
	msg, err := validateMessage(req.Message)
	if err != nil {
		return nil, err
	}
	a := &Application{ID: s.newID(), ClanID: clanID, PlayerID: req.PlayerID, Message: msg, Status: StatusPending, Created: s.now()}
	err = s.db.RunInTx(ctx, groupScope, func(tx recordstore.Txn) error {
		if _, err := tx.Get(CollectionClans, clanID); err != nil {
			return err
		}
		if _, err := tx.Get(CollectionMembers, memberID(clanID, req.PlayerID)); err == nil {
			return fmt.Errorf("%w: player %s is already a member of %s", ErrConflict, req.PlayerID, clanID)
		} else if !errors.Is(err, recordstore.ErrNotFound) {
			return err
		}
		rows, err := tx.Rows(CollectionApplications)
		if err != nil {
			return err
		}
		pending := filterRecords(byClan(rows, clanID),
			recordstore.Filter{Field: "player_id", Op: recordstore.OpEq, Value: req.PlayerID},
			recordstore.Filter{Field: "status", Op: recordstore.OpEq, Value: string(StatusPending)})
		if len(pending) != 0 {
			return fmt.Errorf("%w: player %s already has a pending application", ErrConflict, req.PlayerID)
		}
		return insert(tx, CollectionApplications, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListApplications returns the clan's applications, optionally only those in
// the given status.
func (s *Service) ListApplications(ctx context.Context, clanID string, status Status) ([]*Application, error) {
	switch status {
	case "", StatusPending, StatusAccepted, StatusRejected:
	default:
		return nil, invalid("status", "unknown status %q", status)
	}
	if _, err := s.Get(ctx, clanID); err != nil {
		return nil, err
	}
	rows, err := s.db.List(ctx, CollectionApplications)
	if err != nil {
		return nil, err
	}
	rows = byClan(rows, clanID)
	if status != "" {
		rows = filterRecords(rows, recordstore.Filter{Field: "status", Op: recordstore.OpEq, Value: string(status)})
	}
	return fromRecords[Application](rows)
}

// DecideApplication accepts or rejects a pending application. Accepting adds
// the applicant as a member in the same transaction.
func (s *Service) DecideApplication(ctx context.Context, clanID, id string, accept bool) (*Application, error) {
	now := s.now()
	var out *Application
	err := s.db.RunInTx(ctx, groupScope, func(tx recordstore.Txn) error {
		a, err := get[Application](tx, CollectionApplications, id)
		if err != nil {
			return err
		}
		if a.ClanID != clanID {
			return fmt.Errorf("%w: application %s in clan %s", recordstore.ErrNotFound, id, clanID)
		}
		if a.Status != StatusPending {
			return fmt.Errorf("%w: application %s is already %s", ErrConflict, id, a.Status)
		}
		status := StatusRejected
		if accept {
			status = StatusAccepted
			m := &Member{ID: memberID(clanID, a.PlayerID), ClanID: clanID, PlayerID: a.PlayerID, Role: RoleMember, Joined: now}
			if err := insertMember(tx, m); err != nil {
				return err
			}
		}
		r, err := tx.Update(CollectionApplications, id, recordstore.Record{"status": string(status), "decided": now})
		if err != nil {
			return err
		}
		out, err = fromRecord[Application](r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
