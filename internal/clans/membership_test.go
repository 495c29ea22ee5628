package clans

import (
	"context"
	"errors"
	"testing"

	"github.com/maruel/arena/internal/recordstore"
)

func TestMembers(t *testing.T) {
	ctx := context.Background()
	forEachEngine(t, func(t *testing.T, s *Service) {
		c := mustRegister(t, s, &RegisterRequest{Name: "Night Owls", Tag: "OWL", OwnerID: "owner"})
		other := mustRegister(t, s, &RegisterRequest{Name: "Day Larks", Tag: "LRK", OwnerID: "owner"})

		m, err := s.AddMember(ctx, c.ID, &AddMemberRequest{PlayerID: "p1"})
		if err != nil {
			t.Fatalf("AddMember() error = %v", err)
		}
		if m.Role != RoleMember || m.ClanID != c.ID {
			t.Errorf("AddMember() = %+v", m)
		}
		if _, err := s.AddMember(ctx, c.ID, &AddMemberRequest{PlayerID: "p2", Role: RoleOfficer}); err != nil {
			t.Fatalf("AddMember(officer) error = %v", err)
		}

		t.Run("errors", func(t *testing.T) {
			tests := []struct {
				name   string
				clanID string
				req    AddMemberRequest
				want   error
			}{
				{"duplicate", c.ID, AddMemberRequest{PlayerID: "p1"}, ErrConflict},
				{"owner already set", c.ID, AddMemberRequest{PlayerID: "p9", Role: RoleOwner}, ErrInvalidInput},
				{"unknown role", c.ID, AddMemberRequest{PlayerID: "p9", Role: "captain"}, ErrInvalidInput},
				{"missing player", c.ID, AddMemberRequest{}, ErrInvalidInput},
				{"unknown clan", "nope", AddMemberRequest{PlayerID: "p9"}, recordstore.ErrNotFound},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if _, err := s.AddMember(ctx, tt.clanID, &tt.req); !errors.Is(err, tt.want) {
						t.Errorf("AddMember() error = %v, want %v", err, tt.want)
					}
				})
			}
		})

		t.Run("list in join order", func(t *testing.T) {
			members, err := s.ListMembers(ctx, c.ID)
			if err != nil {
				t.Fatal(err)
			}
			var players []string
			for _, m := range members {
				players = append(players, m.PlayerID)
			}
			if len(players) != 3 || players[0] != "owner" || players[1] != "p1" || players[2] != "p2" {
				t.Errorf("ListMembers() players = %v, want [owner p1 p2]", players)
			}
			if _, err := s.ListMembers(ctx, "nope"); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("ListMembers(unknown) error = %v, want ErrNotFound", err)
			}
		})

		t.Run("remove", func(t *testing.T) {
			if err := s.RemoveMember(ctx, other.ID, m.ID); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("RemoveMember(wrong clan) error = %v, want ErrNotFound", err)
			}
			if err := s.RemoveMember(ctx, c.ID, memberID(c.ID, "owner")); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("RemoveMember(owner) error = %v, want ErrInvalidInput", err)
			}
			if err := s.RemoveMember(ctx, c.ID, m.ID); err != nil {
				t.Fatalf("RemoveMember() error = %v", err)
			}
			if err := s.RemoveMember(ctx, c.ID, m.ID); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("second RemoveMember() error = %v, want ErrNotFound", err)
			}
			// The player can join again.
			if _, err := s.AddMember(ctx, c.ID, &AddMemberRequest{PlayerID: "p1"}); err != nil {
				t.Errorf("AddMember() after removal error = %v", err)
			}
		})
	})
}

func TestApplications(t *testing.T) {
	ctx := context.Background()
	forEachEngine(t, func(t *testing.T, s *Service) {
		c := mustRegister(t, s, &RegisterRequest{Name: "Night Owls", Tag: "OWL", OwnerID: "owner"})
		other := mustRegister(t, s, &RegisterRequest{Name: "Day Larks", Tag: "LRK", OwnerID: "owner"})

		a1, err := s.Apply(ctx, c.ID, &ApplyRequest{PlayerID: "p1", Message: "  let me in "})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if a1.Status != StatusPending || a1.Message != "let me in" || a1.Decided != nil {
			t.Errorf("Apply() = %+v", a1)
		}
		a2, err := s.Apply(ctx, c.ID, &ApplyRequest{PlayerID: "p2"})
		if err != nil {
			t.Fatal(err)
		}

		t.Run("apply errors", func(t *testing.T) {
			tests := []struct {
				name   string
				clanID string
				req    ApplyRequest
				want   error
			}{
				{"pending twice", c.ID, ApplyRequest{PlayerID: "p1"}, ErrConflict},
				{"already member", c.ID, ApplyRequest{PlayerID: "owner"}, ErrConflict},
				{"unknown clan", "nope", ApplyRequest{PlayerID: "p3"}, recordstore.ErrNotFound},
				{"bad player", c.ID, ApplyRequest{PlayerID: "p 3"}, ErrInvalidInput},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if _, err := s.Apply(ctx, tt.clanID, &tt.req); !errors.Is(err, tt.want) {
						t.Errorf("Apply() error = %v, want %v", err, tt.want)
					}
				})
			}
		})

		t.Run("accept adds member", func(t *testing.T) {
			got, err := s.DecideApplication(ctx, c.ID, a1.ID, true)
			if err != nil {
				t.Fatalf("DecideApplication() error = %v", err)
			}
			if got.Status != StatusAccepted || got.Decided == nil {
				t.Errorf("DecideApplication() = %+v", got)
			}
			if _, err := s.db.Get(ctx, CollectionMembers, memberID(c.ID, "p1")); err != nil {
				t.Errorf("membership not created: %v", err)
			}
			if _, err := s.DecideApplication(ctx, c.ID, a1.ID, false); !errors.Is(err, ErrConflict) {
				t.Errorf("second decision error = %v, want ErrConflict", err)
			}
		})

		t.Run("reject", func(t *testing.T) {
			if _, err := s.DecideApplication(ctx, other.ID, a2.ID, false); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("DecideApplication(wrong clan) error = %v, want ErrNotFound", err)
			}
			got, err := s.DecideApplication(ctx, c.ID, a2.ID, false)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != StatusRejected {
				t.Errorf("Status = %s, want rejected", got.Status)
			}
			if _, err := s.db.Get(ctx, CollectionMembers, memberID(c.ID, "p2")); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("rejected applicant became a member: %v", err)
			}
			// A rejected player may apply again.
			if _, err := s.Apply(ctx, c.ID, &ApplyRequest{PlayerID: "p2"}); err != nil {
				t.Errorf("re-Apply() error = %v", err)
			}
		})

		t.Run("list by status", func(t *testing.T) {
			for status, want := range map[Status]int{"": 3, StatusPending: 1, StatusAccepted: 1, StatusRejected: 1} {
				apps, err := s.ListApplications(ctx, c.ID, status)
				if err != nil {
					t.Fatal(err)
				}
				if len(apps) != want {
					t.Errorf("ListApplications(%q) = %d, want %d", status, len(apps), want)
				}
			}
			if _, err := s.ListApplications(ctx, c.ID, "lost"); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ListApplications(lost) error = %v, want ErrInvalidInput", err)
			}
		})
	})
}
