package access

import (
	"errors"
	"testing"

	"github.com/atmx/futurebureau/internal/model"
)

func TestAuthorize(t *testing.T) {
	admin := Subject{ID: "root", Name: "root", Role: model.RoleAdmin}
	alice := Subject{ID: "alice", Name: "alice", Role: model.RoleUser, CanCreateMarket: true}
	bob := Subject{ID: "bob", Name: "bob", Role: model.RoleUser}
	escrow := Subject{ID: "escrow", Name: "escrow", Role: model.RoleContract, CanCreateMarket: true}
	stranger := Subject{Name: "mallory"}

	tests := []struct {
		name  string
		op    Op
		s     Subject
		r     Resource
		allow bool
	}{
		{"self registration", OpUserCreate, stranger, Resource{OwnerID: "mallory"}, true},
		{"register someone else", OpUserCreate, stranger, Resource{OwnerID: "alice"}, false},
		{"bootstrap registers anyone", OpUserCreate, Subject{Bootstrap: true}, Resource{OwnerID: "root"}, true},
		{"admin updates", OpUserUpdate, admin, Resource{OwnerID: "alice"}, true},
		{"user cannot update", OpUserUpdate, alice, Resource{OwnerID: "alice"}, false},
		{"unregistered caller", OpMarketBet, stranger, Resource{}, false},
		{"granted market create", OpMarketCreate, alice, Resource{}, true},
		{"ungranted market create", OpMarketCreate, bob, Resource{}, false},
		{"contract cannot create", OpMarketCreate, escrow, Resource{}, false},
		{"contract cannot bet", OpMarketBet, escrow, Resource{}, false},
		{"user bets", OpMarketBet, bob, Resource{}, true},
		{"judge judges", OpMarketJudge, bob, Resource{JudgePerson: "bob"}, true},
		{"non-judge judges", OpMarketJudge, admin, Resource{JudgePerson: "bob"}, false},
		{"judge settles", OpMarketSettle, bob, Resource{JudgePerson: "bob"}, true},
		{"admin settles", OpMarketSettle, admin, Resource{JudgePerson: "bob"}, true},
		{"other settles", OpMarketSettle, alice, Resource{JudgePerson: "bob"}, false},
		{"spend own wallet", OpTransfer, alice, Resource{OwnerID: "alice"}, true},
		{"spend other wallet", OpTransfer, alice, Resource{OwnerID: "bob"}, false},
		{"token create needs grant", OpTokenCreate, bob, Resource{}, false},
		{"admin creates token", OpTokenCreate, admin, Resource{}, true},
		{"unknown op", Op("market.delete"), admin, Resource{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.op, tt.s, tt.r)
			if tt.allow && err != nil {
				t.Errorf("expected allow, got %v", err)
			}
			if !tt.allow && !errors.Is(err, model.ErrPermission) {
				t.Errorf("expected ErrPermission, got %v", err)
			}
		})
	}
}

func TestSubjectOf(t *testing.T) {
	s := SubjectOf("alice", nil)
	if s.ID != "" || s.Name != "alice" {
		t.Errorf("unexpected subject without record: %+v", s)
	}
	s = SubjectOf("alice", &model.User{ID: "alice", Role: model.RoleAdmin, CanCreateToken: true})
	if s.ID != "alice" || s.Role != model.RoleAdmin || !s.CanCreateToken {
		t.Errorf("unexpected subject: %+v", s)
	}
}
