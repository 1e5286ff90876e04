// Package access is the single authorization policy of the contract. Every
// operation asks Authorize before it mutates state.
package access

import (
	"fmt"

	"github.com/atmx/futurebureau/internal/model"
)

// Op names an authorized operation.
type Op string

const (
	OpUserCreate   Op = "user.create"
	OpUserUpdate   Op = "user.update"
	OpTokenCreate  Op = "token.create"
	OpTransfer     Op = "token.transfer"
	OpMarketCreate Op = "market.create"
	OpMarketBet    Op = "market.bet"
	OpMarketJudge  Op = "market.judge"
	OpMarketSettle Op = "market.settle"
)

// Subject is the caller as seen by the policy. Name is the identity
// resolved from the transport; the remaining fields come from the caller's
// user record and are zero when no record exists.
type Subject struct {
	ID              string
	Name            string
	Role            model.Role
	CanCreateMarket bool
	CanCreateToken  bool
	Bootstrap       bool
}

// Resource carries the ownership facts of the object being acted on.
type Resource struct {
	OwnerID     string
	JudgePerson string
}

// SubjectOf builds a Subject from the caller name and its user record.
func SubjectOf(name string, u *model.User) Subject {
	s := Subject{Name: name}
	if u != nil {
		s.ID = u.ID
		s.Role = u.Role
		s.CanCreateMarket = u.CanCreateMarket
		s.CanCreateToken = u.CanCreateToken
	}
	return s
}

// Authorize returns nil when s may perform op on r, otherwise an error
// wrapping model.ErrPermission.
func Authorize(op Op, s Subject, r Resource) error {
	if s.Bootstrap {
		return nil
	}
	if s.Name == "" {
		return deny(op, "no caller identity")
	}

	switch op {
	case OpUserCreate:
		if s.Name != r.OwnerID {
			return deny(op, "users may only register themselves")
		}
		return nil
	}

	if s.ID == "" {
		return deny(op, "caller %s is not registered", s.Name)
	}

	switch op {
	case OpUserUpdate:
		if s.Role != model.RoleAdmin {
			return deny(op, "admin role required")
		}
	case OpTokenCreate:
		if s.Role != model.RoleAdmin && !s.CanCreateToken {
			return deny(op, "caller %s may not create tokens", s.Name)
		}
	case OpTransfer:
		if s.ID != r.OwnerID {
			return deny(op, "caller may only spend its own wallet")
		}
	case OpMarketCreate:
		if s.Role == model.RoleContract {
			return deny(op, "contract accounts may not create markets")
		}
		if !s.CanCreateMarket {
			return deny(op, "caller %s may not create markets", s.Name)
		}
	case OpMarketBet:
		if s.Role == model.RoleContract {
			return deny(op, "contract accounts may not bet")
		}
	case OpMarketJudge:
		if s.Name != r.JudgePerson {
			return deny(op, "only %s may judge this market", r.JudgePerson)
		}
	case OpMarketSettle:
		if s.Name != r.JudgePerson && s.Role != model.RoleAdmin {
			return deny(op, "only the judge or an admin may settle")
		}
	default:
		return deny(op, "unknown operation")
	}
	return nil
}

func deny(op Op, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", model.ErrPermission, op, fmt.Sprintf(format, args...))
}
