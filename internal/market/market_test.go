package market

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/access"
	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(store.New(ledger.NewMemoryLedger()), "GZH")
}

func cupRequest(name string) CreateRequest {
	return CreateRequest{
		Name:        name,
		Content:     "who lifts the cup",
		EndTime:     "2026-12-18",
		Option1:     "home",
		Option2:     "away",
		Option3:     "draw",
		JudgePerson: "judy",
	}
}

func judy() access.Subject {
	return access.Subject{ID: "judy", Name: "judy", Role: model.RoleUser}
}

func TestCreate_InitialState(t *testing.T) {
	r := newRegistry(t)
	m, err := r.Create(context.Background(), "alice", cupRequest("cup"), 1700000000000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Result != model.ResultUndecided {
		t.Errorf("expected Undecided, got %s", m.Result)
	}
	if m.Creator != "alice" || m.TokenName != "GZH" || m.CreateTime != 1700000000000 {
		t.Errorf("unexpected market: %+v", m)
	}
	if len(m.Options) != 3 || !m.Count.IsZero() {
		t.Errorf("expected 3 empty options, got %+v count=%s", m.Options, m.Count)
	}

	list, err := r.List(context.Background())
	if err != nil || len(list) != 1 || list[0].Name != "cup" {
		t.Errorf("expected cup in listing, got %v (%v)", list, err)
	}
}

func TestCreate_GlobalNameConflict(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	if _, err := r.Create(ctx, "alice", cupRequest("cup"), 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := r.Create(ctx, "bob", cupRequest("cup"), 2)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for another creator, got %v", err)
	}
}

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing name", func(r *CreateRequest) { r.Name = "" }},
		{"missing content", func(r *CreateRequest) { r.Content = "" }},
		{"missing endTime", func(r *CreateRequest) { r.EndTime = "" }},
		{"missing judge", func(r *CreateRequest) { r.JudgePerson = "" }},
		{"missing option3", func(r *CreateRequest) { r.Option3 = "" }},
		{"duplicate labels", func(r *CreateRequest) { r.Option4 = "home" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cupRequest("cup")
			tt.mutate(&req)
			if err := req.Validate(); !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateRequest_OptionalSlots(t *testing.T) {
	req := cupRequest("cup")
	req.Option5 = "abandoned"
	opts := req.Options()
	if len(opts) != 5 || opts[3].Label != "" || opts[4].Label != "abandoned" {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestRecordBet_PoolInvariant(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	m, _ := r.Create(ctx, "alice", cupRequest("cup"), 1)

	bets := []model.BetEntry{
		{From: "a", ChooseOption: "option1", Amount: d(20)},
		{From: "b", ChooseOption: "option2", Amount: d(15.5)},
		{From: "a", ChooseOption: "option1", Amount: d(20)},
	}
	for _, b := range bets {
		counted, err := r.RecordBet(ctx, m, b)
		if err != nil || !counted {
			t.Fatalf("record %+v: counted=%t err=%v", b, counted, err)
		}
	}

	got, _ := r.Get(ctx, "cup")
	if !got.Pool("option1").Equal(d(40)) || !got.Pool("option2").Equal(d(15.5)) {
		t.Errorf("unexpected pools: %+v", got.Options)
	}
	sum := decimal.Zero
	for _, e := range got.History {
		sum = sum.Add(e.Amount)
	}
	if !sum.Equal(got.Count) {
		t.Errorf("history sum %s != count %s", sum, got.Count)
	}
	if len(got.Users) != 2 {
		t.Errorf("expected 2 distinct users, got %v", got.Users)
	}
}

// An undefined chooseOption is kept in history but adds to no counter.
func TestRecordBet_UndefinedOptionIsNoOp(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	m, _ := r.Create(ctx, "alice", cupRequest("cup"), 1)

	for _, opt := range []string{"option4", "bogus"} {
		counted, err := r.RecordBet(ctx, m, model.BetEntry{From: "a", ChooseOption: opt, Amount: d(5)})
		if err != nil {
			t.Fatalf("record %s: %v", opt, err)
		}
		if counted {
			t.Errorf("%s should not be counted", opt)
		}
	}
	got, _ := r.Get(ctx, "cup")
	if len(got.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(got.History))
	}
	if !got.Count.IsZero() {
		t.Errorf("expected zero count, got %s", got.Count)
	}
}

func TestRecordBet_ClosedAfterJudge(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	r.Create(ctx, "alice", cupRequest("cup"), 1)
	m, err := r.Judge(ctx, judy(), "cup", "option1")
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	_, err = r.RecordBet(ctx, m, model.BetEntry{From: "a", ChooseOption: "option1", Amount: d(1)})
	if !errors.Is(err, model.ErrAlreadyJudged) {
		t.Errorf("expected ErrAlreadyJudged, got %v", err)
	}
}

func TestJudge_Rules(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	r.Create(ctx, "alice", cupRequest("cup"), 1)

	alice := access.Subject{ID: "alice", Name: "alice", Role: model.RoleAdmin}
	if _, err := r.Judge(ctx, alice, "cup", "option1"); !errors.Is(err, model.ErrPermission) {
		t.Errorf("non-judge: expected ErrPermission, got %v", err)
	}
	if _, err := r.Judge(ctx, judy(), "cup", "option4"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("undefined option: expected ErrValidation, got %v", err)
	}
	if _, err := r.Judge(ctx, judy(), "nope", "option1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing market: expected ErrNotFound, got %v", err)
	}
	if _, err := r.Judge(ctx, judy(), "cup", "option2"); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if _, err := r.Judge(ctx, judy(), "cup", "option1"); !errors.Is(err, model.ErrAlreadyJudged) {
		t.Errorf("second judge: expected ErrAlreadyJudged, got %v", err)
	}
	got, _ := r.Get(ctx, "cup")
	if got.Result != "option2" {
		t.Errorf("second judge must not change the result, got %s", got.Result)
	}
}
