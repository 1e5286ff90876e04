package model

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// marketJSON is the persisted compatibility shape of a Market. Clients read
// option1..option5 and count1..count5 directly from ledger state.
type marketJSON struct {
	Name        string          `json:"name"`
	Creator     string          `json:"creator"`
	Content     string          `json:"content"`
	CreateTime  int64           `json:"createTime"`
	EndTime     string          `json:"endTime"`
	TokenName   string          `json:"tokenName,omitempty"`
	Option1     string          `json:"option1"`
	Option2     string          `json:"option2"`
	Option3     string          `json:"option3"`
	Option4     string          `json:"option4,omitempty"`
	Option5     string          `json:"option5,omitempty"`
	JudgePerson string          `json:"judgePerson"`
	History     []BetEntry      `json:"history"`
	Result      string          `json:"result"`
	Users       map[string]int  `json:"users"`
	Count       decimal.Decimal `json:"count"`
	Count1      decimal.Decimal `json:"count1"`
	Count2      decimal.Decimal `json:"count2"`
	Count3      decimal.Decimal `json:"count3"`
	Count4      decimal.Decimal `json:"count4"`
	Count5      decimal.Decimal `json:"count5"`
	Settled     bool            `json:"settled"`
	SettledAt   int64           `json:"settledAt,omitempty"`
}

func (j *marketJSON) slots() ([MaxOptions]*string, [MaxOptions]*decimal.Decimal) {
	return [MaxOptions]*string{&j.Option1, &j.Option2, &j.Option3, &j.Option4, &j.Option5},
		[MaxOptions]*decimal.Decimal{&j.Count1, &j.Count2, &j.Count3, &j.Count4, &j.Count5}
}

// MarshalJSON flattens the bounded option list into the slot fields.
func (m Market) MarshalJSON() ([]byte, error) {
	j := marketJSON{
		Name:        m.Name,
		Creator:     m.Creator,
		Content:     m.Content,
		CreateTime:  m.CreateTime,
		EndTime:     m.EndTime,
		TokenName:   m.TokenName,
		JudgePerson: m.JudgePerson,
		History:     m.History,
		Result:      m.Result,
		Users:       make(map[string]int, len(m.Users)),
		Count:       m.Count,
		Settled:     m.Settled,
		SettledAt:   m.SettledAt,
	}
	if j.History == nil {
		j.History = []BetEntry{}
	}
	for _, u := range m.Users {
		j.Users[u] = 1
	}
	labels, counts := j.slots()
	for i := 0; i < MaxOptions && i < len(m.Options); i++ {
		*labels[i] = m.Options[i].Label
		*counts[i] = m.Options[i].Pool
	}
	return json.Marshal(j)
}

// UnmarshalJSON rebuilds the option list from the slot fields. Trailing
// empty slots are dropped; interior empty slots are kept so slot keys stay
// stable.
func (m *Market) UnmarshalJSON(data []byte) error {
	var j marketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*m = Market{
		Name:        j.Name,
		Creator:     j.Creator,
		Content:     j.Content,
		CreateTime:  j.CreateTime,
		EndTime:     j.EndTime,
		TokenName:   j.TokenName,
		JudgePerson: j.JudgePerson,
		History:     j.History,
		Result:      j.Result,
		Count:       j.Count,
		Settled:     j.Settled,
		SettledAt:   j.SettledAt,
	}
	labels, counts := j.slots()
	n := 0
	for i := 0; i < MaxOptions; i++ {
		if *labels[i] != "" {
			n = i + 1
		}
	}
	m.Options = make([]Outcome, n)
	for i := 0; i < n; i++ {
		m.Options[i] = Outcome{Label: *labels[i], Pool: *counts[i]}
	}
	for u := range j.Users {
		m.Users = append(m.Users, u)
	}
	sort.Strings(m.Users)
	return nil
}
