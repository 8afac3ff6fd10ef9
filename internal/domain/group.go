package domain

// Group is a payment-splitting group. The owner is not part of Members.
type Group struct {
	ID                int64                   `json:"id"`
	OwnerID           string                  `json:"ownerId"`
	Members           []string                `json:"members"`
	ActivePayments    map[int64]*GroupPayment `json:"activePayments"`
	FinalizedPayments map[int64]*GroupPayment `json:"finalizedPayments"`
}

func NewGroup(id int64, ownerID string) *Group {
	return &Group{
		ID:                id,
		OwnerID:           ownerID,
		ActivePayments:    make(map[int64]*GroupPayment),
		FinalizedPayments: make(map[int64]*GroupPayment),
	}
}

func (g *Group) AddMember(accountID string) {
	g.Members = append(g.Members, accountID)
}

func (g *Group) AddActivePayment(gp *GroupPayment) {
	if g.ActivePayments == nil {
		g.ActivePayments = make(map[int64]*GroupPayment)
	}
	g.ActivePayments[gp.ID] = gp
}

// FinalizePayment moves gp from active to finalized. The transition is
// one-way: a finalized payment never returns to the active set.
func (g *Group) FinalizePayment(gp *GroupPayment) {
	delete(g.ActivePayments, gp.ID)

	if g.FinalizedPayments == nil {
		g.FinalizedPayments = make(map[int64]*GroupPayment)
	}
	g.FinalizedPayments[gp.ID] = gp
}

// GroupPayment is one split of TotalAmount across the group members as they
// were when the split was issued. OwingMembers shrinks as members pay.
type GroupPayment struct {
	ID           int64    `json:"id"`
	TotalAmount  float64  `json:"totalAmount"`
	GroupID      int64    `json:"groupId"`
	Members      []string `json:"members"`
	OwingMembers []string `json:"owingMembers"`
}

func NewGroupPayment(id int64, totalAmount float64, groupID int64, members []string) *GroupPayment {
	snapshot := make([]string, len(members))
	copy(snapshot, members)

	owing := make([]string, len(members))
	copy(owing, members)

	return &GroupPayment{
		ID:           id,
		TotalAmount:  totalAmount,
		GroupID:      groupID,
		Members:      snapshot,
		OwingMembers: owing,
	}
}

// MarkPaid removes accountID from the owing set and reports whether the
// payment is now settled (nobody owes anything).
func (gp *GroupPayment) MarkPaid(accountID string) bool {
	for i, id := range gp.OwingMembers {
		if id == accountID {
			gp.OwingMembers = append(gp.OwingMembers[:i], gp.OwingMembers[i+1:]...)
			break
		}
	}

	return len(gp.OwingMembers) == 0
}
