package domain

// Account is a registered user of the exchange. Group membership is held as
// group ids; the group entities themselves live in the groups catalog.
type Account struct {
	ID                string                    `json:"id"`
	Balance           float64                   `json:"balance"`
	PendingRequests   map[int64]*PaymentRequest `json:"pendingRequests"`
	OwnedGroups       []int64                   `json:"ownedGroups"`
	ParticipantGroups []int64                   `json:"participantGroups"`
}

func NewAccount(id string, balance float64) *Account {
	return &Account{
		ID:              id,
		Balance:         balance,
		PendingRequests: make(map[int64]*PaymentRequest),
	}
}

// Transfer moves amount from a to the receiving account. Funds checks are the
// caller's responsibility.
func (a *Account) Transfer(to *Account, amount float64) {
	a.Balance -= amount
	to.Balance += amount
}

func (a *Account) AddPendingRequest(r *PaymentRequest) {
	if a.PendingRequests == nil {
		a.PendingRequests = make(map[int64]*PaymentRequest)
	}
	a.PendingRequests[r.ID] = r
}

func (a *Account) PendingRequest(id int64) *PaymentRequest {
	return a.PendingRequests[id]
}

func (a *Account) RemovePendingRequest(id int64) {
	delete(a.PendingRequests, id)
}

func (a *Account) AddOwnedGroup(groupID int64) {
	a.OwnedGroups = append(a.OwnedGroups, groupID)
}

func (a *Account) AddParticipantGroup(groupID int64) {
	a.ParticipantGroups = append(a.ParticipantGroups, groupID)
}

func (a *Account) OwnsGroup(groupID int64) bool {
	for _, id := range a.OwnedGroups {
		if id == groupID {
			return true
		}
	}

	return false
}

func (a *Account) InGroup(groupID int64) bool {
	for _, id := range a.ParticipantGroups {
		if id == groupID {
			return true
		}
	}

	return false
}
