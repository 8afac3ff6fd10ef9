// Package exchange implements the money-moving operations and the text
// command dispatcher. All methods run under the server's combined critical
// section and operate on the catalogs by id lookups only; no entity holds a
// live reference to another.
package exchange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fastprodman/moneyexchange/internal/catalog"
	"github.com/fastprodman/moneyexchange/internal/domain"
)

// DefaultStartingBalance is granted to every account on registration.
const DefaultStartingBalance = 100

type Service struct {
	store *catalog.Store
}

func New(store *catalog.Store) *Service {
	return &Service{store: store}
}

// Register creates the account for a user who just completed the
// first-contact handshake and persists the users catalog.
func (s *Service) Register(username string) error {
	if s.store.Users.Get(username) != nil {
		return nil
	}

	s.store.Users.Add(domain.NewAccount(username, DefaultStartingBalance))

	if err := s.store.Users.Save(); err != nil {
		return fmt.Errorf("persist new account: %w", err)
	}

	return nil
}

func (s *Service) Balance(actor string) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Current Balance: %.2f €", acct.Balance), nil
}

func (s *Service) MakePayment(actor, receiverID string, amount float64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	if err := s.transfer(acct, receiverID, amount); err != nil {
		return "", err
	}

	return fmt.Sprintf("Payment of %.2f € to user %s was successful! Current Balance: %.2f €",
		amount, receiverID, acct.Balance), nil
}

func (s *Service) RequestPayment(actor, payerID string, amount float64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	if amount <= 0 {
		return "", opErrorf("Can't make a request of 0 or less")
	}

	if actor == payerID {
		return "", opErrorf("Can't make request to self")
	}

	payer := s.store.Users.Get(payerID)
	if payer == nil {
		return "", opErrorf("User %s not found.", payerID)
	}

	id, err := s.store.Counter.Next(1)
	if err != nil {
		return "", fmt.Errorf("allocate request id: %w", err)
	}

	payer.AddPendingRequest(&domain.PaymentRequest{
		ID:        id,
		Amount:    amount,
		CreatorID: acct.ID,
	})

	return fmt.Sprintf("Payment request of %.2f € sent to %s successfully!", amount, payerID), nil
}

func (s *Service) ViewRequests(actor string) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	if len(acct.PendingRequests) == 0 {
		return "There are no pending payments.", nil
	}

	var sb strings.Builder
	sb.WriteString("Pending payments:")

	for _, id := range sortedKeys(acct.PendingRequests) {
		r := acct.PendingRequests[id]
		fmt.Fprintf(&sb, "\nID: %d | Amount: %.2f € | Receiver: %s", r.ID, r.Amount, r.CreatorID)
	}

	return sb.String(), nil
}

func (s *Service) PayRequest(actor string, reqID int64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	req := acct.PendingRequest(reqID)
	if req == nil {
		return "", opErrorf("Request %d not found.", reqID)
	}

	if acct.Balance < req.Amount {
		return "", opErrorf("Insufficient funds to pay payment request %d.", reqID)
	}

	creator := s.store.Users.Get(req.CreatorID)
	if creator == nil {
		return "", opErrorf("User %s not found.", req.CreatorID)
	}

	acct.Transfer(creator, req.Amount)
	acct.RemovePendingRequest(reqID)

	// A request born from a divide settles the payer's share of the group
	// payment; the last share to settle finalizes it.
	if req.FromGroupPayment() {
		if g := s.store.Groups.Get(req.GroupID); g != nil {
			if gp := g.ActivePayments[req.GroupPaymentID]; gp != nil && gp.MarkPaid(acct.ID) {
				g.FinalizePayment(gp)
			}
		}
	}

	return fmt.Sprintf("Payment request of %.2f € to user %s was successful! Current Balance: %.2f €",
		req.Amount, req.CreatorID, acct.Balance), nil
}

func (s *Service) ObtainQRCode(actor string, amount float64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	id, err := s.store.Counter.Next(1)
	if err != nil {
		return "", fmt.Errorf("allocate qr id: %w", err)
	}

	s.store.QRCodes.Add(&domain.QRCodePayment{
		ID:        id,
		Amount:    amount,
		CreatorID: acct.ID,
	})

	return fmt.Sprintf("QR Code created! ID: %d", id), nil
}

func (s *Service) ConfirmQRCode(actor string, qrID int64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	qr := s.store.QRCodes.Get(qrID)
	if qr == nil {
		return "", opErrorf("Code does not represent a QR Code Payment!")
	}

	if err := s.transfer(acct, qr.CreatorID, qr.Amount); err != nil {
		// Invalid confirmation: the code stays in the catalog untouched.
		return "", err
	}

	// Consumed exactly once: a successful transfer removes the code.
	s.store.QRCodes.Remove(qrID)

	return fmt.Sprintf("Payment of %.2f € to user %s was successful! Current Balance: %.2f €",
		qr.Amount, qr.CreatorID, acct.Balance), nil
}

func (s *Service) CreateGroup(actor string, groupID int64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	if s.store.Groups.IDExists(groupID) {
		return "", opErrorf("Group with ID: %d already exists.", groupID)
	}

	s.store.Groups.Register(domain.NewGroup(groupID, acct.ID))
	acct.AddOwnedGroup(groupID)

	return "Created new group successfully!", nil
}

func (s *Service) AddUser(actor, userID string, groupID int64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	if actor == userID {
		return "", opErrorf("You can't add yourself to a group.")
	}

	member := s.store.Users.Get(userID)
	if member == nil {
		return "", opErrorf("User %s not found.", userID)
	}

	g, err := s.ownedGroup(acct, groupID)
	if err != nil {
		return "", err
	}

	if member.InGroup(groupID) {
		return "", opErrorf("User %s is already in group %d.", userID, groupID)
	}

	g.AddMember(userID)
	member.AddParticipantGroup(groupID)

	return fmt.Sprintf("User %s successfully added to group %d!", userID, groupID), nil
}

func (s *Service) Groups(actor string) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	sb.WriteString("Owned groups:")
	if len(acct.OwnedGroups) > 0 {
		for _, id := range acct.OwnedGroups {
			g := s.store.Groups.Get(id)
			if g == nil {
				continue
			}

			fmt.Fprintf(&sb, "\nGroup ID %d | Members: ", g.ID)

			if len(g.Members) == 0 {
				sb.WriteString("No members!")
			} else {
				for _, m := range g.Members {
					fmt.Fprintf(&sb, "%s - ", m)
				}
			}
		}
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("\nYou do not own any groups.\n\n")
	}

	sb.WriteString("Participating groups:")
	if len(acct.ParticipantGroups) > 0 {
		for _, id := range acct.ParticipantGroups {
			g := s.store.Groups.Get(id)
			if g == nil {
				continue
			}

			fmt.Fprintf(&sb, "\nGroup ID %d | Group Owner: %s | Members: ", g.ID, g.OwnerID)

			for _, m := range g.Members {
				fmt.Fprintf(&sb, "%s - ", m)
			}
		}
	} else {
		sb.WriteString("\nYou are not in any group as a member.")
	}

	return sb.String(), nil
}

func (s *Service) DividePayment(actor string, groupID int64, amount float64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	if amount <= 0 {
		return "", opErrorf("Can't divide a payment of 0 or less")
	}

	g, err := s.ownedGroup(acct, groupID)
	if err != nil {
		return "", err
	}

	if len(g.Members) == 0 {
		return "", opErrorf("Cannot divide payment because group is empty.")
	}

	// One id for the group payment, one per member request.
	members := int64(len(g.Members))

	first, err := s.store.Counter.Next(members + 1)
	if err != nil {
		return "", fmt.Errorf("allocate divide ids: %w", err)
	}

	gp := domain.NewGroupPayment(first, amount, groupID, g.Members)
	g.AddActivePayment(gp)

	// The owner keeps their own share, so each member owes a 1/(M+1) cut.
	share := amount / float64(members+1)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment of %.2f€ successfully divided between the group members!", amount)

	for i, memberID := range gp.OwingMembers {
		member := s.store.Users.Get(memberID)
		if member == nil {
			continue
		}

		reqID := first + 1 + int64(i)
		member.AddPendingRequest(&domain.PaymentRequest{
			ID:             reqID,
			Amount:         share,
			CreatorID:      g.OwnerID,
			GroupID:        groupID,
			GroupPaymentID: gp.ID,
		})

		fmt.Fprintf(&sb, "\nSent Payment request ID: %d of %.2f€ to %s", reqID, share, memberID)
	}

	return sb.String(), nil
}

func (s *Service) StatusPayments(actor string, groupID int64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	g, err := s.ownedGroup(acct, groupID)
	if err != nil {
		return "", err
	}

	if len(g.ActivePayments) == 0 {
		return "No active payments!", nil
	}

	var sb strings.Builder
	sb.WriteString("Status:")

	for _, id := range sortedKeys(g.ActivePayments) {
		gp := g.ActivePayments[id]
		fmt.Fprintf(&sb, "\nGroup Payment ID: %d", gp.ID)
		sb.WriteString("\nHasn't Payed: ")

		for _, m := range gp.OwingMembers {
			fmt.Fprintf(&sb, "%s |", m)
		}
	}

	return sb.String(), nil
}

func (s *Service) History(actor string, groupID int64) (string, error) {
	acct, err := s.account(actor)
	if err != nil {
		return "", err
	}

	g, err := s.ownedGroup(acct, groupID)
	if err != nil {
		return "", err
	}

	if len(g.FinalizedPayments) == 0 {
		return "There aren't any finalized payments!", nil
	}

	var sb strings.Builder
	sb.WriteString("Finalized group payments:")

	for _, id := range sortedKeys(g.FinalizedPayments) {
		gp := g.FinalizedPayments[id]
		fmt.Fprintf(&sb, "\nGroup Payment of ID: %d with amount of %.2f€\nMembers: ", gp.ID, gp.TotalAmount)

		for _, m := range gp.Members {
			fmt.Fprintf(&sb, "%s |", m)
		}
	}

	return sb.String(), nil
}

// transfer is the shared money movement for direct payments and QR
// confirmations: validates amount, receiver and funds, then moves the money.
func (s *Service) transfer(from *domain.Account, receiverID string, amount float64) error {
	if amount <= 0 {
		return opErrorf("Can't make a payment of 0 or less")
	}

	if receiverID == from.ID {
		return opErrorf("Can't make a payment to yourself!")
	}

	receiver := s.store.Users.Get(receiverID)
	if receiver == nil {
		return opErrorf("User %s not found.", receiverID)
	}

	if from.Balance < amount {
		return opErrorf("Not enough funds to perform payment to user %s.", receiverID)
	}

	from.Transfer(receiver, amount)

	return nil
}

func (s *Service) account(actor string) (*domain.Account, error) {
	acct := s.store.Users.Get(actor)
	if acct == nil {
		return nil, fmt.Errorf("no account for authenticated user %q", actor)
	}

	return acct, nil
}

// ownedGroup resolves a group the actor must own, distinguishing "not your
// group" from "no such group".
func (s *Service) ownedGroup(acct *domain.Account, groupID int64) (*domain.Group, error) {
	if acct.OwnsGroup(groupID) {
		if g := s.store.Groups.Get(groupID); g != nil {
			return g, nil
		}
	}

	if s.store.Groups.IDExists(groupID) {
		return nil, opErrorf("You are not the submitted group's owner.")
	}

	return nil, opErrorf("Group with ID: %d doesn't exist.", groupID)
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}
