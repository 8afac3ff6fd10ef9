package domain

// PaymentRequest is an outstanding request for money, held on the account
// expected to pay it. GroupPaymentID is zero for standalone requests; request
// ids are allocated starting at 1, so zero never collides with a real id.
type PaymentRequest struct {
	ID             int64   `json:"id"`
	Amount         float64 `json:"amount"`
	CreatorID      string  `json:"creatorId"`
	GroupID        int64   `json:"groupId,omitempty"`
	GroupPaymentID int64   `json:"groupPaymentId,omitempty"`
}

// FromGroupPayment reports whether the request was issued by a divide
// operation and must therefore update the owing set when paid.
func (r *PaymentRequest) FromGroupPayment() bool {
	return r.GroupPaymentID != 0
}

// QRCodePayment is a payment request addressed to nobody in particular: the
// first account to confirm its id pays it, and it is consumed exactly once.
type QRCodePayment struct {
	ID        int64   `json:"id"`
	Amount    float64 `json:"amount"`
	CreatorID string  `json:"creatorId"`
}
