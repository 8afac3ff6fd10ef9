package catalog

import (
	"fmt"

	"github.com/fastprodman/moneyexchange/internal/domain"
)

// QRCodes is the catalog of open QR-code payment requests. An entry is
// removed the moment it is successfully confirmed.
type QRCodes struct {
	path      string
	paramPath string
	password  string

	payments map[int64]*domain.QRCodePayment
}

func NewQRCodes(path, paramPath, password string) *QRCodes {
	return &QRCodes{
		path:      path,
		paramPath: paramPath,
		password:  password,
		payments:  make(map[int64]*domain.QRCodePayment),
	}
}

func (q *QRCodes) Get(id int64) *domain.QRCodePayment {
	return q.payments[id]
}

func (q *QRCodes) Add(p *domain.QRCodePayment) {
	q.payments[p.ID] = p
}

func (q *QRCodes) Remove(id int64) {
	delete(q.payments, id)
}

func (q *QRCodes) Load() error {
	payments := make(map[int64]*domain.QRCodePayment)

	found, err := loadSnapshot(q.path, q.paramPath, q.password, &payments)
	if err != nil {
		return fmt.Errorf("load qrcodes catalog: %w", err)
	}

	if found {
		q.payments = payments
	}

	return nil
}

func (q *QRCodes) Save() error {
	if err := saveSnapshot(q.path, q.paramPath, q.password, q.payments); err != nil {
		return fmt.Errorf("save qrcodes catalog: %w", err)
	}

	return nil
}
