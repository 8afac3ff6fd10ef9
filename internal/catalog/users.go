package catalog

import (
	"fmt"

	"github.com/fastprodman/moneyexchange/internal/domain"
)

// Users is the account catalog. It carries no locking of its own: all access
// runs under the server's combined critical section.
type Users struct {
	path      string
	paramPath string
	password  string

	accounts map[string]*domain.Account
}

func NewUsers(path, paramPath, password string) *Users {
	return &Users{
		path:      path,
		paramPath: paramPath,
		password:  password,
		accounts:  make(map[string]*domain.Account),
	}
}

// Get returns the account with the given id, or nil if it is not registered.
func (u *Users) Get(id string) *domain.Account {
	return u.accounts[id]
}

func (u *Users) Add(a *domain.Account) {
	u.accounts[a.ID] = a
}

func (u *Users) Load() error {
	accounts := make(map[string]*domain.Account)

	found, err := loadSnapshot(u.path, u.paramPath, u.password, &accounts)
	if err != nil {
		return fmt.Errorf("load users catalog: %w", err)
	}

	if found {
		u.accounts = accounts
	}

	return nil
}

func (u *Users) Save() error {
	if err := saveSnapshot(u.path, u.paramPath, u.password, u.accounts); err != nil {
		return fmt.Errorf("save users catalog: %w", err)
	}

	return nil
}
