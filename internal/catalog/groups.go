package catalog

import (
	"fmt"

	"github.com/fastprodman/moneyexchange/internal/domain"
)

// groupsSnapshot is the persisted form of the groups catalog. Reserved ids
// outlive the groups that used them: an id once registered is never reusable.
type groupsSnapshot struct {
	Reserved []int64                 `json:"reserved"`
	Groups   map[int64]*domain.Group `json:"groups"`
}

// Groups is the group catalog plus the permanent group-id registry.
type Groups struct {
	path      string
	paramPath string
	password  string

	reserved map[int64]struct{}
	groups   map[int64]*domain.Group
}

func NewGroups(path, paramPath, password string) *Groups {
	return &Groups{
		path:      path,
		paramPath: paramPath,
		password:  password,
		reserved:  make(map[int64]struct{}),
		groups:    make(map[int64]*domain.Group),
	}
}

// IDExists reports whether a group id has ever been registered.
func (g *Groups) IDExists(id int64) bool {
	_, ok := g.reserved[id]
	return ok
}

// Register reserves the id forever and stores the group.
func (g *Groups) Register(group *domain.Group) {
	g.reserved[group.ID] = struct{}{}
	g.groups[group.ID] = group
}

func (g *Groups) Get(id int64) *domain.Group {
	return g.groups[id]
}

func (g *Groups) Load() error {
	var snap groupsSnapshot

	found, err := loadSnapshot(g.path, g.paramPath, g.password, &snap)
	if err != nil {
		return fmt.Errorf("load groups catalog: %w", err)
	}

	if !found {
		return nil
	}

	g.reserved = make(map[int64]struct{}, len(snap.Reserved))
	for _, id := range snap.Reserved {
		g.reserved[id] = struct{}{}
	}

	g.groups = snap.Groups
	if g.groups == nil {
		g.groups = make(map[int64]*domain.Group)
	}

	return nil
}

func (g *Groups) Save() error {
	snap := groupsSnapshot{
		Reserved: make([]int64, 0, len(g.reserved)),
		Groups:   g.groups,
	}
	for id := range g.reserved {
		snap.Reserved = append(snap.Reserved, id)
	}

	if err := saveSnapshot(g.path, g.paramPath, g.password, snap); err != nil {
		return fmt.Errorf("save groups catalog: %w", err)
	}

	return nil
}
