package sect

import (
	"strings"
	"sync"
	"time"
)

// Member is one player's membership within a sect.
type Member struct {
	PlayerID           int64     `json:"player_id"`
	Name               string    `json:"name"`
	Rank               Rank      `json:"rank"`
	Contribution       int64     `json:"contribution"`
	WeeklyContribution int64     `json:"weekly_contribution"`
	JoinedAt           time.Time `json:"joined_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
	TasksCompleted     int       `json:"tasks_completed"`
	DonationCount      int       `json:"donation_count"`
}

// Sect is the live in-memory record. mu serializes all mutation of its
// fields; snapshots are taken under mu for readers.
type Sect struct {
	mu sync.Mutex

	ID                int64
	Name              string
	Description       string
	Level             int
	Experience        int64
	Funds             int64
	ContributionTotal int64
	MaxMembers        int
	Recruiting        bool
	PvPEnabled        bool
	Announcement      string
	OwnerID           int64
	OwnerName         string
	LastMaintenanceAt time.Time
	CreatedAt         time.Time
	Members           map[int64]*Member
}

// View is a consistent read-only snapshot of a sect.
type View struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Level             int       `json:"level"`
	Experience        int64     `json:"experience"`
	Funds             int64     `json:"funds"`
	ContributionTotal int64     `json:"contribution_total"`
	MaxMembers        int       `json:"max_members"`
	Recruiting        bool      `json:"recruiting"`
	PvPEnabled        bool      `json:"pvp_enabled"`
	Announcement      string    `json:"announcement"`
	OwnerID           int64     `json:"owner_id"`
	OwnerName         string    `json:"owner_name"`
	LastMaintenanceAt time.Time `json:"last_maintenance_at"`
	CreatedAt         time.Time `json:"created_at"`
	Members           []Member  `json:"members"`
}

// Snapshot copies the sect under its lock.
func (s *Sect) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Sect) snapshotLocked() View {
	v := View{
		ID:                s.ID,
		Name:              s.Name,
		Description:       s.Description,
		Level:             s.Level,
		Experience:        s.Experience,
		Funds:             s.Funds,
		ContributionTotal: s.ContributionTotal,
		MaxMembers:        s.MaxMembers,
		Recruiting:        s.Recruiting,
		PvPEnabled:        s.PvPEnabled,
		Announcement:      s.Announcement,
		OwnerID:           s.OwnerID,
		OwnerName:         s.OwnerName,
		LastMaintenanceAt: s.LastMaintenanceAt,
		CreatedAt:         s.CreatedAt,
		Members:           make([]Member, 0, len(s.Members)),
	}
	for _, m := range s.Members {
		v.Members = append(v.Members, *m)
	}
	return v
}

// member returns the live member entry. Callers hold s.mu.
func (s *Sect) member(playerID int64) (*Member, bool) {
	m, ok := s.Members[playerID]
	return m, ok
}

// Registry is the authoritative in-memory sect store with a
// case-insensitive name index and a player→sect mirror map.
//
// Lock order: Registry.mu before Sect.mu, never the reverse.
type Registry struct {
	mu       sync.RWMutex
	sects    map[int64]*Sect
	byName   map[string]int64 // lowercased name → id
	byPlayer map[int64]int64  // playerID → sectID
	nextID   int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sects:    make(map[int64]*Sect),
		byName:   make(map[string]int64),
		byPlayer: make(map[int64]int64),
		nextID:   1,
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Create inserts a new sect with the owner as its sole Leader member.
// The name-index check and the insert happen under one lock, so two
// concurrent creates with the same name cannot both succeed.
func (r *Registry) Create(name, description string, ownerID int64, ownerName string, maxMembers int, now time.Time) (*Sect, error) {
	key := nameKey(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[key]; taken {
		return nil, conflictf("sect name %q already taken", name)
	}
	if sid, in := r.byPlayer[ownerID]; in {
		return nil, conflictf("player %d already belongs to sect %d", ownerID, sid)
	}

	s := &Sect{
		ID:          r.nextID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Level:       1,
		MaxMembers:  maxMembers,
		Recruiting:  true,
		OwnerID:     ownerID,
		OwnerName:   ownerName,
		CreatedAt:   now,
		Members: map[int64]*Member{
			ownerID: {
				PlayerID:     ownerID,
				Name:         ownerName,
				Rank:         RankLeader,
				JoinedAt:     now,
				LastActiveAt: now,
			},
		},
	}
	r.nextID++
	r.sects[s.ID] = s
	r.byName[key] = s.ID
	r.byPlayer[ownerID] = s.ID
	return s, nil
}

// ByID returns the sect with the given id.
func (r *Registry) ByID(id int64) (*Sect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sects[id]
	return s, ok
}

// ByName returns the sect with the given name, case-insensitively.
func (r *Registry) ByName(name string) (*Sect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[nameKey(name)]
	if !ok {
		return nil, false
	}
	s, ok := r.sects[id]
	return s, ok
}

// SectOf returns the sect the player belongs to, if any.
func (r *Registry) SectOf(playerID int64) (*Sect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	s, ok := r.sects[id]
	return s, ok
}

// All returns every live sect.
func (r *Registry) All() []*Sect {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Sect, 0, len(r.sects))
	for _, s := range r.sects {
		out = append(out, s)
	}
	return out
}

// MemberIDs returns every player currently in any sect.
func (r *Registry) MemberIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.byPlayer))
	for pid := range r.byPlayer {
		out = append(out, pid)
	}
	return out
}

// Attach adds a member to a sect. check runs under both locks so
// capacity and recruiting decisions cannot race with other mutations.
func (r *Registry) Attach(sectID int64, m *Member, check func(*Sect) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sects[sectID]
	if !ok {
		return notFoundf("sect %d", sectID)
	}
	if sid, in := r.byPlayer[m.PlayerID]; in {
		return conflictf("player %d already belongs to sect %d", m.PlayerID, sid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if check != nil {
		if err := check(s); err != nil {
			return err
		}
	}
	s.Members[m.PlayerID] = m
	r.byPlayer[m.PlayerID] = sectID
	return nil
}

// Detach removes a member from a sect and returns the removed entry so
// a failed persist can re-attach it. check runs under both locks with
// the member still present, so authority decisions cannot go stale
// between the check and the removal.
func (r *Registry) Detach(sectID, playerID int64, check func(*Sect) error) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sects[sectID]
	if !ok {
		return nil, notFoundf("sect %d", sectID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Members[playerID]
	if !ok {
		return nil, notFoundf("player %d in sect %d", playerID, sectID)
	}
	if check != nil {
		if err := check(s); err != nil {
			return nil, err
		}
	}
	delete(s.Members, playerID)
	delete(r.byPlayer, playerID)
	return m, nil
}

// Remove deletes a sect and clears every member from the mirror map.
// Returns the removed member IDs.
func (r *Registry) Remove(sectID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sects[sectID]
	if !ok {
		return nil, notFoundf("sect %d", sectID)
	}
	s.mu.Lock()
	members := make([]int64, 0, len(s.Members))
	for pid := range s.Members {
		members = append(members, pid)
		delete(r.byPlayer, pid)
	}
	s.mu.Unlock()
	delete(r.sects, sectID)
	delete(r.byName, nameKey(s.Name))
	return members, nil
}

// Load rebuilds the registry from persisted rows. Called once at
// startup before any traffic.
func (r *Registry) Load(sects []*Sect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sects {
		r.sects[s.ID] = s
		r.byName[nameKey(s.Name)] = s.ID
		for pid := range s.Members {
			r.byPlayer[pid] = s.ID
		}
		if s.ID >= r.nextID {
			r.nextID = s.ID + 1
		}
	}
}
