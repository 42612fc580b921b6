package auth

import "sync"

// Staff roles used across the dashboards.
const (
	RoleAdmin         = "admin"
	RoleCashier       = "cashier"
	RoleDoctor        = "doctor"
	RoleNurse         = "nurse"
	RolePharmacist    = "pharmacist"
	RoleLabTechnician = "lab_technician"
)

// User identifies the staff member performing an action.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// HasRole reports whether u holds any of roles. Admin matches everything.
func (u User) HasRole(roles ...string) bool {
	if u.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// Session holds the process-wide current user, used when an action runs
// outside a request (CLI, seeding, background jobs).
type Session struct {
	mu   sync.RWMutex
	user *User
}

func NewSession() *Session {
	return &Session{}
}

// SetCurrentUser replaces the current user. A nil user clears it.
func (s *Session) SetCurrentUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	cp := *u
	s.user = &cp
}

// CurrentUser returns the current user, if any.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}
