// Package profile manages per-user profile state and the profile-setup
// flow. Profiles live only in process memory: they are created on first
// contact and discarded when the process exits.
package profile

import (
	"fmt"
	"sync"
	"time"
)

// Gender is the user's self-selected gender. Write-once: it cannot be
// changed after the initial selection.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// ParseGender validates a gender value received from the action protocol.
func ParseGender(s string) (Gender, error) {
	switch Gender(s) {
	case GenderMale, GenderFemale, GenderOther:
		return Gender(s), nil
	}
	return "", fmt.Errorf("profile: invalid gender %q", s)
}

// Languages maps supported language codes to display names.
var Languages = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"es": "Spanish",
}

// Setup stages for the profile-setup state machine.
type Stage string

const (
	StageGender   Stage = "awaiting_gender"
	StageLanguage Stage = "awaiting_language"
	StageComplete Stage = "complete"
)

// Profile holds one user's attributes.
type Profile struct {
	ID        int64
	Gender    Gender // empty until set
	Language  string // empty until set
	Age       int    // 0 = unset
	Stage     Stage
	CreatedAt time.Time
}

// Store is the in-memory profile store. All access goes through its
// methods; the internal map is guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	profiles map[int64]*Profile
	now      func() time.Time
}

// NewStore creates an empty profile store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[int64]*Profile),
		now:      time.Now,
	}
}

// Ensure returns the profile for id, creating a fresh one at the
// gender-selection stage if the user has never been seen.
func (s *Store) Ensure(id int64) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		p = &Profile{ID: id, Stage: StageGender, CreatedAt: s.now()}
		s.profiles[id] = p
	}
	return s.snapshot(p)
}

// Get returns a copy of the profile, or nil if the user is unknown.
func (s *Store) Get(id int64) *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil
	}
	return s.snapshot(p)
}

// SetGender records the user's gender. Gender is immutable once set.
func (s *Store) SetGender(id int64, g Gender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.ensureLocked(id)
	if p.Gender != "" {
		return fmt.Errorf("profile: gender already set for user %d", id)
	}
	p.Gender = g
	p.advance()
	return nil
}

// SetLanguage records or changes the user's language. Unlike gender,
// language can be changed later from settings.
func (s *Store) SetLanguage(id int64, code string) error {
	if _, ok := Languages[code]; !ok {
		return fmt.Errorf("profile: unsupported language %q", code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.ensureLocked(id)
	p.Language = code
	p.advance()
	return nil
}

// SetAge records the user's age. Age is optional and may be updated.
func (s *Store) SetAge(id int64, age int) error {
	if age < 13 || age > 120 {
		return fmt.Errorf("profile: age %d out of range", age)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLocked(id).Age = age
	return nil
}

// Complete reports whether the user has finished the setup flow
// (gender and language both set).
func (s *Store) Complete(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	return ok && p.Stage == StageComplete
}

// MissingField names the next field the setup flow should prompt for.
// Returns "" when the profile is complete.
func (s *Store) MissingField(id int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	switch {
	case !ok || p.Gender == "":
		return "gender"
	case p.Language == "":
		return "language"
	}
	return ""
}

// Count returns the total number of known users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// CompletedCount returns how many users have finished profile setup.
func (s *Store) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.profiles {
		if p.Stage == StageComplete {
			n++
		}
	}
	return n
}

// CreatedTodayCount returns how many users were first seen today (UTC).
func (s *Store) CreatedTodayCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := s.now().UTC().Truncate(24 * time.Hour)
	n := 0
	for _, p := range s.profiles {
		if !p.CreatedAt.UTC().Truncate(24 * time.Hour).Before(today) {
			n++
		}
	}
	return n
}

// ensureLocked returns the live profile for id, creating it if needed.
// Caller must hold s.mu.
func (s *Store) ensureLocked(id int64) *Profile {
	p, ok := s.profiles[id]
	if !ok {
		p = &Profile{ID: id, Stage: StageGender, CreatedAt: s.now()}
		s.profiles[id] = p
	}
	return p
}

func (s *Store) snapshot(p *Profile) *Profile {
	cp := *p
	return &cp
}

// advance recomputes the setup stage after a field change.
func (p *Profile) advance() {
	switch {
	case p.Gender == "":
		p.Stage = StageGender
	case p.Language == "":
		p.Stage = StageLanguage
	default:
		p.Stage = StageComplete
	}
}
