package profile

import (
	"testing"
	"time"
)

func TestEnsureCreatesAtGenderStage(t *testing.T) {
	s := NewStore()
	p := s.Ensure(1)

	if p.Stage != StageGender {
		t.Errorf("new profile stage = %q, want %q", p.Stage, StageGender)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}

	// Ensure is idempotent.
	s.Ensure(1)
	if s.Count() != 1 {
		t.Errorf("Count() after repeat Ensure = %d, want 1", s.Count())
	}
}

func TestSetupStateMachine(t *testing.T) {
	s := NewStore()
	s.Ensure(1)

	if got := s.MissingField(1); got != "gender" {
		t.Errorf("MissingField = %q, want gender", got)
	}

	if err := s.SetGender(1, GenderFemale); err != nil {
		t.Fatalf("SetGender() error: %v", err)
	}
	if got := s.Get(1).Stage; got != StageLanguage {
		t.Errorf("stage after gender = %q, want %q", got, StageLanguage)
	}
	if got := s.MissingField(1); got != "language" {
		t.Errorf("MissingField = %q, want language", got)
	}

	if err := s.SetLanguage(1, "en"); err != nil {
		t.Fatalf("SetLanguage() error: %v", err)
	}
	if !s.Complete(1) {
		t.Error("profile should be complete after gender and language")
	}
	if got := s.MissingField(1); got != "" {
		t.Errorf("MissingField on complete profile = %q, want empty", got)
	}
}

func TestGenderIsWriteOnce(t *testing.T) {
	s := NewStore()
	if err := s.SetGender(1, GenderMale); err != nil {
		t.Fatalf("SetGender() error: %v", err)
	}
	if err := s.SetGender(1, GenderOther); err == nil {
		t.Error("expected error changing gender after it was set")
	}
	if got := s.Get(1).Gender; got != GenderMale {
		t.Errorf("gender = %q, want unchanged Male", got)
	}
}

func TestLanguageCanChange(t *testing.T) {
	s := NewStore()
	s.SetGender(1, GenderMale)
	if err := s.SetLanguage(1, "en"); err != nil {
		t.Fatalf("SetLanguage() error: %v", err)
	}
	if err := s.SetLanguage(1, "hi"); err != nil {
		t.Fatalf("changing language should be allowed: %v", err)
	}
	if got := s.Get(1).Language; got != "hi" {
		t.Errorf("language = %q, want hi", got)
	}
	if err := s.SetLanguage(1, "xx"); err == nil {
		t.Error("expected error for unsupported language")
	}
}

func TestSetAgeBounds(t *testing.T) {
	s := NewStore()
	if err := s.SetAge(1, 21); err != nil {
		t.Fatalf("SetAge() error: %v", err)
	}
	if err := s.SetAge(1, 7); err == nil {
		t.Error("expected error for age below range")
	}
	if err := s.SetAge(1, 200); err == nil {
		t.Error("expected error for age above range")
	}
}

func TestCounters(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base.Add(-48 * time.Hour) }
	s.Ensure(1) // two days old

	s.now = func() time.Time { return base }
	s.Ensure(2)
	s.SetGender(2, GenderFemale)
	s.SetLanguage(2, "es")

	if got := s.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if got := s.CompletedCount(); got != 1 {
		t.Errorf("CompletedCount() = %d, want 1", got)
	}
	if got := s.CreatedTodayCount(); got != 1 {
		t.Errorf("CreatedTodayCount() = %d, want 1", got)
	}
}

func TestParseGender(t *testing.T) {
	for _, ok := range []string{"Male", "Female", "Other"} {
		if _, err := ParseGender(ok); err != nil {
			t.Errorf("ParseGender(%q) error: %v", ok, err)
		}
	}
	if _, err := ParseGender("male"); err == nil {
		t.Error("ParseGender should be case-sensitive")
	}
}
