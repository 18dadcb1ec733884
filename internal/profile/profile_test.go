package profile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spigell/jobpipe/internal/domain"
)

const sample = `
name: Ada
seniority: " Senior "
role_families: [analyst, Analyst, " strategy "]
geographies: ["London, UK", ""]
accept_remote: true
min_compensation: 60000
skills: [economics, excel]
`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Seniority != "senior" {
		t.Fatalf("expected %q, got %q", "senior", p.Seniority)
	}
	if !reflect.DeepEqual(p.RoleFamilies, []string{"analyst", "strategy"}) {
		t.Fatalf("unexpected role families: %v", p.RoleFamilies)
	}
	if !reflect.DeepEqual(p.Geographies, []string{"London, UK"}) {
		t.Fatalf("unexpected geographies: %v", p.Geographies)
	}
	if !p.AcceptRemote || p.MinCompensation != 60000 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if missing := p.Missing(); len(missing) != 0 {
		t.Fatalf("expected complete profile, missing %v", missing)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("name: x\nrole_family: [a]\n"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = Parse(nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
}

func TestParseRejectsUnknownSeniority(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("name: x\nseniority: wizard\nrole_families: [a]\ngeographies: [b]\n"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	p, err := Parse([]byte("name: x\nseniority: Lead\nrole_families: [a]\ngeographies: [b]\n"))
	if err != nil {
		t.Fatalf("alias should be accepted: %v", err)
	}
	if p.Seniority != "lead" {
		t.Fatalf("expected normalized seniority, got %q", p.Seniority)
	}
}
