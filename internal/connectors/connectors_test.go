package connectors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

var fixedNow = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

func TestFixtureSource(t *testing.T) {
	t.Parallel()

	src, err := NewSource(SourceConfig{Name: "boards", Kind: "fixture", Options: map[string]any{"seed": "Seed"}}, fixedNow, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	postings, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(postings) != 6 {
		t.Fatalf("expected 6 postings, got %d", len(postings))
	}

	first := domain.NewPosting(postings[0])
	dup := domain.NewPosting(postings[2])
	if first.Fingerprint != dup.Fingerprint {
		t.Fatalf("expected the cross-board copy to share a fingerprint")
	}
	if postings[0].SourceJobID != "seed-vc-1" || postings[0].Source != "boards" {
		t.Fatalf("unexpected identity: %q from %q", postings[0].SourceJobID, postings[0].Source)
	}
	if !postings[0].DiscoveredAt.Equal(fixedNow()) {
		t.Fatalf("expected discovered_at from clock, got %s", postings[0].DiscoveredAt)
	}

	again, _ := src.Discover(context.Background())
	again[0].Skills[0] = "changed"
	third, _ := src.Discover(context.Background())
	if third[0].Skills[0] != "economics" {
		t.Fatalf("expected fixture data to be fresh on every call")
	}
}

func TestFixtureFailureAndCancel(t *testing.T) {
	t.Parallel()

	src := NewFixture("broken", FixtureOptions{Fail: true}, fixedNow)
	if _, err := src.Discover(context.Background()); err == nil {
		t.Fatalf("expected configured failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFixture("ok", FixtureOptions{}, fixedNow).Discover(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "postings.yaml")
	content := `postings:
  - company: Helix Labs
    title: Pricing Economist
    geography: Berlin, Germany
    role_family: pricing
    skills: [economics, python]
    description: "<div><p>Own   pricing&nbsp;experiments.</p><script>track()</script><ul><li>Model demand</li></ul></div>"
  - title: Missing company
  - company: Plain Text Co
    title: Analyst
    geography: Remote
    description: Plain text stays as is.
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	src, err := NewSource(SourceConfig{Name: "export", Kind: "file", Options: map[string]any{"path": path}}, fixedNow, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	postings, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(postings))
	}
	if want := "Own pricing experiments.\nModel demand"; postings[0].Description != want {
		t.Fatalf("expected %q, got %q", want, postings[0].Description)
	}
	if postings[1].Description != "Plain text stays as is." {
		t.Fatalf("unexpected description: %q", postings[1].Description)
	}
	if postings[0].Source != "export" {
		t.Fatalf("expected source name to be set, got %q", postings[0].Source)
	}
}

func TestNewSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  SourceConfig
	}{
		{"unknown kind", SourceConfig{Name: "x", Kind: "linkedin"}},
		{"file without path", SourceConfig{Name: "x", Kind: "file"}},
		{"unknown option", SourceConfig{Name: "x", Kind: "fixture", Options: map[string]any{"sede": "typo"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewSource(tt.cfg, nil, nil); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSimulatedSink(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(SinkConfig{Options: map[string]any{
		"fail-companies": []string{"aurum strategy partners"},
		"latency":        "1ms",
	}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok := domain.NewPosting(domain.RawPosting{Source: "s", Company: "IMF", Title: "Research Officer"})
	ref, err := sink.Execute(context.Background(), domain.ActionSubmitApplication, ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "sim-" + ok.Fingerprint[:12] + "-submit_application"; ref != want {
		t.Fatalf("expected %q, got %q", want, ref)
	}

	bad := domain.NewPosting(domain.RawPosting{Source: "s", Company: "Aurum Strategy Partners", Title: "Analyst"})
	if _, err := sink.Execute(context.Background(), domain.ActionSendOutreach, bad); err == nil || !strings.Contains(err.Error(), "Aurum") {
		t.Fatalf("expected configured failure, got %v", err)
	}

	slow := NewSimulated(SimulatedOptions{Latency: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Execute(ctx, domain.ActionSendOutreach, ok); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
