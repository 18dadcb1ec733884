package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

func TestTemplateGenerate(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gen := NewTemplate(func() time.Time { return at })

	p := domain.NewPosting(domain.RawPosting{
		Source:    "fixture",
		Company:   "NorthBridge Ventures",
		Title:     "Investment Analyst",
		Geography: "London, UK",
		Skills:    []string{"Economics", "research", "excel"},
	})
	profile := domain.Profile{Name: "Asha Rao", Headline: "Economist", Skills: []string{"economics", "excel", "python"}}

	drafts, err := gen.Generate(context.Background(), p, profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if drafts.Fingerprint != p.Fingerprint || drafts.Generator != "template" {
		t.Fatalf("unexpected identity: %+v", drafts)
	}
	if !strings.Contains(drafts.CVSummary, "Economics, excel") {
		t.Fatalf("expected matched skills in summary, got %q", drafts.CVSummary)
	}
	if !strings.HasPrefix(drafts.CoverLetter, "Dear NorthBridge Ventures hiring team,") {
		t.Fatalf("unexpected cover letter: %q", drafts.CoverLetter)
	}
	if !strings.HasSuffix(drafts.Outreach, "Asha Rao") {
		t.Fatalf("unexpected outreach: %q", drafts.Outreach)
	}
	if !drafts.CreatedAt.Equal(at) {
		t.Fatalf("expected created_at %s, got %s", at, drafts.CreatedAt)
	}

	again, _ := gen.Generate(context.Background(), p, profile)
	if again != drafts {
		t.Fatalf("expected deterministic drafts")
	}
}

func TestTemplateGenerateErrors(t *testing.T) {
	t.Parallel()

	gen := NewTemplate(nil)
	if _, err := gen.Generate(context.Background(), domain.Posting{}, domain.Profile{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gen.Generate(ctx, domain.Posting{}, domain.Profile{Name: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
