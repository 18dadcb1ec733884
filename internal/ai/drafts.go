// Package ai produces application drafts: a CV summary, a cover letter and an
// outreach note for a posting. Drafts help the reviewer; a posting goes to
// review with or without them.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

// DraftGenerator writes drafts for one posting.
type DraftGenerator interface {
	Name() string
	Generate(ctx context.Context, posting domain.Posting, profile domain.Profile) (domain.Drafts, error)
}

// Template fills fixed text templates from the posting and the profile. It
// needs no network and never fails for a complete profile.
type Template struct {
	now func() time.Time
}

func NewTemplate(now func() time.Time) *Template {
	if now == nil {
		now = time.Now
	}
	return &Template{now: now}
}

func (t *Template) Name() string { return "template" }

func (t *Template) Generate(ctx context.Context, p domain.Posting, profile domain.Profile) (domain.Drafts, error) {
	if err := ctx.Err(); err != nil {
		return domain.Drafts{}, err
	}
	if strings.TrimSpace(profile.Name) == "" {
		return domain.Drafts{}, fmt.Errorf("%w: profile has no name", domain.ErrValidation)
	}

	matched := overlap(profile.Skills, p.Skills)
	skills := "my background"
	if len(matched) > 0 {
		skills = strings.Join(matched, ", ")
	}

	headline := profile.Headline
	if headline == "" {
		headline = profile.Name
	}

	summary := fmt.Sprintf("%s. Relevant to %s at %s: %s.", headline, p.Title, p.Company, skills)
	if profile.Summary != "" {
		summary += " " + profile.Summary
	}

	letter := strings.Join([]string{
		fmt.Sprintf("Dear %s hiring team,", p.Company),
		"",
		fmt.Sprintf("I am applying for the %s role (%s). My experience with %s matches what the role asks for.", p.Title, p.Geography, skills),
		"I would welcome the chance to discuss how I can contribute.",
		"",
		"Kind regards,",
		profile.Name,
	}, "\n")

	outreach := fmt.Sprintf("Hi, I saw the %s opening at %s and would love to learn more. I work with %s. Would you have 15 minutes this week? %s",
		p.Title, p.Company, skills, profile.Name)

	return domain.Drafts{
		Fingerprint: p.Fingerprint,
		Generator:   t.Name(),
		CVSummary:   summary,
		CoverLetter: letter,
		Outreach:    outreach,
		CreatedAt:   t.now().UTC(),
	}, nil
}

// overlap returns the posting skills the profile has, in posting order.
func overlap(have, want []string) []string {
	known := make(map[string]bool, len(have))
	for _, s := range have {
		known[domain.Normalize(s)] = true
	}
	var out []string
	for _, s := range want {
		if known[domain.Normalize(s)] {
			out = append(out, s)
		}
	}
	return out
}
