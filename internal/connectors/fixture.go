package connectors

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

type FixtureOptions struct {
	// Seed prefixes source job ids. Defaults to the source name.
	Seed string `mapstructure:"seed"`
	// Fail makes Discover return an error, for exercising partial runs.
	Fail bool `mapstructure:"fail"`
}

// Fixture returns a fixed set of postings. One of them is a copy of another
// seen on a second board, so a run always exercises in-input deduplication.
type Fixture struct {
	name string
	opts FixtureOptions
	now  func() time.Time
}

func NewFixture(name string, opts FixtureOptions, now func() time.Time) *Fixture {
	if opts.Seed == "" {
		opts.Seed = name
	}
	return &Fixture{name: name, opts: opts, now: now}
}

func (f *Fixture) Name() string { return f.name }

func (f *Fixture) Discover(ctx context.Context) ([]domain.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.opts.Fail {
		return nil, errors.New("fixture source configured to fail")
	}

	seed := strings.ToLower(strings.TrimSpace(f.opts.Seed))
	at := f.now().UTC()

	postings := fixturePostings()
	for i := range postings {
		postings[i].Source = f.name
		postings[i].SourceJobID = seed + "-" + postings[i].SourceJobID
		postings[i].DiscoveredAt = at
	}
	return postings, nil
}

func fixturePostings() []domain.RawPosting {
	northbridge := domain.RawPosting{
		SourceJobID:     "vc-1",
		Company:         "NorthBridge Ventures",
		Title:           "Investment Analyst (Economics + AI)",
		Geography:       "London, UK",
		RoleFamily:      "investment",
		Seniority:       "junior",
		ApplyURL:        "https://jobs.northbridge.vc/investment-analyst",
		Description:     "Evaluate AI-native businesses, macro trends, incentives, and market dynamics for portfolio investment decisions.",
		Skills:          []string{"economics", "research", "market analysis", "excel"},
		CompensationMin: 55000,
		CompensationMax: 70000,
	}

	duplicate := northbridge
	duplicate.SourceJobID = "wf-3"
	duplicate.ApplyURL = "https://jobs.northbridge.vc/investment-analyst?src=wellfound"
	duplicate.Skills = append([]string(nil), northbridge.Skills...)

	return []domain.RawPosting{
		northbridge,
		{
			SourceJobID: "co-2",
			Company:     "Aurum Strategy Partners",
			Title:       "Economic Consulting Analyst",
			Geography:   "Mumbai, India",
			RoleFamily:  "consulting",
			ApplyURL:    "https://careers.aurumstrategy.com/econ-analyst",
			Description: "Support consulting engagements across public policy, incentives design, and market strategy.",
			Skills:      []string{"econometrics", "stata", "excel", "policy analysis"},
		},
		duplicate,
		{
			SourceJobID:     "imf-4",
			Company:         "International Monetary Fund",
			Title:           "Research Officer - Emerging Markets",
			Geography:       "Washington, US",
			RoleFamily:      "research",
			Seniority:       "mid",
			ApplyURL:        "https://careers.imf.org/research-officer",
			Description:     "Economic policy analysis, macro monitoring, and writing for institutional audiences.",
			Skills:          []string{"economics", "research", "policy analysis", "stata"},
			CompensationMin: 90000,
			CompensationMax: 120000,
		},
		{
			SourceJobID: "yc-5",
			Company:     "SignalStack AI",
			Title:       "Strategy Analyst (AI Markets)",
			Geography:   "Remote, International",
			RoleFamily:  "strategy",
			Remote:      true,
			ApplyURL:    "https://jobs.signalstack.ai/strategy-analyst",
			Contact:     "talent@signalstack.ai",
			Description: "Translate AI product and market data into strategic recommendations for growth.",
			Skills:      []string{"economics", "strategy", "excel", "research"},
		},
		{
			SourceJobID: "dx-6",
			Company:     "Global Development Advisory",
			Title:       "Policy and Economic Analyst",
			Geography:   "Gurugram, India",
			RoleFamily:  "policy",
			ApplyURL:    "https://jobs.gda.example/policy-analyst",
			Description: "Policy analytics for development finance clients; incentives and institutional analysis.",
			Skills:      []string{"policy analysis", "economics", "excel", "writing"},
		},
	}
}
