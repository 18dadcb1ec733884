// Package compliance decides, per posting, whether an execution plan may
// touch the outside world. A block is a verdict, not an error: the gate
// keeps evaluating every posting of the plan.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

// Ledger is the read side the gate needs: postings with their drafts,
// suppressions and the audit history.
type Ledger interface {
	GetPosting(ctx context.Context, fingerprint string) (domain.Posting, error)
	GetDrafts(ctx context.Context, fingerprint string) (domain.Drafts, bool, error)
	ActiveSuppressions(ctx context.Context, at time.Time) ([]domain.SuppressionEntry, error)
	SuccessfulSince(ctx context.Context, since time.Time) ([]domain.AuditRecord, error)
	HasSuccessfulExecution(ctx context.Context, fingerprint string, action domain.Action) (bool, error)
}

// Limits are ceilings on successful executions within Window. Zero means
// unlimited.
type Limits struct {
	Window        time.Duration `mapstructure:"window"`
	PerCompany    int           `mapstructure:"per-company"`
	PerRoleFamily int           `mapstructure:"per-role-family"`
	Overall       int           `mapstructure:"overall"`
}

func DefaultLimits() Limits {
	return Limits{Window: 24 * time.Hour, PerCompany: 2, PerRoleFamily: 5, Overall: 10}
}

// Verdict is the gate's answer for one posting.
type Verdict struct {
	Fingerprint string
	Allowed     bool
	Reasons     []string
}

// Report holds verdicts in plan order.
type Report struct {
	PlanID   string
	Verdicts []Verdict
}

func (r Report) Allowed() []string {
	var fps []string
	for _, v := range r.Verdicts {
		if v.Allowed {
			fps = append(fps, v.Fingerprint)
		}
	}
	return fps
}

// AllBlocked reports whether no posting may proceed.
func (r Report) AllBlocked() bool {
	return len(r.Allowed()) == 0
}

func (r Report) Verdict(fingerprint string) (Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.Fingerprint == fingerprint {
			return v, true
		}
	}
	return Verdict{}, false
}

type Gate struct {
	ledger Ledger
	limits Limits
	now    func() time.Time
	logger *zap.Logger
}

func New(ledger Ledger, limits Limits, now func() time.Time, log *zap.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{ledger: ledger, limits: limits, now: now, logger: logger.WithFields(log)}
}

func (g *Gate) Limits() Limits { return g.limits }

// Check evaluates drafts, suppression, rate limits and uniqueness for every
// posting.
// Postings admitted earlier in the same check count against the ceilings of
// later ones.
func (g *Gate) Check(ctx context.Context, plan domain.ExecutionPlan) (Report, error) {
	now := g.now()

	suppressions, err := g.ledger.ActiveSuppressions(ctx, now)
	if err != nil {
		return Report{}, fmt.Errorf("loading suppressions: %w", err)
	}

	c := newCounter()
	if g.limits.Window > 0 {
		recent, err := g.ledger.SuccessfulSince(ctx, now.Add(-g.limits.Window))
		if err != nil {
			return Report{}, fmt.Errorf("loading recent executions: %w", err)
		}
		for _, rec := range recent {
			c.add(rec.Company, rec.RoleFamily)
		}
	}

	report := Report{PlanID: plan.ID, Verdicts: make([]Verdict, 0, len(plan.Fingerprints))}
	inPlan := make(map[string]bool, len(plan.Fingerprints))

	for _, fp := range plan.Fingerprints {
		p, err := g.ledger.GetPosting(ctx, fp)
		if err != nil {
			return Report{}, err
		}

		drafts, ok, err := g.ledger.GetDrafts(ctx, fp)
		if err != nil {
			return Report{}, fmt.Errorf("loading drafts: %w", err)
		}
		reasons := draftReasons(plan.Action, drafts, ok)

		for _, e := range suppressions {
			if e.Matches(p) {
				reasons = append(reasons, e.Describe())
			}
		}

		reasons = append(reasons, g.rateReasons(c, p)...)

		done, err := g.ledger.HasSuccessfulExecution(ctx, fp, plan.Action)
		if err != nil {
			return Report{}, fmt.Errorf("checking execution history: %w", err)
		}
		if done {
			reasons = append(reasons, fmt.Sprintf("%s already succeeded for this posting", plan.Action))
		}
		if inPlan[fp] {
			reasons = append(reasons, "posting appears earlier in the same plan")
		}
		inPlan[fp] = true

		v := Verdict{Fingerprint: fp, Allowed: len(reasons) == 0, Reasons: reasons}
		if v.Allowed {
			c.add(p.Company, p.RoleFamily)
		} else {
			g.logger.Info("posting blocked by compliance",
				append(logger.PostingFields(fp, p.Company, p.Title),
					zap.String(logger.FieldPlan, plan.ID),
					zap.Strings("reasons", reasons),
				)...,
			)
		}
		report.Verdicts = append(report.Verdicts, v)
	}

	return report, nil
}

// draftReasons blocks an action whose text would go out empty.
func draftReasons(action domain.Action, d domain.Drafts, ok bool) []string {
	switch {
	case !ok:
		return []string{"posting has no drafts"}
	case !d.Usable():
		return []string{"draft generation failed: " + d.Error}
	}

	switch action {
	case domain.ActionSubmitApplication:
		if strings.TrimSpace(d.CVSummary) == "" {
			return []string{"CV summary draft is empty"}
		}
	case domain.ActionSendOutreach:
		if strings.TrimSpace(d.Outreach) == "" {
			return []string{"outreach message draft is empty"}
		}
	}
	return nil
}

func (g *Gate) rateReasons(c *counter, p domain.Posting) []string {
	var reasons []string
	window := g.limits.Window.String()

	if n := c.company[domain.Normalize(p.Company)]; over(n, g.limits.PerCompany) {
		reasons = append(reasons, fmt.Sprintf("company %q reached %d executions in %s", p.Company, n, window))
	}
	if n := c.role[domain.Normalize(p.RoleFamily)]; over(n, g.limits.PerRoleFamily) {
		reasons = append(reasons, fmt.Sprintf("role family %q reached %d executions in %s", p.RoleFamily, n, window))
	}
	if over(c.total, g.limits.Overall) {
		reasons = append(reasons, fmt.Sprintf("overall limit of %d executions in %s reached", g.limits.Overall, window))
	}
	return reasons
}

func over(n, ceiling int) bool {
	return ceiling > 0 && n >= ceiling
}

type counter struct {
	company map[string]int
	role    map[string]int
	total   int
}

func newCounter() *counter {
	return &counter{company: map[string]int{}, role: map[string]int{}}
}

func (c *counter) add(company, roleFamily string) {
	c.company[domain.Normalize(company)]++
	c.role[domain.Normalize(roleFamily)]++
	c.total++
}
