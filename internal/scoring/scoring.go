// Package scoring ranks postings against a candidate profile.
//
// The score is a weighted average of five factors evaluated in a fixed
// order: role_family, geography, seniority, compensation, skills. Each factor
// yields a match in [0, 1]; the score is 100 * sum(weight*match) / sum(weight),
// clamped to [0, 100] and rounded to two decimals. The rationale lists one
// line per factor in the same order.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/spigell/jobpipe/internal/domain"
)

const (
	FactorRoleFamily   = "role_family"
	FactorGeography    = "geography"
	FactorSeniority    = "seniority"
	FactorCompensation = "compensation"
	FactorSkills       = "skills"
)

// Weights sets the relative importance of each factor.
type Weights struct {
	RoleFamily   float64 `mapstructure:"role-family"`
	Geography    float64 `mapstructure:"geography"`
	Seniority    float64 `mapstructure:"seniority"`
	Compensation float64 `mapstructure:"compensation"`
	Skills       float64 `mapstructure:"skills"`
}

func DefaultWeights() Weights {
	return Weights{RoleFamily: 30, Geography: 20, Seniority: 20, Compensation: 15, Skills: 15}
}

func (w Weights) total() float64 {
	return w.RoleFamily + w.Geography + w.Seniority + w.Compensation + w.Skills
}

// Validate rejects negative weights and an all-zero set.
func (w Weights) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{FactorRoleFamily, w.RoleFamily},
		{FactorGeography, w.Geography},
		{FactorSeniority, w.Seniority},
		{FactorCompensation, w.Compensation},
		{FactorSkills, w.Skills},
	} {
		if f.value < 0 || math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("weight %s must be a non-negative number, got %v", f.name, f.value)
		}
	}
	if w.total() <= 0 {
		return errors.New("at least one weight must be positive")
	}
	return nil
}

// Factor is one evaluated scoring factor.
type Factor struct {
	Name   string
	Weight float64
	Match  float64
	Detail string
}

func (f Factor) String() string {
	return fmt.Sprintf("%s (weight %g, match %.2f): %s", f.Name, f.Weight, f.Match, f.Detail)
}

// Result is the outcome of scoring one posting.
type Result struct {
	Score     float64
	Factors   []Factor
	Rationale []string
}

// Scorer is stateless apart from its weights and safe for concurrent use.
type Scorer struct {
	weights Weights
}

func New(weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return &Scorer{weights: weights}, nil
}

func (s *Scorer) Weights() Weights { return s.weights }

// Score evaluates p against profile. It fails with
// *domain.ProfileIncompleteError when required profile fields are empty and
// with domain.ErrValidation when the profile seniority is off the ladder.
func (s *Scorer) Score(p domain.Posting, profile domain.Profile) (Result, error) {
	if missing := profile.Missing(); len(missing) > 0 {
		return Result{}, &domain.ProfileIncompleteError{Missing: missing}
	}
	if !KnownSeniority(profile.Seniority) {
		return Result{}, fmt.Errorf("%w: profile seniority %q is not one of %s",
			domain.ErrValidation, profile.Seniority, strings.Join(seniorityLadder, ", "))
	}

	factors := []Factor{
		roleFamilyFactor(s.weights.RoleFamily, p, profile),
		geographyFactor(s.weights.Geography, p, profile),
		seniorityFactor(s.weights.Seniority, p, profile),
		compensationFactor(s.weights.Compensation, p, profile),
		skillsFactor(s.weights.Skills, p, profile),
	}

	var sum float64
	rationale := make([]string, 0, len(factors))
	for _, f := range factors {
		sum += f.Weight * f.Match
		rationale = append(rationale, f.String())
	}

	score := 100 * sum / s.weights.total()
	score = math.Max(0, math.Min(100, score))
	score = math.Round(score*100) / 100

	return Result{Score: score, Factors: factors, Rationale: rationale}, nil
}

func roleFamilyFactor(weight float64, p domain.Posting, profile domain.Profile) Factor {
	f := Factor{Name: FactorRoleFamily, Weight: weight}
	family := domain.Normalize(p.RoleFamily)
	title := domain.Normalize(p.Title)

	for _, want := range profile.RoleFamilies {
		if family != "" && family == domain.Normalize(want) {
			f.Match, f.Detail = 1, fmt.Sprintf("role family %q is targeted", p.RoleFamily)
			return f
		}
	}
	for _, want := range profile.RoleFamilies {
		if w := domain.Normalize(want); w != "" && strings.Contains(title, w) {
			f.Match, f.Detail = 0.5, fmt.Sprintf("title mentions targeted role family %q", want)
			return f
		}
	}

	f.Detail = fmt.Sprintf("role family %q is not targeted", p.RoleFamily)
	return f
}

func geographyFactor(weight float64, p domain.Posting, profile domain.Profile) Factor {
	f := Factor{Name: FactorGeography, Weight: weight}
	geo := placeTokens(p.Geography)

	for _, want := range profile.Geographies {
		if containsTokens(geo, placeTokens(want)) {
			f.Match, f.Detail = 1, fmt.Sprintf("geography %q matches %q", p.Geography, want)
			return f
		}
	}

	if isRemote(p) {
		if profile.AcceptRemote {
			f.Match, f.Detail = 0.8, "remote posting and remote work accepted"
			return f
		}
		f.Detail = "remote posting but remote work not accepted"
		return f
	}

	f.Detail = fmt.Sprintf("geography %q is not targeted", p.Geography)
	return f
}

// placeTokens splits a place name into lower-case words, dropping
// punctuation: "London, UK" becomes [london uk].
func placeTokens(s string) []string {
	return strings.FieldsFunc(domain.Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsTokens reports whether want occurs in have as a run of whole
// words. "UK" does not match "Ukraine".
func containsTokens(have, want []string) bool {
	if len(want) == 0 || len(want) > len(have) {
		return false
	}
	for i := 0; i+len(want) <= len(have); i++ {
		if slices.Equal(have[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

func isRemote(p domain.Posting) bool {
	return p.Remote || strings.Contains(domain.Normalize(p.Geography), "remote")
}

// seniorityLadder is ordered from the most junior level.
var seniorityLadder = []string{"intern", "junior", "mid", "senior", "staff", "principal"}

var seniorityAliases = map[string]string{
	"internship":   "intern",
	"entry":        "junior",
	"graduate":     "junior",
	"associate":    "junior",
	"middle":       "mid",
	"intermediate": "mid",
	"sr":           "senior",
	"lead":         "senior",
}

// KnownSeniority reports whether s is a ladder level or one of its aliases.
func KnownSeniority(s string) bool {
	return seniorityLevel(s) >= 0
}

func seniorityLevel(s string) int {
	s = domain.Normalize(s)
	if alias, ok := seniorityAliases[s]; ok {
		s = alias
	}
	for i, level := range seniorityLadder {
		if s == level {
			return i
		}
	}
	return -1
}

// inferSeniority looks for a ladder level or an alias among the title words.
func inferSeniority(title string) int {
	for _, word := range strings.FieldsFunc(domain.Normalize(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if level := seniorityLevel(word); level >= 0 {
			return level
		}
	}
	return -1
}

func seniorityFactor(weight float64, p domain.Posting, profile domain.Profile) Factor {
	f := Factor{Name: FactorSeniority, Weight: weight}

	want := seniorityLevel(profile.Seniority)
	got := seniorityLevel(p.Seniority)
	if got < 0 {
		got = inferSeniority(p.Title)
	}

	switch {
	case want < 0:
		f.Detail = fmt.Sprintf("profile seniority %q is not on the ladder", profile.Seniority)
	case got < 0:
		f.Detail = "posting seniority not stated"
	case got == want:
		f.Match, f.Detail = 1, fmt.Sprintf("seniority %s matches", seniorityLadder[got])
	case got == want-1 || got == want+1:
		f.Match, f.Detail = 0.5, fmt.Sprintf("seniority %s is adjacent to %s", seniorityLadder[got], seniorityLadder[want])
	default:
		f.Detail = fmt.Sprintf("seniority %s is far from %s", seniorityLadder[got], seniorityLadder[want])
	}
	return f
}

func compensationFactor(weight float64, p domain.Posting, profile domain.Profile) Factor {
	f := Factor{Name: FactorCompensation, Weight: weight}
	top := max(p.CompensationMin, p.CompensationMax)

	switch {
	case profile.MinCompensation <= 0:
		f.Match, f.Detail = 1, "no compensation floor set"
	case top <= 0:
		f.Detail = "compensation undisclosed"
	case top >= profile.MinCompensation:
		f.Match, f.Detail = 1, fmt.Sprintf("compensation up to %d meets floor %d", top, profile.MinCompensation)
	default:
		f.Match = float64(top) / float64(profile.MinCompensation)
		f.Detail = fmt.Sprintf("compensation up to %d is below floor %d", top, profile.MinCompensation)
	}
	return f
}

func skillsFactor(weight float64, p domain.Posting, profile domain.Profile) Factor {
	f := Factor{Name: FactorSkills, Weight: weight}

	have := make(map[string]bool, len(profile.Skills))
	for _, s := range profile.Skills {
		have[domain.Normalize(s)] = true
	}

	required := make(map[string]bool, len(p.Skills))
	var matched []string
	for _, s := range p.Skills {
		key := domain.Normalize(s)
		if key == "" || required[key] {
			continue
		}
		required[key] = true
		if have[key] {
			matched = append(matched, key)
		}
	}

	if len(required) == 0 {
		f.Match, f.Detail = 0.5, "posting lists no skills"
		return f
	}

	f.Match = float64(len(matched)) / float64(len(required))
	f.Detail = fmt.Sprintf("%d of %d required skills matched", len(matched), len(required))
	if len(matched) > 0 {
		f.Detail += ": " + strings.Join(matched, ", ")
	}
	return f
}
