// Package profile reads candidate profiles from YAML files.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/scoring"
)

// Load parses the profile file at path. Unknown keys are rejected so that
// typos do not silently drop scoring inputs.
func Load(path string) (domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("reading profile %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (domain.Profile, error) {
	var p domain.Profile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Profile{}, fmt.Errorf("%w: profile is empty", domain.ErrValidation)
		}
		return domain.Profile{}, fmt.Errorf("%w: decoding profile: %v", domain.ErrValidation, err)
	}

	p = Normalize(p)
	if p.Seniority != "" && !scoring.KnownSeniority(p.Seniority) {
		return domain.Profile{}, fmt.Errorf("%w: unknown seniority %q", domain.ErrValidation, p.Seniority)
	}
	return p, nil
}

// Normalize trims every field and drops blank or repeated list entries.
func Normalize(p domain.Profile) domain.Profile {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Headline = strings.TrimSpace(p.Headline)
	p.Summary = strings.TrimSpace(p.Summary)
	p.Seniority = domain.Normalize(p.Seniority)
	p.RoleFamilies = cleanList(p.RoleFamilies)
	p.Geographies = cleanList(p.Geographies)
	p.Skills = cleanList(p.Skills)
	return p
}

func cleanList(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := domain.Normalize(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
