package filtering

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spigell/jobpipe/internal/domain"
)

// ExcludedPostings is the JSON document kept in the exclude file.
type ExcludedPostings struct {
	Items []*ExcludedPosting
}

type ExcludedPosting struct {
	Fingerprint string
	Company     string
	Title       string
	URL         string
	ExcludedAt  time.Time
}

// ToExcluded converts postings into exclude file entries.
func ToExcluded(postings []domain.Posting, at time.Time) *ExcludedPostings {
	excluded := &ExcludedPostings{}
	for _, p := range postings {
		excluded.Items = append(excluded.Items, &ExcludedPosting{
			Fingerprint: p.Fingerprint,
			Company:     p.Company,
			Title:       p.Title,
			URL:         p.ApplyURL,
			ExcludedAt:  at.UTC(),
		})
	}
	return excluded
}

// ReadExcludeFile loads the exclude file. A missing or empty file yields an
// empty list.
func ReadExcludeFile(path string) (*ExcludedPostings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ExcludedPostings{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &ExcludedPostings{}, nil
	}

	var excluded ExcludedPostings
	if err := json.Unmarshal(data, &excluded); err != nil {
		return nil, fmt.Errorf("decoding exclude file %q: %w", path, err)
	}
	return &excluded, nil
}

// Append adds entries whose fingerprint is not listed yet.
func (e *ExcludedPostings) Append(other *ExcludedPostings) {
	seen := make(map[string]bool, len(e.Items))
	for _, item := range e.Items {
		seen[item.Fingerprint] = true
	}
	for _, item := range other.Items {
		if seen[item.Fingerprint] {
			continue
		}
		seen[item.Fingerprint] = true
		e.Items = append(e.Items, item)
	}
}

func (e *ExcludedPostings) Fingerprints() map[string]bool {
	fps := make(map[string]bool, len(e.Items))
	for _, item := range e.Items {
		fps[item.Fingerprint] = true
	}
	return fps
}

// ToFile writes the list through a temporary file and a rename, so readers
// never see a partial document.
func (e *ExcludedPostings) ToFile(path string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
