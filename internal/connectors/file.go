package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
)

type FileOptions struct {
	Path string `mapstructure:"path"`
}

// File reads postings from a YAML export, for example one saved from a job
// board by hand. Descriptions may contain HTML; it is reduced to text.
type File struct {
	name   string
	path   string
	now    func() time.Time
	logger *zap.Logger
}

func NewFile(name string, opts FileOptions, now func() time.Time, log *zap.Logger) (*File, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: file source %s needs a path", domain.ErrValidation, name)
	}
	return &File{name: name, path: path, now: now, logger: logger.WithFields(log, zap.String(logger.FieldSource, name))}, nil
}

func (f *File) Name() string { return f.name }

func (f *File) Discover(ctx context.Context) ([]domain.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	var doc struct {
		Postings []domain.RawPosting `yaml:"postings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}

	at := f.now().UTC()
	out := make([]domain.RawPosting, 0, len(doc.Postings))
	for i, p := range doc.Postings {
		if strings.TrimSpace(p.Company) == "" || strings.TrimSpace(p.Title) == "" {
			f.logger.Warn("skipping posting without company or title", zap.Int("index", i))
			continue
		}

		p.Source = f.name
		if p.DiscoveredAt.IsZero() {
			p.DiscoveredAt = at
		}
		if looksLikeHTML(p.Description) {
			text, err := htmlToText(p.Description)
			if err != nil {
				f.logger.Warn("failed to parse description html", zap.Int("index", i), zap.Error(err))
			} else {
				p.Description = text
			}
		}
		out = append(out, p)
	}

	f.logger.Debug("postings loaded from file", zap.String("path", f.path), zap.Int("count", len(out)))
	return out, nil
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, ">")
}

func htmlToText(s string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Remove()

	var parts []string
	doc.Find("p, li, h1, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		if text := cleanText(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		text := cleanText(doc.Text())
		if text == "" {
			return "", errors.New("no text in html")
		}
		return text, nil
	}
	return strings.Join(parts, "\n"), nil
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
