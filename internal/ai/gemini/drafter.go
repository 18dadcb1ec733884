package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Drafter generates drafts with a Gemini model.
type Drafter struct {
	generator contentGenerator
	now       func() time.Time
	logger    *zap.Logger
	maxLogLen int
}

//go:embed prompt.md
var systemPrompt string

const defaultMaxLogLength = 200

func NewDrafter(generator contentGenerator, log *zap.Logger, maxLogLength int) *Drafter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Drafter{
		generator: generator,
		now:       time.Now,
		logger:    logger.WithCommonFields(log, "gemini", generator.Model()),
		maxLogLen: maxLogLength,
	}
}

func (d *Drafter) Name() string { return "gemini" }

func (d *Drafter) Generate(ctx context.Context, p domain.Posting, profile domain.Profile) (domain.Drafts, error) {
	message, err := buildMessage(p, profile)
	if err != nil {
		return domain.Drafts{}, err
	}

	d.logger.Debug("gemini generate content request",
		zap.String(logger.FieldFingerprint, p.Fingerprint),
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, d.maxLogLen)),
	)

	raw, err := d.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		return domain.Drafts{}, err
	}

	d.logger.Debug("gemini generate content response",
		zap.String(logger.FieldFingerprint, p.Fingerprint),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, d.maxLogLen)),
	)

	drafts, err := parseResponse(raw)
	if err != nil {
		return domain.Drafts{}, err
	}
	drafts.Fingerprint = p.Fingerprint
	drafts.Generator = d.Name()
	drafts.CreatedAt = d.now().UTC()
	return drafts, nil
}

func buildMessage(p domain.Posting, profile domain.Profile) (string, error) {
	postingJSON, err := json.MarshalIndent(map[string]any{
		"company":     p.Company,
		"title":       p.Title,
		"geography":   p.Geography,
		"seniority":   p.Seniority,
		"skills":      p.Skills,
		"description": p.Description,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal posting payload: %w", err)
	}

	profileJSON, err := json.MarshalIndent(map[string]any{
		"name":     profile.Name,
		"headline": profile.Headline,
		"summary":  profile.Summary,
		"skills":   profile.Skills,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal profile payload: %w", err)
	}

	return "Candidate profile:\n" + string(profileJSON) + "\n\nPosting:\n" + string(postingJSON), nil
}

func parseResponse(raw string) (domain.Drafts, error) {
	var data struct {
		CVSummary   string `json:"cv_summary"`
		CoverLetter string `json:"cover_letter"`
		Outreach    string `json:"outreach"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return domain.Drafts{}, fmt.Errorf("parse gemini response: %w", err)
	}

	drafts := domain.Drafts{
		CVSummary:   strings.TrimSpace(data.CVSummary),
		CoverLetter: strings.TrimSpace(data.CoverLetter),
		Outreach:    strings.TrimSpace(data.Outreach),
	}
	if drafts.CVSummary == "" && drafts.CoverLetter == "" && drafts.Outreach == "" {
		return domain.Drafts{}, errors.New("gemini response has no drafts")
	}
	return drafts, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
