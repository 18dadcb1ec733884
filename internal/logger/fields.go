package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"

	FieldFingerprint = "fingerprint"
	FieldCompany     = "company"
	FieldTitle       = "title"
	FieldSource      = "source"
	FieldBatch       = "batch_id"
	FieldPlan        = "plan_id"
	FieldAction      = "action"
	FieldRun         = "run_id"
	FieldFollowUp    = "followup_id"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches the provided fields to the logger, falling back to a
// no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CommonFields returns standard zap fields that describe the AI provider and model.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithCommonFields attaches the common AI fields to the provided logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// PostingFields identifies a posting in log entries.
func PostingFields(fingerprint, company, title string) []zap.Field {
	return StringFields(
		StringField{Key: FieldFingerprint, Value: fingerprint},
		StringField{Key: FieldCompany, Value: company},
		StringField{Key: FieldTitle, Value: title},
	)
}

// PlanFields identifies an execution plan and its action.
func PlanFields(planID, action string) []zap.Field {
	return StringFields(
		StringField{Key: FieldPlan, Value: planID},
		StringField{Key: FieldAction, Value: action},
	)
}
