package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFields(t *testing.T) {
	fields := StringFields(
		StringField{Key: "  provider  ", Value: "  Gemini  "},
		StringField{Key: "ignored", Value: "   "},
		StringField{Key: "   ", Value: "empty key"},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}

	if fields[0].Key != "provider" || fields[0].String != "Gemini" {
		t.Fatalf("unexpected provider field: %+v", fields[0])
	}
}

func TestWithFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	enriched := WithFields(logger, zap.String("foo", "bar"))
	enriched.Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if got := entries[0].ContextMap()["foo"]; got != "bar" {
		t.Fatalf("expected field to be bar, got %q", got)
	}

	enriched = WithFields(nil, zap.String("baz", "qux"))
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}

	// Ensure logging with the fallback logger does not panic.
	enriched.Info("another log")
}

func TestPostingFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := WithFields(zap.New(core), PostingFields("abc", "Aurum", "")...)
	logger = WithFields(logger, PlanFields("plan-1", "send_outreach")...)
	logger.Info("executing")

	ctx := observed.All()[0].ContextMap()
	if ctx[FieldFingerprint] != "abc" || ctx[FieldCompany] != "Aurum" {
		t.Fatalf("unexpected posting fields: %v", ctx)
	}
	if _, ok := ctx[FieldTitle]; ok {
		t.Fatalf("expected empty title to be omitted")
	}
	if ctx[FieldPlan] != "plan-1" || ctx[FieldAction] != "send_outreach" {
		t.Fatalf("unexpected plan fields: %v", ctx)
	}
}

func TestWithCommonFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithCommonFields(zap.New(core), "gemini", "model-x").Info("test log")

	ctx := observed.All()[0].ContextMap()
	if ctx[FieldProvider] != "gemini" {
		t.Fatalf("expected provider field to be gemini, got %q", ctx[FieldProvider])
	}
	if ctx[FieldModel] != "model-x" {
		t.Fatalf("expected model field to be model-x, got %q", ctx[FieldModel])
	}

	if WithCommonFields(nil, "gemini", "model-x") == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}
}
