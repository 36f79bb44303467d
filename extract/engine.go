package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNotObject marks a model response that is valid JSON but not a
// single JSON object (an array, a scalar). Such responses are rejected
// outright instead of guessing at a brace-bounded substring.
var ErrNotObject = errors.New("response is valid JSON but not a single object")

var errNoObject = errors.New("no JSON object found in response")

// Completer is the structured-extraction collaborator: one completion
// string per request, no streaming.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Engine turns document text into a validated appraisal record.
type Engine struct {
	completer Completer
	validator *Validator
	logger    *zap.Logger
}

func NewEngine(completer Completer, validator *Validator, logger *zap.Logger) *Engine {
	return &Engine{completer: completer, validator: validator, logger: logger}
}

// ExtractStructured sends the document text with the fixed extraction
// rules to the model and parses the response. Parsing failures are
// carried in the result, never raised; validation warnings are logged
// and never block the result.
func (e *Engine) ExtractStructured(ctx context.Context, text, filename string) *Result {
	e.logger.Info("running structured extraction", zap.String("filename", filename))

	user := fmt.Sprintf("%s\n\nDocument filename: %s\n\nDocument text:\n%s", extractionPrompt, filename, text)
	raw, err := e.completer.Complete(ctx, systemPrompt, user)
	if err != nil {
		return &Result{Err: fmt.Sprintf("completion failed: %v", err)}
	}

	fields, err := parseCompletion(raw)
	if err != nil {
		return &Result{
			Raw: raw,
			Err: fmt.Sprintf("could not parse model response as JSON object: %v", err),
		}
	}

	fields["Filename"] = filename

	warnings := e.validator.Validate(fields)
	for _, w := range warnings {
		e.logger.Warn("validation warning",
			zap.String("filename", filename),
			zap.String("warning", w))
	}

	return &Result{
		Fields:    fields,
		Appraisal: decodeTyped(fields),
		Warnings:  warnings,
	}
}

// parseCompletion has two tiers: a direct parse of the trimmed response,
// then a recovery pass over the substring between the first '{' and the
// last '}'. A response that already parses as JSON but is not an object
// fails with ErrNotObject without attempting recovery.
func parseCompletion(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)

	var direct any
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		obj, ok := direct.(map[string]any)
		if !ok {
			return nil, ErrNotObject
		}
		return obj, nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, errNoObject
	}

	var recovered map[string]any
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &recovered); err != nil {
		return nil, fmt.Errorf("recovery parse: %w", err)
	}
	return recovered, nil
}
