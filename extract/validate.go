package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Seven valid form designations. Form type matching is substring
// containment against this list, not exact equality.
var validFormTypes = []string{
	"Fannie Mae Form 1004",
	"Fannie Mae Form 2055",
	"Fannie Mae Form 1025",
	"Fannie Mae Form 1073",
	"Fannie Mae Form 1075",
	"Form GP2-4",
	"Form GPLND",
}

var requiredFields = []string{
	"Filename", "Appraisal Form Type", "Subject Property Address",
	"Subject Additional Square Footage", "Document Title",
	"Effective Date of Appraisal", "Appraiser Name", "Borrower Name",
	"Subject Property Value", "As-Is Value", "ARV Value",
	"Sales Comparables", "ARV Comparables", "Land Comparables", "Other Comparables",
}

var comparableFields = []string{
	"Sales Comparables", "ARV Comparables", "Land Comparables", "Other Comparables",
}

// Shape schema for the extraction result. Nulls are allowed everywhere:
// a required field that is present but null still validates, per the
// extraction contract.
const appraisalSchema = `{
  "type": "object",
  "properties": {
    "Filename": {"type": ["string", "null"]},
    "Appraisal Form Type": {"type": ["string", "null"]},
    "Subject Property Address": {"type": ["string", "null"]},
    "Effective Date of Appraisal": {"type": ["string", "null"]},
    "Appraiser Name": {"type": ["string", "null"]},
    "Borrower Name": {"type": ["string", "null"]},
    "Subject Additional Square Footage": {"type": ["string", "number", "null"]},
    "Document Title": {"type": ["string", "null"]},
    "Subject Property Value": {"type": ["number", "string", "null"]},
    "As-Is Value": {"type": ["number", "string", "null"]},
    "ARV Value": {"type": ["number", "string", "null"]},
    "Sales Comparables": {"type": ["array", "null"]},
    "ARV Comparables": {"type": ["array", "null"]},
    "Land Comparables": {"type": ["array", "null"]},
    "Other Comparables": {"type": ["array", "null"]}
  }
}`

// Validator checks extraction results against the appraisal schema.
// Validation is advisory: it accumulates warnings and never mutates or
// rejects the result.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("appraisal.json", strings.NewReader(appraisalSchema)); err != nil {
		return nil, fmt.Errorf("add appraisal schema: %w", err)
	}
	schema, err := compiler.Compile("appraisal.json")
	if err != nil {
		return nil, fmt.Errorf("compile appraisal schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns one warning per defect found: missing required
// fields, type mismatches against the shape schema, an unrecognized form
// type, and malformed or addressless comparables.
func (v *Validator) Validate(fields map[string]any) []string {
	var warnings []string

	for _, field := range requiredFields {
		if _, ok := fields[field]; !ok {
			warnings = append(warnings, "Missing required field: "+field)
		}
	}

	if err := v.schema.Validate(fields); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			warnings = append(warnings, flattenCauses(ve)...)
		} else {
			warnings = append(warnings, "schema validation: "+err.Error())
		}
	}

	if formType, ok := fields["Appraisal Form Type"].(string); ok && formType != "" {
		if !formTypeRecognized(formType) {
			warnings = append(warnings, "Invalid appraisal form type: "+formType)
		}
	}

	for _, compType := range comparableFields {
		comps, ok := fields[compType].([]any)
		if !ok {
			continue
		}
		for i, comp := range comps {
			entry, ok := comp.(map[string]any)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s[%d] is not an object", compType, i))
				continue
			}
			if !hasAddress(entry) {
				warnings = append(warnings, fmt.Sprintf("%s[%d] missing address", compType, i))
			}
		}
	}

	return warnings
}

func formTypeRecognized(formType string) bool {
	for _, valid := range validFormTypes {
		if strings.Contains(formType, valid) {
			return true
		}
	}
	return false
}

func hasAddress(comp map[string]any) bool {
	addr, ok := comp["Comp Address"]
	if !ok || addr == nil {
		return false
	}
	if s, isString := addr.(string); isString {
		return s != ""
	}
	return true
}

// flattenCauses collects the leaf messages of a validation error tree.
func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("schema: %s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}

