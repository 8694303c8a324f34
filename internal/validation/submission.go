// Package validation checks inbound mining requests before they reach the
// mining manager or the hybrid router.
package validation

import (
	"strconv"
	"strings"

	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

// Validator checks inbound requests against the work registry
type Validator struct {
	minDifficulty int
	maxDifficulty int
}

// NewValidator creates a validator accepting difficulties in [minDiff, maxDiff].
// The bounds are clamped to the registry limits.
func NewValidator(minDiff, maxDiff int) *Validator {
	return &Validator{
		minDifficulty: max(minDiff, work.MinDifficulty),
		maxDifficulty: min(maxDiff, work.MaxDifficulty),
	}
}

// Default accepts the full registry range
func Default() *Validator {
	return NewValidator(work.MinDifficulty, work.MaxDifficulty)
}

// ValidateSubmission accepts only minable work types
func (v *Validator) ValidateSubmission(s *Submission) (WorkItem, error) {
	if s == nil {
		return WorkItem{}, invalid("validate_submission", "request body is required", "body")
	}

	key, err := v.requireWorkType("validate_submission", s.WorkType)
	if err != nil {
		return WorkItem{}, err
	}

	wt, err := work.ParseMinable(key)
	if err != nil {
		return WorkItem{}, errors.Wrap(err, errors.ErrorTypeValidation, "validate_submission",
			"work type cannot be mined").WithContext("field", "workType")
	}

	if err := v.validateDifficulty("validate_submission", s.Difficulty); err != nil {
		return WorkItem{}, err
	}

	return WorkItem{WorkType: wt, Difficulty: s.Difficulty}, nil
}

// ValidateCompute accepts every registered work type, including the
// analysis types the real engine alone implements
func (v *Validator) ValidateCompute(r *ComputeRequest) (WorkItem, error) {
	if r == nil {
		return WorkItem{}, invalid("validate_compute", "request body is required", "body")
	}

	key, err := v.requireWorkType("validate_compute", r.WorkType)
	if err != nil {
		return WorkItem{}, err
	}

	wt, err := work.Parse(key)
	if err != nil {
		return WorkItem{}, errors.Wrap(err, errors.ErrorTypeValidation, "validate_compute",
			"unknown work type").WithContext("field", "workType")
	}

	if err := v.validateDifficulty("validate_compute", r.Difficulty); err != nil {
		return WorkItem{}, err
	}

	return WorkItem{WorkType: wt, Difficulty: r.Difficulty}, nil
}

// ValidateVerify checks that a result carries enough to be recomputed
func (v *Validator) ValidateVerify(r *VerifyRequest) error {
	if r == nil || r.Result == nil {
		return invalid("validate_verify", "result is required", "result")
	}

	if _, err := work.Parse(string(r.Result.WorkType)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_verify",
			"result has an unknown work type").WithContext("field", "result.workType")
	}

	return v.validateDifficulty("validate_verify", r.Result.Difficulty)
}

// ParseLimit parses a list limit query value. Empty yields def; values are
// capped at maxLimit.
func ParseLimit(raw string, def, maxLimit int) (int, error) {
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, invalid("parse_limit", "limit must be a positive integer", "limit").
			WithContext("value", raw)
	}

	return min(n, maxLimit), nil
}

// ParseID parses a positive record id from a path segment
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, invalid("parse_id", "id must be a positive integer", "id").
			WithContext("value", raw)
	}
	return id, nil
}

func (v *Validator) requireWorkType(op, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalid(op, "work type is required", "workType")
	}
	return key, nil
}

func (v *Validator) validateDifficulty(op string, d int) error {
	if d < v.minDifficulty || d > v.maxDifficulty {
		return invalid(op, "difficulty out of range", "difficulty").
			WithContext("difficulty", d).
			WithContext("min", v.minDifficulty).
			WithContext("max", v.maxDifficulty)
	}
	return nil
}

func invalid(op, message, field string) *errors.ServiceError {
	return errors.New(errors.ErrorTypeValidation, op, message).WithContext("field", field)
}
