package services

import (
	"fmt"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// ValidationGuard checks vectors, scores, and parameters before they enter
// the scoring pipeline. All failures are validation-kind errors the HTTP
// layer maps to 400 responses; nothing here panics or touches storage.
type ValidationGuard struct{}

func NewValidationGuard() *ValidationGuard {
	return &ValidationGuard{}
}

func (g *ValidationGuard) ValidateVector(v []float64, expectedDim int) error {
	if len(v) == 0 {
		return models.NewValidationError("empty_vector", "vector must not be empty").
			WithContext("expected_dimensions", expectedDim)
	}
	if len(v) != expectedDim {
		return models.NewValidationError("dimension_mismatch",
			fmt.Sprintf("vector has %d dimensions, expected %d", len(v), expectedDim)).
			WithContext("actual_dimensions", len(v)).
			WithContext("expected_dimensions", expectedDim)
	}
	return nil
}

func (g *ValidationGuard) ValidateScore(s, min, max float64) error {
	if s < min || s > max {
		return models.NewValidationError("score_out_of_range",
			fmt.Sprintf("score %.4f outside [%.2f, %.2f]", s, min, max)).
			WithContext("score", s).
			WithContext("min", min).
			WithContext("max", max)
	}
	return nil
}

// ValidateParameter checks an arbitrary named parameter against a predicate.
func (g *ValidationGuard) ValidateParameter(name string, value interface{}, pred func(interface{}) bool) error {
	if !pred(value) {
		return models.NewValidationError("invalid_parameter",
			fmt.Sprintf("parameter %q has invalid value", name)).
			WithContext("parameter", name).
			WithContext("value", value)
	}
	return nil
}

// ValidateRecommendationRequest applies the request-level parameter checks
// the serving path relies on.
func (g *ValidationGuard) ValidateRecommendationRequest(req *models.RecommendationRequest) error {
	if err := g.ValidateParameter("algorithm", req.Algorithm, func(v interface{}) bool {
		s, ok := v.(string)
		return ok && models.ValidAlgorithm(s)
	}); err != nil {
		return err
	}
	if err := g.ValidateParameter("limit", req.Limit, func(v interface{}) bool {
		n, ok := v.(int)
		return ok && n > 0
	}); err != nil {
		return err
	}
	if err := g.ValidateParameter("diversity_boost", req.DiversityBoost, func(v interface{}) bool {
		b, ok := v.(float64)
		return ok && b >= 0 && b <= 1
	}); err != nil {
		return err
	}
	if req.SessionID == "" {
		return models.NewValidationError("missing_session_id", "session id is required")
	}
	return nil
}
