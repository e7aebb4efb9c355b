package generator

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validatePlan runs the assembled result through the structural schema gate.
// On failure the run aborts and the pipeline resets; the caller must
// regenerate from scratch.
func validatePlan(episodes []Episode, suggestedCategory string) (*PlanResponse, error) {
	resp := &PlanResponse{
		Episodes:          episodes,
		SuggestedCategory: suggestedCategory,
	}

	if err := validate.Struct(resp); err != nil {
		return nil, &StageError{
			Stage:   StageValidating,
			Kind:    KindShape,
			Message: describeValidationError(err),
			Err:     err,
		}
	}

	return resp, nil
}

func describeValidationError(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return fmt.Sprintf("generated plan failed validation: %v", err)
	}

	fe := errs[0]
	switch {
	case fe.Field() == "Episodes":
		return "generated plan contains no episodes"
	case fe.Field() == "SuggestedCategory":
		return "generated plan has no suggested category"
	case fe.Field() == "Title":
		return "a generated episode is missing its title"
	}
	return fmt.Sprintf("generated plan failed validation on %s", fe.Namespace())
}
