package generator

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePlan(t *testing.T) {
	valid := []Episode{{Title: "Pilot"}, {Title: "Finale"}}

	t.Run("valid plan passes", func(t *testing.T) {
		resp, err := validatePlan(valid, "Podcast")
		if err != nil {
			t.Fatalf("Expected valid plan to pass, got %v", err)
		}
		if len(resp.Episodes) != 2 || resp.SuggestedCategory != "Podcast" {
			t.Errorf("Validated response altered the plan: %+v", resp)
		}
	})

	t.Run("empty episode list rejected", func(t *testing.T) {
		_, err := validatePlan(nil, "Podcast")
		assertShapeFailure(t, err, "no episodes")
	})

	t.Run("empty category rejected", func(t *testing.T) {
		_, err := validatePlan(valid, "")
		assertShapeFailure(t, err, "no suggested category")
	})

	t.Run("untitled episode rejected", func(t *testing.T) {
		_, err := validatePlan([]Episode{{Title: "Pilot"}, {}}, "Podcast")
		assertShapeFailure(t, err, "missing its title")
	})
}

func assertShapeFailure(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Expected a StageError, got %v", err)
	}
	if se.Stage != StageValidating || se.Kind != KindShape {
		t.Errorf("Expected a shape failure in validating, got %s/%s", se.Stage, se.Kind)
	}
	if !strings.Contains(se.Message, wantSubstr) {
		t.Errorf("Expected message containing %q, got %q", wantSubstr, se.Message)
	}
}
