package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONBValueAndScan(t *testing.T) {
	original := JSONB{"urgencyScore": 80, "concerns": []string{"acne"}}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	data, ok := value.([]byte)
	if !ok {
		t.Fatalf("expected []byte value, got %T", value)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal value error: %v", err)
	}

	if decoded["urgencyScore"] != float64(80) {
		t.Fatalf("expected urgencyScore 80, got %v", decoded["urgencyScore"])
	}

	var scanned JSONB
	if err := scanned.Scan(data); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	if scanned["urgencyScore"] != float64(80) {
		t.Fatalf("expected scanned urgencyScore 80, got %v", scanned["urgencyScore"])
	}
}

func TestJSONBGormDataType(t *testing.T) {
	value := JSONB{"ok": true}
	if value.GormDataType() != "jsonb" {
		t.Fatalf("expected jsonb data type, got %q", value.GormDataType())
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	ordered := []TaskPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Fatalf("expected %s to outrank %s", ordered[i], ordered[i-1])
		}
	}
}

func TestTreatmentPlanTotal(t *testing.T) {
	state := &WorkflowState{}
	if total := state.TreatmentPlanTotal(); total != 0 {
		t.Fatalf("expected zero total without a plan, got %v", total)
	}

	state.TreatmentPlan = JSONB{"totalAmount": float64(15000)}
	if total := state.TreatmentPlanTotal(); total != 15000 {
		t.Fatalf("expected total 15000, got %v", total)
	}
}

func TestIsCallerError(t *testing.T) {
	cases := []struct {
		err    error
		caller bool
	}{
		{&ValidationError{Field: "customerId", Reason: "empty"}, true},
		{&NotFoundError{Kind: "workflow", ID: "w1"}, true},
		{&InvalidTransitionError{Stage: StageLeadCreated, Action: ActionConfirmPayment}, true},
		{&PreconditionError{Action: ActionConfirmPayment, Reason: "no plan"}, true},
		{&ForbiddenError{Action: ActionStartTreatment}, true},
		{&ConcurrentModificationError{WorkflowID: "w1"}, false},
		{&PersistenceError{Op: "create", Err: errors.New("down")}, false},
	}

	for _, tc := range cases {
		if got := IsCallerError(tc.err); got != tc.caller {
			t.Fatalf("IsCallerError(%T) = %v, want %v", tc.err, got, tc.caller)
		}
	}
}

func TestHasRole(t *testing.T) {
	roles := []StaffRole{RoleSalesStaff}
	if !HasRole(roles, nil) {
		t.Fatal("empty required set should allow everyone")
	}
	if !HasRole(roles, []StaffRole{RoleSalesStaff, RoleClinicOwner}) {
		t.Fatal("expected sales_staff to match")
	}
	if HasRole(roles, []StaffRole{RoleBeautician}) {
		t.Fatal("sales_staff must not match beautician-only set")
	}
}
