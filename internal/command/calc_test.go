package command

import (
	"context"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2+3", 5},
		{"2 + 3 * 4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"-3+1", -2},
		{"1.5*2", 3},
		{"08+1", 9},
		{"010+0", 10},
		{"(09)*2", 18},
		{"007.5+1", 8.5},
		{"0.5+0", 0.5},
		{"100-0", 100},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr)
		if err != nil {
			t.Errorf("Evaluate(%q) unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"", "1/0", "2+", "(1", "1 2"} {
		if _, err := Evaluate(expr); err == nil {
			t.Errorf("Evaluate(%q) expected error", expr)
		}
	}
}

func TestTrimLeadingZeros(t *testing.T) {
	tests := map[string]string{
		"08+1":     "8+1",
		"000":      "0",
		"1.05":     "1.05",
		"100*0.07": "100*0.07",
		"(007.5)":  "(7.5)",
		"08 + 09":  "8 + 9",
	}
	for in, want := range tests {
		if got := trimLeadingZeros(in); got != want {
			t.Errorf("trimLeadingZeros(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeExpression(t *testing.T) {
	if got := SanitizeExpression("2+3; os.Exit(1)"); got != "2+3 .(1)" {
		t.Errorf("unexpected sanitized expression %q", got)
	}
}

func TestCalcCommand(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	ctx := context.Background()

	res := r.Execute(ctx, "/calc 2 + 3 * 4", testMsg(""))
	if !res.Success || res.Content != "Calculation: 2+3*4 = 14" {
		t.Errorf("unexpected result: %+v", res)
	}

	res = r.Execute(ctx, "/calc 08 + 1", testMsg(""))
	if !res.Success || res.Content != "Calculation: 08+1 = 9" {
		t.Errorf("leading zero: unexpected result: %+v", res)
	}

	res = r.Execute(ctx, "/calc 1/0", testMsg(""))
	if !res.Success {
		t.Error("calculation errors are reported as content, not failure")
	}
	if res.Content != "Error in calculation: division by zero" {
		t.Errorf("unexpected content: %q", res.Content)
	}
}
