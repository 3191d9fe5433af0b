package crypto

import "testing"

func TestGenerateJoinCodeValid(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := GenerateJoinCode()
		if err != nil {
			t.Fatalf("GenerateJoinCode: %v", err)
		}
		if !ValidateJoinCode(code) {
			t.Fatalf("generated code %q failed validation", code)
		}
		if code[3] != '-' {
			t.Fatalf("generated code %q not formatted XXX-XXX", code)
		}
	}
}

func TestNormalizeJoinCode(t *testing.T) {
	cases := map[string]string{
		"abc-xyz":        "ABCXYZ",
		"ABC XYZ":        "ABCXYZ",
		"  a-b-c-x-y-z ": "ABCXYZ",
	}
	for in, want := range cases {
		if got := NormalizeJoinCode(in); got != want {
			t.Errorf("NormalizeJoinCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateJoinCode(t *testing.T) {
	valid := []string{"ABC-DEF", "234567", "XY2-3ZW"}
	for _, c := range valid {
		if !ValidateJoinCode(c) {
			t.Errorf("ValidateJoinCode(%q) = false, want true", c)
		}
	}

	invalid := []string{
		"ABC-DE",   // too short
		"ABC-DEFG", // too long
		"ABC-12O",  // ambiguous O
		"ABC-1EF",  // ambiguous 1
		"ABC-0EF",  // ambiguous 0
	}
	for _, c := range invalid {
		if ValidateJoinCode(c) {
			t.Errorf("ValidateJoinCode(%q) = true, want false", c)
		}
	}
}
