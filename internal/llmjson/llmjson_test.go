package llmjson

import (
	"errors"
	"testing"
)

type verdict struct {
	NeedsCheck bool   `json:"needs_check"`
	Reasoning  string `json:"reasoning"`
}

func TestDecode_PlainObject(t *testing.T) {
	t.Parallel()

	v, err := Decode[verdict](`{"needs_check": true, "reasoning": "climbing is risky"}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !v.NeedsCheck || v.Reasoning != "climbing is risky" {
		t.Errorf("Decode = %+v, want needs_check=true", v)
	}
}

func TestDecode_FencedWithProse(t *testing.T) {
	t.Parallel()

	content := "Sure! Here is the verdict you asked for:\n```json\n{\"needs_check\": false, \"reasoning\": \"trivial\"}\n```\nLet me know if you need anything else."
	v, err := Decode[verdict](content)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.NeedsCheck {
		t.Errorf("Decode = %+v, want needs_check=false", v)
	}
}

func TestDecode_BracesInsideStrings(t *testing.T) {
	t.Parallel()

	content := `{"needs_check": true, "reasoning": "the sigil {x} blocks \"entry}\" here"}`
	v, err := Decode[verdict](content)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Reasoning != `the sigil {x} blocks "entry}" here` {
		t.Errorf("reasoning = %q", v.Reasoning)
	}
}

func TestDecode_TrailingCommaRepaired(t *testing.T) {
	t.Parallel()

	v, err := Decode[verdict]("{\"needs_check\": true, \"reasoning\": \"ok\",\n}")
	if err != nil {
		t.Fatalf("Decode should repair trailing comma: %v", err)
	}
	if !v.NeedsCheck {
		t.Errorf("Decode = %+v", v)
	}
}

func TestDecode_NoJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode[verdict]("The old guard eyes you warily and says nothing.")
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("err = %v, want ErrNoJSON", err)
	}
}

func TestDecode_Unterminated(t *testing.T) {
	t.Parallel()

	_, err := Decode[verdict](`{"needs_check": true, "reasoning": "cut off`)
	if err == nil {
		t.Fatal("truncated object decoded without error")
	}
	if errors.Is(err, ErrNoJSON) {
		t.Fatal("truncated object should not report ErrNoJSON")
	}
}

func TestExtractObject_FirstTopLevelOnly(t *testing.T) {
	t.Parallel()

	raw, err := ExtractObject(`noise {"a": {"b": 1}} {"c": 2}`)
	if err != nil {
		t.Fatalf("ExtractObject: %v", err)
	}
	if raw != `{"a": {"b": 1}}` {
		t.Errorf("ExtractObject = %q, want first object only", raw)
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"{}", "{}"},
		{"  {}  ", "{}"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
