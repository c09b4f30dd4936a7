package macro

import (
	"testing"
	"time"
)

func fixedResolver() *Resolver {
	r := NewResolver()
	r.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	r.intn = func(n int) int { return 0 }
	return r
}

func TestResolve_timeMacros(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	tests := []struct {
		in   string
		want string
	}{
		{"now is {{time}}", "now is 09:26:53"},
		{"today is {{date}}", "today is 2025-03-14"},
		{"at {{datetime}} sharp", "at 2025-03-14 09:26:53 sharp"},
	}
	for _, tt := range tests {
		if got := r.Resolve(tt.in, nil); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve_random(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	if got := r.Resolve("roll {{random:3-9}}", nil); got != "roll 3" {
		t.Fatalf("Resolve random = %q", got)
	}

	// 区间颠倒时交换边界
	if got := r.Resolve("{{random:9-3}}", nil); got != "3" {
		t.Fatalf("Resolve reversed range = %q", got)
	}

	// 非法区间原样保留
	if got := r.Resolve("{{random:abc}}", nil); got != "{{random:abc}}" {
		t.Fatalf("Resolve invalid range = %q", got)
	}
}

func TestResolve_choose(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	if got := r.Resolve("{{choose:red|green|blue}}", nil); got != "red" {
		t.Fatalf("Resolve choose = %q", got)
	}

	r.intn = func(n int) int { return n - 1 }
	if got := r.Resolve("{{choose:red|green| blue }}", nil); got != "blue" {
		t.Fatalf("Resolve choose last = %q", got)
	}
}

func TestResolve_caseTransforms(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	if got := r.Resolve("{{upper:hello}} {{lower:WORLD}}", nil); got != "HELLO world" {
		t.Fatalf("Resolve transforms = %q", got)
	}
}

func TestResolve_variables(t *testing.T) {
	t.Parallel()
	r := fixedResolver()
	vars := Vars{"genre": "science fiction", "tone": "grim"}

	got := r.Resolve("write a {{tone}} {{genre}} story", vars)
	if got != "write a grim science fiction story" {
		t.Fatalf("Resolve vars = %q", got)
	}
}

func TestResolve_unknownMacroKept(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	in := "keep {{unknown_macro}} as is"
	if got := r.Resolve(in, nil); got != in {
		t.Fatalf("Resolve unknown = %q", got)
	}
}

func TestResolve_noRecursiveExpansion(t *testing.T) {
	t.Parallel()
	r := fixedResolver()
	vars := Vars{"a": "{{b}}", "b": "should not appear"}

	// 展开产物不再被二次扫描
	if got := r.Resolve("{{a}}", vars); got != "{{b}}" {
		t.Fatalf("Resolve recursive = %q", got)
	}
}

func TestResolve_unterminatedBrace(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	in := "broken {{time"
	if got := r.Resolve(in, nil); got != in {
		t.Fatalf("Resolve unterminated = %q", got)
	}
}

func TestResolve_plainTextFastPath(t *testing.T) {
	t.Parallel()
	r := fixedResolver()

	in := "no macros here"
	if got := r.Resolve(in, nil); got != in {
		t.Fatalf("Resolve plain = %q", got)
	}
}
