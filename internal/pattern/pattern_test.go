package pattern

import (
	"testing"
)

func TestCompile_Matching(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"literal substring", "viagra", "buy viagra now", true},
		{"literal no match", "viagra", "buy flowers now", false},
		{"anchored start", "^buy", "buy viagra", true},
		{"anchored start no match", "^buy", "please buy", false},
		{"anchored end", "spam$", "this is spam", true},
		{"anchored end no match", "spam$", "spam inside", false},
		{"both anchors", "^abc$", "abc", true},
		{"both anchors longer input", "^abc$", "abcd", false},
		{"digit class", "%d%d%d", "order 123 now", true},
		{"digit class no match", "%d%d%d", "order 12 now", false},
		{"alpha class", "%a+", "123 abc", true},
		{"space class", "buy%sviagra", "buy viagra", true},
		{"word class plus", "%w+@%w+", "mail me at bob@example", true},
		{"star quantifier", "ab*c", "ac", true},
		{"plus quantifier", "ab+c", "ac", false},
		{"optional quantifier", "https?", "http", true},
		{"bracket class", "[aeiou]+", "rhythm", false},
		{"bracket class match", "[aeiou]+", "beat", true},
		{"negated bracket class", "[^0-9]+", "12345", false},
		{"bracket with range", "[a-f0-9]+", "deadbeef", true},
		{"bracket with percent class", "[%d%s]+", "4 2", true},
		{"escaped dot", "example%.com", "example.com", true},
		{"escaped dot literal", "example%.com", "exampleXcom", false},
		{"escaped plus", "c%+%+", "I know c++", true},
		{"escaped parens", "%(test%)", "a (test) b", true},
		{"escaped percent", "100%%", "gains of 100%", true},
		{"dot wildcard", "a.c", "abc", true},
		{"regexp meta is literal", "a{2}", "a{2}", true},
		{"pipe is literal", "a|b", "a|b", true},
		{"backslash is literal", `a\d`, `a\d`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			if err != nil {
				t.Fatalf("Compile(%q) failed: %v", tt.pattern, err)
			}
			if got := p.Match(tt.input); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"trailing percent", "abc%"},
		{"unknown escape", "%z"},
		{"unterminated class", "[abc"},
		{"trailing percent in class", "[%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.pattern); err == nil {
				t.Errorf("Compile(%q) succeeded, want error", tt.pattern)
			}
		})
	}
}

func TestCache_CachesFailures(t *testing.T) {
	c, err := NewCache(16)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	if _, err := c.Get("%z"); err == nil {
		t.Fatal("expected compile error")
	}
	// Second lookup hits the cached failure.
	if _, err := c.Get("%z"); err == nil {
		t.Fatal("expected cached compile error")
	}

	p1, err := c.Get("%d+")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p2, err := c.Get("%d+")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p1 != p2 {
		t.Error("expected cached pattern instance")
	}
}
