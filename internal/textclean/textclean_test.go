package textclean

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()
	// "e" + combining acute accent composes to U+00E9.
	if got := Normalize("Poke\u0301mon"); got != "Pok\u00e9mon" {
		t.Fatalf("Normalize=%q, want composed form", got)
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Great film.", want: "Great film."},
		{name: "inline_tags", in: "A <em>great</em> <a href=\"x\">film</a>.", want: "A great film."},
		{name: "entities", in: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{name: "line_breaks", in: "first<br>second<br/>third", want: "first\nsecond\nthird"},
		{name: "paragraphs", in: "<p>one</p><p>two</p>", want: "one\ntwo"},
		{name: "script_dropped", in: "ok<script>alert(1)</script>", want: "ok"},
		{name: "decomposed_accent", in: "<b>Cafe\u0301</b>", want: "Caf\u00e9"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StripHTML(tc.in); got != tc.want {
				t.Fatalf("StripHTML(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
