package build

import (
	"strings"
	"testing"
)

func TestPackMediaQueries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no media queries",
			in:   ".a { color: red; }\n",
			want: ".a { color: red; }\n",
		},
		{
			name: "merges identical queries and moves them last",
			in: `.a { color: red; }
@media (max-width: 600px) { .a { color: blue; } }
.b { color: red; }
@media   (max-width:  600px)
{ .b { color: green; } }
`,
			want: `.a { color: red; }

.b { color: red; }
@media (max-width: 600px) {
.a { color: blue; }
.b { color: green; }
}
`,
		},
		{
			name: "keeps first appearance order",
			in: `@media print { .p { display: none; } }
@media screen { .s { color: red; } }
@media print { .q { display: none; } }
`,
			want: `@media print {
.p { display: none; }
.q { display: none; }
}
@media screen {
.s { color: red; }
}
`,
		},
		{
			name: "ignores media text in strings and comments",
			in: `/* @media print { } */
.a::after { content: "@media x {"; }
`,
			want: `/* @media print { } */
.a::after { content: "@media x {"; }
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := packMediaQueries(tt.in); got != tt.want {
				t.Errorf("packMediaQueries() =\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestPackMediaQueries_LeavesNestedMedia(t *testing.T) {
	in := "@supports (display: grid) { @media (min-width: 1px) { .g { display: grid; } } }\n"
	if got := packMediaQueries(in); got != in {
		t.Errorf("nested media moved: %q", got)
	}
}

func TestPackMediaQueries_Unterminated(t *testing.T) {
	in := ".a{}\n@media print { .b { color: red; }"
	if got := packMediaQueries(in); !strings.HasPrefix(got, ".a{}") || !strings.Contains(got, ".b") {
		t.Errorf("unterminated input mangled: %q", got)
	}
}
