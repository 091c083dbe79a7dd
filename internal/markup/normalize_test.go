package markup

import "testing"

func TestNormalizeBlockTags(t *testing.T) {
	got := Normalize("<p>Hello</p><div>World</div><br>End")
	if got != "Hello\nWorld\nEnd" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestNormalizeCases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"uppercase and attributes", `<P class="x">One</P><DIV id=a>Two</DIV>`, "One\nTwo"},
		{"self closing breaks", "a<br/>b<br />c<BR>d", "a\nb\nc\nd"},
		{"inline tags stripped", "<p>Some <strong>bold</strong> and <em>italic</em></p>", "Some bold and italic"},
		{"entities decoded", "<p>Fish &amp; chips &lt;3 &quot;ok&quot;</p>", `Fish & chips <3 "ok"`},
		{"blank runs collapsed", "<p>a</p>\n\n\n<p>b</p>", "a\nb"},
		{"pre is not a paragraph", "<pre>code</pre>", "code"},
		{"script dropped", "<p>x</p><script>alert(1)</script><p>y</p>", "x\ny"},
		{"unbalanced markup", "<p>open <b>never closed<div>next", "open never closed\nnext"},
		{"stray angle bracket", "a < b and c > d", "a < b and c > d"},
		{"headings keep text", "<h1>Title</h1>\n<p>Body</p>", "Title\nBody"},
		{"empty", "", ""},
		{"only markup", "<p></p><div></div><br>", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeTagFreeTextIsOnlyTrimmed(t *testing.T) {
	for _, in := range []string{
		"plain",
		"  padded line \n",
		"line one\nline two\n\tindented",
		"\n\nleading newlines then text",
		"unicode ✓ text ok",
	} {
		want := trimSpace(in)
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\n' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\n' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func TestTextDecodesEntitiesWithoutTags(t *testing.T) {
	if got := Text("a&nbsp;b &copy;"); got != "a\u00a0b \u00a9" {
		t.Fatalf("unexpected text %q", got)
	}
}
