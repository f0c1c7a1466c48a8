package markup

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func plain(text string) []Span {
	return []Span{{Kind: SpanPlain, Text: text}}
}

func TestCompileEndToEnd(t *testing.T) {
	input := "[[BLUE::Hello]]\n\nPlain line one\n普通行二\n[[DIVIDER]]\n0000.2Void>>\nsome secret\n【插入结束】\n[[IMAGE::http://x/img.png::My Caption]]"

	want := []Block{
		ColoredLine{Text: "Hello", Color: ColorBlue, Spans: plain("Hello")},
		Paragraph{Text: "Plain line one普通行二", Style: StyleDefault, Spans: plain("Plain line one普通行二")},
		Divider{},
		VoidLog{RawLines: []string{"0000.2Void>>", "some secret", "【插入结束】"}},
		Image{Src: "http://x/img.png", Caption: "My Caption"},
	}

	got := Compile(input, Flags{})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compile() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileLineDirectives(t *testing.T) {
	tests := []struct {
		name  string
		input string
		flags Flags
		want  []Block
	}{
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "blank lines only",
			input: "\n   \n\t\n",
			want:  nil,
		},
		{
			name:  "blank line splits paragraphs",
			input: "first\n   \nsecond",
			want: []Block{
				Paragraph{Text: "first", Style: StyleDefault, Spans: plain("first")},
				Paragraph{Text: "second", Style: StyleDefault, Spans: plain("second")},
			},
		},
		{
			name:  "prose lines are trimmed and joined",
			input: "  hello  \n\tworld",
			want: []Block{
				Paragraph{Text: "hello world", Style: StyleDefault, Spans: plain("hello world")},
			},
		},
		{
			name:  "leading byte order mark",
			input: "\ufeff[[DIVIDER]]\nbody",
			want: []Block{
				Divider{},
				Paragraph{Text: "body", Style: StyleDefault, Spans: plain("body")},
			},
		},
		{
			name:  "byte order mark line splits paragraphs",
			input: "a\n\ufeff\nb",
			want: []Block{
				Paragraph{Text: "a", Style: StyleDefault, Spans: plain("a")},
				Paragraph{Text: "b", Style: StyleDefault, Spans: plain("b")},
			},
		},
		{
			name:  "crlf input",
			input: "a\r\nb\r\n",
			want: []Block{
				Paragraph{Text: "a b", Style: StyleDefault, Spans: plain("a b")},
			},
		},
		{
			name:  "green and danger lines",
			input: "[[GREEN::ok]]\n  [[DANGER::[[MASK::m]] run]]  ",
			want: []Block{
				ColoredLine{Text: "ok", Color: ColorGreen, Spans: plain("ok")},
				ColoredLine{Text: "[[MASK::m]] run", Color: ColorDanger, Spans: []Span{
					{Kind: SpanMask, Text: "m"},
					{Kind: SpanPlain, Text: " run"},
				}},
			},
		},
		{
			name:  "blue line captures through last brackets",
			input: "[[BLUE::a]] [[GREEN::b]]",
			want: []Block{
				ColoredLine{Text: "a]] [[GREEN::b", Color: ColorBlue, Spans: plain("a]] [[GREEN::b")},
			},
		},
		{
			name:  "colored line flushes paragraph",
			input: "before\n[[BLUE::mid]]\nafter",
			want: []Block{
				Paragraph{Text: "before", Style: StyleDefault, Spans: plain("before")},
				ColoredLine{Text: "mid", Color: ColorBlue, Spans: plain("mid")},
				Paragraph{Text: "after", Style: StyleDefault, Spans: plain("after")},
			},
		},
		{
			name:  "retinal vision",
			input: "[[VOID_VISION::I see you]]\n[[VOID_VISION::██ ███]]",
			want: []Block{
				RetinalVision{Content: "I see you", Redacted: false},
				RetinalVision{Content: "██ ███", Redacted: true},
			},
		},
		{
			name:  "divider must be exact",
			input: "[[DIVIDER]]\n[[DIVIDER]] extra",
			want: []Block{
				Divider{},
				Paragraph{Text: "[[DIVIDER]] extra", Style: StyleDefault, Spans: plain("[[DIVIDER]] extra")},
			},
		},
		{
			name:  "image caption keeps double colons",
			input: "[[IMAGE::a.png::x::y]]",
			want:  []Block{Image{Src: "a.png", Caption: "x::y"}},
		},
		{
			name:  "image without caption",
			input: "[[IMAGE::a.png]]",
			want:  []Block{Image{Src: "a.png", Caption: ""}},
		},
		{
			name:  "inline-only line is prose",
			input: "[[VOID::whisper]]",
			want: []Block{
				Paragraph{Text: "[[VOID::whisper]]", Style: StyleDefault, Spans: []Span{{Kind: SpanVoid, Text: "whisper"}}},
			},
		},
		{
			name:  "unknown directive is prose",
			input: "[[SHOUT::hey]]",
			want: []Block{
				Paragraph{Text: "[[SHOUT::hey]]", Style: StyleDefault, Spans: plain("[[SHOUT::hey]]")},
			},
		},
		{
			name:  "speaker prefix wrapped across lines",
			input: "芷\n漓：你好",
			want: []Block{
				Paragraph{Text: "芷漓：你好", Style: StyleSpeakerZeri, Spans: plain("芷漓：你好")},
			},
		},
		{
			name:  "diary flag outranks speaker",
			input: "芷漓：你好",
			flags: Flags{Diary: true},
			want: []Block{
				Paragraph{Text: "芷漓：你好", Style: StyleDiaryFuchsia, Spans: plain("芷漓：你好")},
			},
		},
		{
			name:  "flags do not touch colored lines",
			input: "[[BLUE::x]]",
			flags: Flags{Legacy: true},
			want:  []Block{ColoredLine{Text: "x", Color: ColorBlue, Spans: plain("x")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compile(tt.input, tt.flags)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Compile(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestCompileVoidBlocks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Block
	}{
		{
			name:  "single-line void block",
			input: "before\n0000.2Void>> hi [INSERTION_END]\nafter",
			want: []Block{
				Paragraph{Text: "before", Style: StyleDefault, Spans: plain("before")},
				VoidLog{RawLines: []string{"0000.2Void>> hi [INSERTION_END]"}},
				Paragraph{Text: "after", Style: StyleDefault, Spans: plain("after")},
			},
		},
		{
			name:  "void lines kept verbatim",
			input: "  0000.2Void>>\n   indented  \n【插入結束】  ",
			want: []Block{
				VoidLog{RawLines: []string{"  0000.2Void>>", "   indented  ", "【插入結束】  "}},
			},
		},
		{
			name:  "void start flushes paragraph",
			input: "a\nb\n0000.2Void>>\n[INSERTION_END]",
			want: []Block{
				Paragraph{Text: "a b", Style: StyleDefault, Spans: plain("a b")},
				VoidLog{RawLines: []string{"0000.2Void>>", "[INSERTION_END]"}},
			},
		},
		{
			name:  "directives inside void are raw",
			input: "0000.2Void>>\n[[DIVIDER]]\n\n[[BLUE::x]]\n【插入结束】",
			want: []Block{
				VoidLog{RawLines: []string{"0000.2Void>>", "[[DIVIDER]]", "", "[[BLUE::x]]", "【插入结束】"}},
			},
		},
		{
			name:  "closes at first end sentinel",
			input: "0000.2Void>>\nx [INSERTION_END]\ny\n【插入结束】",
			want: []Block{
				VoidLog{RawLines: []string{"0000.2Void>>", "x [INSERTION_END]"}},
				Paragraph{Text: "y【插入结束】", Style: StyleDefault, Spans: plain("y【插入结束】")},
			},
		},
		{
			name:  "prose sentinel mid-line starts block",
			input: "signal: 0000.2Void>> incoming\nbody\n[INSERTION_END]",
			want: []Block{
				VoidLog{RawLines: []string{"signal: 0000.2Void>> incoming", "body", "[INSERTION_END]"}},
			},
		},
		{
			name:  "second start sentinel inside void is raw",
			input: "0000.2Void>>\na\n0000.2Void>>\n[INSERTION_END]",
			want: []Block{
				VoidLog{RawLines: []string{"0000.2Void>>", "a", "0000.2Void>>", "[INSERTION_END]"}},
			},
		},
		{
			name:  "two void blocks",
			input: "0000.2Void>>\n[INSERTION_END]\nmid\n0000.2Void>>【插入结束】",
			want: []Block{
				VoidLog{RawLines: []string{"0000.2Void>>", "[INSERTION_END]"}},
				Paragraph{Text: "mid", Style: StyleDefault, Spans: plain("mid")},
				VoidLog{RawLines: []string{"0000.2Void>>【插入结束】"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compile(tt.input, Flags{})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compile(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

// An input that ends inside a void block loses the buffered lines. This is
// the documented behavior; Inspect reports it without changing the output.
func TestCompileUnterminatedVoidIsDropped(t *testing.T) {
	input := "intro\n\n0000.2Void>>\nlost line\n[[DIVIDER]]"

	got := Compile(input, Flags{})
	want := []Block{
		Paragraph{Text: "intro", Style: StyleDefault, Spans: plain("intro")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Compile() mismatch (-want +got):\n%s", diff)
	}

	for _, b := range got {
		enc, _ := EncodeBlocks([]Block{b})
		if strings.Contains(string(enc), "lost line") {
			t.Errorf("dropped void content leaked into %v", b)
		}
	}

	report := Inspect(input, Flags{})
	if diff := cmp.Diff(want, report.Blocks); diff != "" {
		t.Errorf("Inspect().Blocks differs from Compile() (-want +got):\n%s", diff)
	}
	if report.Unterminated == nil {
		t.Fatal("Inspect().Unterminated = nil, want a VoidDrop")
	}
	if diff := cmp.Diff(&VoidDrop{StartLine: 3, Lines: 3}, report.Unterminated); diff != "" {
		t.Errorf("Unterminated mismatch (-want +got):\n%s", diff)
	}
}

func TestInspectTerminated(t *testing.T) {
	report := Inspect("0000.2Void>>\n[INSERTION_END]", Flags{})
	if report.Unterminated != nil {
		t.Errorf("Unterminated = %+v, want nil", report.Unterminated)
	}
	if len(report.Blocks) != 1 {
		t.Errorf("len(Blocks) = %d, want 1", len(report.Blocks))
	}
}

func TestCompileNoDirectiveIdentity(t *testing.T) {
	inputs := [][]string{
		{"one line"},
		{"The rain", "kept falling", "on the roof."},
		{"雨一直下", "没有停", "end"},
		{"Zeri：mixed", "行", "and more"},
	}

	for _, lines := range inputs {
		joined := Join(lines)
		got := Compile(strings.Join(lines, "\n"), Flags{})
		want := []Block{
			Paragraph{Text: joined, Style: Classify(joined, Flags{}), Spans: plain(joined)},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Compile(%q) mismatch (-want +got):\n%s", lines, diff)
		}
	}
}

func TestCompileIsPure(t *testing.T) {
	input := "零点：走吧\n[[DIVIDER]]\n0000.2Void>>\nx\n[INSERTION_END]\n[[IMAGE::a::b]]"
	first := Compile(input, Flags{Legacy: true})
	second := Compile(input, Flags{Legacy: true})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Compile() differs (-first +second):\n%s", diff)
	}

	relit := Compile(input, Flags{})
	p, ok := relit[0].(Paragraph)
	if !ok || p.Style != StyleSpeakerPoint {
		t.Errorf("recompile with new flags = %+v, want speaker_point paragraph", relit[0])
	}
}

func TestScanStates(t *testing.T) {
	s := &scanner{}
	if s.state != stateNormal {
		t.Fatalf("initial state = %s, want normal", s.state)
	}
	s.step(1, "0000.2Void>>")
	if s.state != stateInVoid {
		t.Fatalf("after start sentinel state = %s, want in_void", s.state)
	}
	s.step(2, "[INSERTION_END]")
	if s.state != stateNormal {
		t.Fatalf("after end sentinel state = %s, want normal", s.state)
	}
	if got := scanState(7).String(); got != "unknown" {
		t.Errorf("scanState(7).String() = %q, want unknown", got)
	}
}

func TestContainsVoidEnd(t *testing.T) {
	for _, s := range VoidEndSentinels {
		if !ContainsVoidEnd("prefix " + s + " suffix") {
			t.Errorf("ContainsVoidEnd missed %q", s)
		}
	}
	if ContainsVoidEnd("[INSERTION]") {
		t.Error("ContainsVoidEnd matched a partial sentinel")
	}
}

func BenchmarkCompile(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("芷漓：[[MASK::名字]]是什么？\nThe rain kept falling\n\n[[DIVIDER]]\n0000.2Void>>\nsecret\n[INSERTION_END]\n")
	}
	text := sb.String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Compile(text, Flags{})
	}
}
