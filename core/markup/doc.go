// Package markup compiles side-story chapter text into an ordered list of
// renderable blocks.
//
// Chapter text is plain prose interleaved with bracketed directives. Line
// directives occupy a whole trimmed line and produce structural blocks:
//
//	[[BLUE::text]]            colored line (also GREEN, DANGER)
//	[[VOID_VISION::text]]     retinal vision quote
//	[[DIVIDER]]               divider
//	[[IMAGE::src::caption]]   image
//
// A void transmission starts on any line containing 0000.2Void>> and runs
// through the first line containing one of the end sentinels 【插入结束】,
// 【插入結束】 or [INSERTION_END]. Blank lines end the current paragraph.
//
// Inline directives of the form [[TAG::content]] may appear anywhere in prose,
// with TAG one of MASK, GLITCH_GREEN, GREEN, VOID, DANGER or BLUE.
//
// # Pipeline
//
//   - Scan walks the lines with a two-state machine (normal, in void block).
//   - Buffered prose lines are merged by Join, which only inserts a space
//     between two Latin lines.
//   - Classify picks a StyleTag for each joined paragraph.
//   - ParseSpans splits paragraph and colored-line text into spans.
//
// Compilation never fails. Unknown or malformed directives are kept as literal
// text. A void block still open at end of input is discarded; Inspect reports
// it without changing the compiled output.
//
// # Example
//
//	blocks := markup.Compile("[[BLUE::Hello]]\n\n芷漓：你好", markup.Flags{})
//	for _, b := range blocks {
//	    fmt.Println(b.Kind())
//	}
package markup
