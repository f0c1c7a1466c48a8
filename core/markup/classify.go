package markup

import "regexp"

// StyleRule maps a paragraph to a StyleTag when Match returns true.
type StyleRule struct {
	Name  string
	Tag   StyleTag
	Match func(text string, flags Flags) bool
}

// speakerRule matches text that opens with one of the speaker names followed
// by one of the separators.
func speakerRule(name string, tag StyleTag, pattern string) StyleRule {
	re := regexp.MustCompile(pattern)
	return StyleRule{
		Name: name,
		Tag:  tag,
		Match: func(text string, _ Flags) bool {
			return re.MatchString(text)
		},
	}
}

// StyleRules is evaluated top to bottom; the first match wins. Chapter flags
// outrank speaker detection.
var StyleRules = []StyleRule{
	{
		Name:  "legacy",
		Tag:   StyleLegacyBlue,
		Match: func(_ string, f Flags) bool { return f.Legacy },
	},
	{
		Name:  "diary",
		Tag:   StyleDiaryFuchsia,
		Match: func(_ string, f Flags) bool { return f.Diary },
	},
	speakerRule("point", StyleSpeakerPoint, `^(零点|Point|零點)(:|：|\(|（)`),
	speakerRule("zeri", StyleSpeakerZeri, `^(芷漓|Zeri)(:|：|\(|（)`),
	speakerRule("zelo", StyleSpeakerZelo, `^(泽洛|Zelo|澤洛)(:|：|\(|（)`),
	speakerRule("void", StyleSpeakerVoid, `^(\?\?\?|Void|void)(:|：|\(|（|>)`),
}

// Classify picks the StyleTag for a joined paragraph. It must see the joined
// text, since a speaker prefix can be wrapped across source lines.
func Classify(text string, flags Flags) StyleTag {
	for _, rule := range StyleRules {
		if rule.Match(text, flags) {
			return rule.Tag
		}
	}
	return StyleDefault
}
