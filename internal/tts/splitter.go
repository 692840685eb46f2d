package tts

import (
	"regexp"
	"strings"
)

// DefaultAbbreviations are masked before sentence splitting so their
// trailing period does not end a sentence. The list is extendable via
// configuration.
var DefaultAbbreviations = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Sr.", "Jr.", "St.",
	"Etc.", "etc.", "vs.", "e.g.", "i.e.", "approx.", "No.",
}

// maskRune temporarily replaces protected periods. Control characters are
// stripped during preprocessing, so it cannot occur in input text.
const maskRune = '\x00'

var (
	crlf       = strings.NewReplacer("\r\n", "\n")
	ctrlChars  = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	whitespace = regexp.MustCompile(`\s+`)
	decimals   = regexp.MustCompile(`(\d)\.(\d)`)

	// A sentence ends at .!? followed by whitespace and a character that
	// does not itself continue the boundary.
	sentenceEnd = regexp.MustCompile(`([.!?])\s+([^\s.!?)\]"'])`)
)

// Splitter preprocesses text and divides it into sentences.
type Splitter struct {
	maskers []*regexp.Regexp
}

// NewSplitter compiles masking patterns for the given abbreviation list;
// nil uses DefaultAbbreviations.
func NewSplitter(abbreviations []string) *Splitter {
	if abbreviations == nil {
		abbreviations = DefaultAbbreviations
	}
	s := &Splitter{}
	for _, abbr := range abbreviations {
		s.maskers = append(s.maskers, regexp.MustCompile(`\b`+regexp.QuoteMeta(abbr)))
	}
	return s
}

// PreprocessText normalizes whitespace, strips non-printable control
// characters except \n \r \t, normalizes CRLF, and fixes the "(e.g., "
// pattern that otherwise confuses the splitter.
func (s *Splitter) PreprocessText(text string) string {
	text = crlf.Replace(text)
	text = ctrlChars.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "(e.g., ", "(e.g. ")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitSentences divides preprocessed text into sentences. Abbreviations
// and decimal points are masked first so they survive the split; empty
// sentences are dropped.
func (s *Splitter) SplitSentences(text string) []string {
	masked := text
	for _, m := range s.maskers {
		masked = m.ReplaceAllStringFunc(masked, func(match string) string {
			return strings.ReplaceAll(match, ".", string(maskRune))
		})
	}
	masked = decimals.ReplaceAllString(masked, "${1}"+string(maskRune)+"${2}")

	var sentences []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringSubmatchIndex(masked, -1) {
		// loc[3] is the end of the terminator; loc[4] the start of the
		// next sentence.
		sentences = append(sentences, masked[start:loc[3]])
		start = loc[4]
	}
	if start < len(masked) {
		sentences = append(sentences, masked[start:])
	}

	out := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		restored := strings.ReplaceAll(sentence, string(maskRune), ".")
		restored = strings.TrimSpace(restored)
		if restored != "" {
			out = append(out, restored)
		}
	}
	return out
}
