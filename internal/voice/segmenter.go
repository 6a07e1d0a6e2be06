package voice

import (
	"regexp"
	"strings"
)

var (
	repeatedPeriodsPattern = regexp.MustCompile(`\.{2,}`)
	paragraphBreakPattern  = regexp.MustCompile(`\n{2,}`)
	repeatedSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
	sentenceUnitPattern    = regexp.MustCompile(`[^.!?]+[.!?]+`)
	wordCharPattern        = regexp.MustCompile(`[\p{L}\p{N}]`)
)

// sanitizeReplyText strips markup and formatting noise that sounds wrong when
// synthesized: ellipses become one period, dashes become commas, markdown
// markers disappear and paragraph breaks turn into a short spoken pause.
// The transform is stable under re-application.
func sanitizeReplyText(raw string) string {
	cleaned := repeatedPeriodsPattern.ReplaceAllString(strings.TrimSpace(raw), ".")
	cleaned = strings.ReplaceAll(cleaned, "—", ",")
	cleaned = strings.ReplaceAll(cleaned, "–", ",")
	cleaned = strings.ReplaceAll(cleaned, "**", "")
	cleaned = strings.ReplaceAll(cleaned, "*", "")
	cleaned = strings.ReplaceAll(cleaned, "#", "")
	cleaned = paragraphBreakPattern.ReplaceAllString(cleaned, ". ")
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	// A paragraph break after a sentence end mints a fresh period run.
	cleaned = repeatedPeriodsPattern.ReplaceAllString(cleaned, ".")
	cleaned = repeatedSpacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	// Markup stripping can leave bare punctuation behind. Nothing speakable
	// means nothing to say.
	if !wordCharPattern.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// SegmentReply prepares a backend reply for speech synthesis: it sanitizes
// the text and keeps at most maxSentences sentence units, so long generated
// answers never stall playback. A trailing fragment without terminal
// punctuation counts as one unit.
func SegmentReply(raw string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 4
	}

	cleaned := sanitizeReplyText(raw)
	if cleaned == "" {
		return ""
	}

	spans := sentenceUnitPattern.FindAllStringIndex(cleaned, -1)
	units := make([]string, 0, len(spans)+1)
	consumed := 0
	for _, span := range spans {
		units = append(units, strings.TrimSpace(cleaned[span[0]:span[1]]))
		consumed = span[1]
	}
	if trailing := strings.TrimSpace(cleaned[consumed:]); trailing != "" {
		units = append(units, trailing)
	}
	if len(units) == 0 {
		return cleaned
	}
	if len(units) > maxSentences {
		units = units[:maxSentences]
	}
	return strings.Join(units, " ")
}
