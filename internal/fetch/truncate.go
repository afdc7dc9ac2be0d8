package fetch

import (
	"strings"
	"unicode/utf8"
)

// MaxContentSize is the default content cap in characters.
const MaxContentSize = 50000

// TruncationMarker is appended to truncated content.
const TruncationMarker = "\n\n[Content truncated...]"

// TruncateContent caps content at max characters. When a sentence or line
// boundary exists in the last fifth of the kept prefix the cut happens there.
func TruncateContent(content string, max int) string {
	if max <= 0 || utf8.RuneCountInString(content) <= max {
		return content
	}
	prefix := content
	count := 0
	for i := range content {
		if count == max {
			prefix = content[:i]
			break
		}
		count++
	}

	cut := strings.LastIndex(prefix, ". ")
	if nl := strings.LastIndex(prefix, "\n"); nl > cut {
		cut = nl
	}
	if cut >= 0 && float64(utf8.RuneCountInString(prefix[:cut])) > float64(max)*0.8 {
		prefix = prefix[:cut+1]
	}
	return prefix + TruncationMarker
}
