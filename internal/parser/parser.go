package parser

import "strings"

// Lines splits text on '\n' and returns the non-empty lines in order.
// A trailing "\r" is dropped so CRLF logs render like LF logs.
func Lines(text string) []string {
	var lines []string
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Last returns at most the final n entries of lines.
func Last(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func Join(lines []string) string {
	return strings.Join(lines, "\n")
}
