package cmd

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// maxSuggestDistance is the largest edit distance still worth suggesting.
const maxSuggestDistance = 3

// editDistance is the Levenshtein distance between a and b.
func editDistance(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// closest returns the candidate nearest to input, or "" when none is within
// maxSuggestDistance. trim is stripped from both sides before comparing.
func closest(input string, candidates []string, trim string) string {
	input = strings.ToLower(strings.TrimLeft(input, trim))
	if input == "" {
		return ""
	}
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range candidates {
		if d := editDistance(input, strings.ToLower(strings.TrimLeft(c, trim))); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// suggestCommand finds the closest command name to the unknown input.
func suggestCommand(unknown string, commands []string) string {
	return closest(unknown, commands, "")
}

// suggestFlag finds the closest flag, ignoring leading dashes.
func suggestFlag(unknown string, flagNames []string) string {
	return closest(unknown, flagNames, "-")
}

// suggestSlashCommand matches a mistyped chat command. Prefix and
// subsequence matches ("/ret", "/dsm") win through fuzzy; typos fall back to
// edit distance.
func suggestSlashCommand(input string, commands []string) string {
	word := strings.TrimPrefix(strings.ToLower(input), "/")
	if word == "" {
		return ""
	}
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = strings.TrimPrefix(c, "/")
	}
	if matches := fuzzy.Find(word, names); len(matches) > 0 {
		return commands[matches[0].Index]
	}
	return closest(word, commands, "/")
}
