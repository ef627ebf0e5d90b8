package decision

import (
	"encoding/json"
)

type verdict struct {
	Buy       *bool  `json:"buy"`
	Reasoning string `json:"reasoning"`
}

type finalVerdict struct {
	Buy       bool
	Reasoning string
}

// extractVerdict scans a model message for JSON objects shaped like
// {"buy": bool, "reasoning": str}. When several blocks are present the last
// one wins, so a model that revises itself is taken at its final word.
func extractVerdict(text string) (finalVerdict, bool) {
	var (
		found  bool
		result finalVerdict
	)

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		block, end, ok := balancedBlock(text, i)
		if !ok {
			continue
		}
		var v verdict
		if err := json.Unmarshal([]byte(block), &v); err == nil && v.Buy != nil {
			result = finalVerdict{Buy: *v.Buy, Reasoning: v.Reasoning}
			found = true
		}
		i = end
	}
	return result, found
}

// balancedBlock returns the JSON object starting at start, respecting string
// literals and escapes.
func balancedBlock(s string, start int) (string, int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i, true
			}
		}
	}
	return "", start, false
}
