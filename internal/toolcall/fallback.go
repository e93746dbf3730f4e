package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	inlineCallPattern  = regexp.MustCompile(`"type"\s*:\s*"function"[^}]*"name"\s*:\s*"([^"]+)"[^}]*"arguments"\s*:\s*(\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\})`)
)

// ParseContent recovers tool calls that a model wrote into its text instead of
// emitting them as native tool-call deltas. It accepts a whole-message JSON
// document, fenced JSON blocks, or inline function objects, in that order.
// Recovered calls are complete and carry synthetic ids.
func ParseContent(content string) []Call {
	found := parseContent(content, 0)
	out := make([]Call, 0, len(found))
	for i, call := range found {
		call.Index = i
		call.ID = fmt.Sprintf("fallback-%d", i+1)
		call.Status = StatusComplete
		out = append(out, call)
	}
	return out
}

func parseContent(content string, depth int) []Call {
	text := strings.TrimSpace(content)
	if text == "" || depth > 2 {
		return nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		switch v := parsed.(type) {
		case map[string]any:
			if list, ok := v["tool_calls"].([]any); ok {
				return callsFromList(list)
			}
			return callsFromList([]any{v})
		case []any:
			return callsFromList(v)
		}
		return nil
	}

	var calls []Call
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		calls = append(calls, parseContent(match[1], depth+1)...)
	}
	if len(calls) > 0 {
		return calls
	}

	for _, match := range inlineCallPattern.FindAllStringSubmatch(text, -1) {
		if !json.Valid([]byte(match[2])) {
			continue
		}
		calls = append(calls, Call{Name: match[1], Arguments: match[2]})
	}
	return calls
}

func callsFromList(list []any) []Call {
	out := make([]Call, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var (
			name string
			args any
		)
		if fn, ok := obj["function"].(map[string]any); ok {
			name, _ = fn["name"].(string)
			args = fn["arguments"]
		} else if n, ok := obj["name"].(string); ok {
			name = n
			args = obj["arguments"]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		encoded, ok := encodeArguments(args)
		if !ok {
			continue
		}
		out = append(out, Call{Name: name, Arguments: encoded})
	}
	return out
}

func encodeArguments(args any) (string, bool) {
	switch v := args.(type) {
	case nil:
		return "{}", true
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return "{}", true
		}
		if validateArguments(text) != nil {
			return "", false
		}
		return text, true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}
