package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"egg/internal/llm"
	"egg/internal/util"
)

// StrReplaceEditorTool replaces one exact occurrence of a string in a file.
type StrReplaceEditorTool struct {
	BaseDir string
}

type strReplaceArgs struct {
	FilePath string  `json:"file_path"`
	OldStr   *string `json:"old_str"`
	NewStr   *string `json:"new_str"`
}

func (t *StrReplaceEditorTool) Definition() llm.ToolDefinition {
	return function("str_replace_editor",
		"Replace text in a file. old_str must be the exact literal text to replace, including whitespace, indentation and newlines, "+
			"and must occur exactly once in the file. new_str is the exact replacement. Never escape either string.",
		objectSchema([]string{"file_path", "old_str", "new_str"}, map[string]interface{}{
			"file_path": map[string]interface{}{"type": "string", "description": "Path to the file to edit"},
			"old_str":   map[string]interface{}{"type": "string", "description": "Exact string to replace"},
			"new_str":   map[string]interface{}{"type": "string", "description": "Replacement string"},
		}))
}

func (t *StrReplaceEditorTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in strReplaceArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	path := util.ResolvePath(t.BaseDir, in.FilePath)
	if path == "" {
		return "", errors.New("file_path is required")
	}
	if in.OldStr == nil || *in.OldStr == "" {
		return "", errors.New("old_str is required")
	}
	if in.NewStr == nil {
		return "", errors.New("new_str is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, *in.OldStr); n {
	case 0:
		return "", fmt.Errorf("old_str not found in %s", in.FilePath)
	case 1:
	default:
		return "", fmt.Errorf("old_str occurs %d times in %s; include more context so it is unique", n, in.FilePath)
	}
	content = strings.Replace(content, *in.OldStr, *in.NewStr, 1)
	if err := util.ReplaceFile(path, []byte(content)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully replaced text in %s", in.FilePath), nil
}

// ReplaceLinesTool replaces an inclusive, 1-indexed line range of a file.
type ReplaceLinesTool struct {
	BaseDir string
}

type replaceLinesArgs struct {
	FilePath   string `json:"file_path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	NewContent string `json:"new_content"`
}

func (t *ReplaceLinesTool) Definition() llm.ToolDefinition {
	return function("replace_lines",
		"Replace a range of lines in a file with new content. Lines are 1-indexed and the range is inclusive. "+
			"An empty new_content deletes the range.",
		objectSchema([]string{"file_path", "start_line", "end_line", "new_content"}, map[string]interface{}{
			"file_path":   map[string]interface{}{"type": "string", "description": "Path to the file to edit"},
			"start_line":  map[string]interface{}{"type": "integer", "description": "The starting line number (1-indexed)."},
			"end_line":    map[string]interface{}{"type": "integer", "description": "The ending line number (inclusive)."},
			"new_content": map[string]interface{}{"type": "string", "description": "The text that replaces the range."},
		}))
}

func (t *ReplaceLinesTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in replaceLinesArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	path := util.ResolvePath(t.BaseDir, in.FilePath)
	if path == "" {
		return "", errors.New("file_path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := splitLines(content)

	if in.StartLine < 1 || in.EndLine < in.StartLine || in.EndLine > len(lines) {
		return "", fmt.Errorf("invalid line range %d-%d: file has %d lines", in.StartLine, in.EndLine, len(lines))
	}

	var replacement []string
	if in.NewContent != "" {
		replacement = splitLines(strings.TrimSuffix(in.NewContent, "\n"))
		if len(replacement) == 0 {
			replacement = []string{""}
		}
	}
	out := make([]string, 0, len(lines)-(in.EndLine-in.StartLine+1)+len(replacement))
	out = append(out, lines[:in.StartLine-1]...)
	out = append(out, replacement...)
	out = append(out, lines[in.EndLine:]...)

	result := strings.Join(out, "\n")
	if trailingNewline && len(out) > 0 {
		result += "\n"
	}
	if err := util.ReplaceFile(path, []byte(result)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully replaced lines %d-%d in %s", in.StartLine, in.EndLine, in.FilePath), nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n"), "\n")
}
