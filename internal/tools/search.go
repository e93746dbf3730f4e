package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"egg/internal/llm"
	"egg/internal/util"
)

const (
	defaultSearchResults   = 200
	defaultSearchFileBytes = 1 << 20
)

// SearchTool greps files under a directory (or a single file) for a query of
// `|`-separated alternatives of `&`-joined terms.
type SearchTool struct {
	BaseDir string
}

type searchArgs struct {
	Path          string `json:"path"`
	Query         string `json:"query"`
	Recursive     *bool  `json:"recursive"`
	CaseSensitive bool   `json:"case_sensitive"`
	IncludeHidden bool   `json:"include_hidden"`
	MaxResults    int    `json:"max_results"`
}

type searchMatcher struct {
	groups        [][]string
	caseSensitive bool
}

func (t *SearchTool) Definition() llm.ToolDefinition {
	return function("search",
		"Search text in files. The query supports `term1|term2` (OR) and `term1&term2` (AND); AND binds tighter than OR. "+
			"Results are `path:line:text`.",
		objectSchema([]string{"query"}, map[string]interface{}{
			"path":           map[string]interface{}{"type": "string", "description": "Directory or file to search (default: .)."},
			"query":          map[string]interface{}{"type": "string", "description": "Search query, e.g. `error&timeout|panic`."},
			"recursive":      map[string]interface{}{"type": "boolean", "description": "Descend into subdirectories (default: true)."},
			"case_sensitive": map[string]interface{}{"type": "boolean", "description": "Match case (default: false)."},
			"include_hidden": map[string]interface{}{"type": "boolean", "description": "Include dot files and directories (default: false)."},
			"max_results":    map[string]interface{}{"type": "integer", "description": "Maximum matched lines (default: 200)."},
		}))
}

type searchRun struct {
	ctx     context.Context
	root    string
	matcher searchMatcher
	max     int

	scanned   int
	skipped   int
	matches   []string
	truncated bool
}

var errSearchFull = errors.New("max results reached")

func (t *SearchTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	matcher, err := parseSearchQuery(in.Query, in.CaseSensitive)
	if err != nil {
		return "", err
	}
	root := util.ResolvePath(t.BaseDir, in.Path)
	if root == "" {
		root = util.ResolvePath(t.BaseDir, ".")
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	run := &searchRun{ctx: ctx, root: root, matcher: matcher, max: in.MaxResults}
	if run.max <= 0 {
		run.max = defaultSearchResults
	}

	switch {
	case !info.IsDir():
		run.root = filepath.Dir(root)
		err = run.file(root, info)
	case in.Recursive == nil || *in.Recursive:
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				run.skipped++
				return nil
			}
			if path == root {
				return nil
			}
			if !in.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			fi, infoErr := d.Info()
			if infoErr != nil {
				run.skipped++
				return nil
			}
			return run.file(path, fi)
		})
	default:
		entries, readErr := os.ReadDir(root)
		if readErr != nil {
			return "", readErr
		}
		for _, entry := range entries {
			if entry.IsDir() || (!in.IncludeHidden && strings.HasPrefix(entry.Name(), ".")) {
				continue
			}
			fi, infoErr := entry.Info()
			if infoErr != nil {
				run.skipped++
				continue
			}
			if err = run.file(filepath.Join(root, entry.Name()), fi); err != nil {
				break
			}
		}
	}
	if err != nil && !errors.Is(err, errSearchFull) {
		return "", err
	}
	return run.report(), nil
}

func (r *searchRun) file(path string, info fs.FileInfo) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.scanned++
	if info.Size() > defaultSearchFileBytes {
		r.skipped++
		return nil
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	found, err := scanFile(r.ctx, path, r.matcher, func(line int, text string) bool {
		r.matches = append(r.matches, fmt.Sprintf("%s:%d:%s", rel, line, text))
		return len(r.matches) < r.max
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.skipped++
		return nil
	}
	if !found {
		r.skipped++
	}
	if len(r.matches) >= r.max {
		r.truncated = true
		return errSearchFull
	}
	return nil
}

func (r *searchRun) report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "searched %d files under %s", r.scanned, r.root)
	if r.skipped > 0 {
		fmt.Fprintf(&b, " (%d skipped: binary, large or unreadable)", r.skipped)
	}
	b.WriteString("\n")
	if len(r.matches) == 0 {
		b.WriteString("(no matches)")
		return b.String()
	}
	b.WriteString(strings.Join(r.matches, "\n"))
	if r.truncated {
		fmt.Fprintf(&b, "\n... (stopped after %d matches)", r.max)
	}
	return b.String()
}

func parseSearchQuery(raw string, caseSensitive bool) (searchMatcher, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return searchMatcher{}, errors.New("query is required")
	}

	orParts := strings.Split(query, "|")
	groups := make([][]string, 0, len(orParts))
	for _, orPart := range orParts {
		orPart = strings.TrimSpace(orPart)
		if orPart == "" {
			return searchMatcher{}, errors.New("invalid query: empty term around '|'")
		}
		andParts := strings.Split(orPart, "&")
		group := make([]string, 0, len(andParts))
		for _, andPart := range andParts {
			term := trimQuotedTerm(strings.TrimSpace(andPart))
			if term == "" {
				return searchMatcher{}, errors.New("invalid query: empty term around '&'")
			}
			if !caseSensitive {
				term = strings.ToLower(term)
			}
			group = append(group, term)
		}
		groups = append(groups, group)
	}
	return searchMatcher{groups: groups, caseSensitive: caseSensitive}, nil
}

func trimQuotedTerm(term string) string {
	if len(term) < 2 {
		return term
	}
	first, last := term[0], term[len(term)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return strings.TrimSpace(term[1 : len(term)-1])
	}
	return term
}

func (m searchMatcher) Match(line string) bool {
	candidate := line
	if !m.caseSensitive {
		candidate = strings.ToLower(candidate)
	}
	for _, group := range m.groups {
		all := true
		for _, term := range group {
			if !strings.Contains(candidate, term) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// scanFile calls emit for each matching line until emit returns false. found
// is false for binary files.
func scanFile(ctx context.Context, path string, matcher searchMatcher, emit func(line int, text string) bool) (found bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 8192)
	sample, err := reader.Peek(8192)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return false, err
	}
	if isLikelyBinary(sample) {
		return false, nil
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		line++
		if matcher.Match(scanner.Text()) && !emit(line, scanner.Text()) {
			return true, nil
		}
	}
	return true, scanner.Err()
}

func isLikelyBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	control := 0
	for _, b := range data {
		if b < 0x09 || (b > 0x0D && b < 0x20) {
			control++
		}
	}
	return float64(control)/float64(len(data)) > 0.2
}
