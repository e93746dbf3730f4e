package gate

import (
	"fmt"
	"path/filepath"
	"strings"

	"egg/internal/agentlog"
	"egg/internal/toolcall"
	"egg/internal/util"
)

// limit cuts content to the configured line budget. The full text is saved
// under the overflow directory and referenced from the cut result.
func (g *Gate) limit(call toolcall.Call, content string) (string, string) {
	if g.maxLines <= 0 {
		return content, ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= g.maxLines {
		return content, ""
	}
	kept := strings.Join(lines[:g.maxLines], "\n")

	if strings.TrimSpace(g.overflow) == "" {
		return fmt.Sprintf("%s\n... [output truncated: showing %d of %d lines]", kept, g.maxLines, len(lines)), ""
	}
	path := filepath.Join(g.overflow, overflowName(call, g.nextSeq()))
	if err := util.WriteFile(path, []byte(content)); err != nil {
		g.log.Logf(agentlog.KindWarn, "save overflow of %s: %v", call.Name, err)
		return fmt.Sprintf("%s\n... [output truncated: showing %d of %d lines]", kept, g.maxLines, len(lines)), ""
	}
	return fmt.Sprintf("%s\n... [output truncated: showing %d of %d lines; full output saved to %s]", kept, g.maxLines, len(lines), path), path
}

func overflowName(call toolcall.Call, seq int) string {
	id := fileSafe(call.ID)
	if id == "" {
		id = "call"
	}
	return fmt.Sprintf("%03d_%s_%s.txt", seq, fileSafe(call.Name), id)
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
