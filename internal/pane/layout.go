// Package pane places agent processes in terminal multiplexer panes.
//
// Layout is a pure function of a child's position among its open siblings: the
// first child splits its parent's pane vertically into a new column on the
// right, every later sibling splits horizontally below the newest sibling in
// that column. Because a grandchild's parent pane is the child's own pane, the
// rule nests further columns to the right without any shared counter.
package pane

import "strings"

type Direction string

const (
	// Vertical adds a column to the right of the target pane.
	Vertical Direction = "vertical"
	// Horizontal stacks a new pane below the target pane.
	Horizontal Direction = "horizontal"
)

// Placement describes where a new child sits relative to its family.
type Placement struct {
	// ParentPane is the pane of the spawning agent.
	ParentPane string
	// Depth is the child's depth in the tree, 1 for children of the root.
	Depth int
	// Ordinal counts the parent's children whose panes are still open.
	Ordinal int
	// AnchorPane is the newest open sibling pane, if any.
	AnchorPane string
}

// Instruction is the split to perform for a placement.
type Instruction struct {
	Direction Direction
	Target    string
	Depth     int
}

func Plan(p Placement) Instruction {
	anchor := strings.TrimSpace(p.AnchorPane)
	if p.Ordinal <= 0 || anchor == "" {
		return Instruction{Direction: Vertical, Target: strings.TrimSpace(p.ParentPane), Depth: p.Depth}
	}
	return Instruction{Direction: Horizontal, Target: anchor, Depth: p.Depth}
}

// SessionName is the multiplexer session that groups one agent tree.
func SessionName(treeID string) string {
	return "egg-tree-" + strings.TrimSpace(treeID)
}
