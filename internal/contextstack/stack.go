// Package contextstack lets one conversation fork into a sub-task and come back
// with a result. Each frame owns its own message history; popping a frame
// discards it and reports its return value to the frame below.
package contextstack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"egg/internal/llm"
)

var (
	ErrReferenceNotFound = errors.New("context reference not found")
	ErrEmptyStack        = errors.New("no context to return to")
)

// GlobalPrefix marks a reference that resolves against the shared global directory.
const GlobalPrefix = "/global/"

// FilePrefix marks an explicit file reference relative to the working directory.
const FilePrefix = "@"

const closeInstruction = "When this task is finished, call popContext with a concise return_value. " +
	"The return value is the only thing carried back to the previous conversation."

type Frame struct {
	ID        string
	Initiator string
	Messages  []llm.Message
	CreatedAt time.Time
}

type EventKind string

const (
	EventPush EventKind = "push"
	EventPop  EventKind = "pop"
)

type Event struct {
	Kind        EventKind
	FrameID     string
	Depth       int
	ReturnValue string
}

type Options struct {
	// BaseDir resolves relative file references. Defaults to the working directory.
	BaseDir string
	// GlobalDir resolves GlobalPrefix references.
	GlobalDir string
	// OnChange is called after every push and pop.
	OnChange func(Event)
}

// PopResult describes what a pop returned to.
type PopResult struct {
	FrameID string
	// Root is set when the pop restored the bottom frame.
	Root bool
}

type Stack struct {
	mu     sync.Mutex
	frames []*Frame
	opts   Options
}

// New creates a stack whose root frame holds the given messages.
func New(root []llm.Message, opts Options) *Stack {
	frame := &Frame{
		ID:        uuid.NewString(),
		Initiator: "root",
		Messages:  append([]llm.Message(nil), root...),
		CreatedAt: time.Now().UTC(),
	}
	return &Stack{frames: []*Frame{frame}, opts: opts}
}

// Depth is the number of frames below the active one.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - 1
}

func (s *Stack) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1].ID
}

// Messages returns a copy of the active frame's history.
func (s *Stack) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.frames[len(s.frames)-1]
	return append([]llm.Message(nil), active.Messages...)
}

func (s *Stack) Append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.frames[len(s.frames)-1]
	active.Messages = append(active.Messages, msgs...)
}

// Replace swaps the active frame's history, used when a saved chat is loaded.
func (s *Stack) Replace(msgs []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.frames[len(s.frames)-1]
	active.Messages = append([]llm.Message(nil), msgs...)
}

// Push opens a new frame seeded with the resolved initiator, extra text and the
// instruction to close the frame with popContext. The system prompt of the root
// frame is carried into the new frame.
func (s *Stack) Push(initiator string, extra string) (string, error) {
	content, err := Resolve(initiator, s.opts.BaseDir, s.opts.GlobalDir)
	if err != nil {
		return "", err
	}

	var body strings.Builder
	body.WriteString(content)
	if text := strings.TrimSpace(extra); text != "" {
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(text)
	}
	if body.Len() > 0 {
		body.WriteString("\n\n")
	}
	body.WriteString(closeInstruction)

	s.mu.Lock()
	seed := make([]llm.Message, 0, 2)
	if root := s.frames[0].Messages; len(root) > 0 && root[0].Role == "system" {
		seed = append(seed, root[0])
	}
	seed = append(seed, llm.UserMessage(body.String()))
	frame := &Frame{
		ID:        uuid.NewString(),
		Initiator: strings.TrimSpace(initiator),
		Messages:  seed,
		CreatedAt: time.Now().UTC(),
	}
	s.frames = append(s.frames, frame)
	depth := len(s.frames) - 1
	s.mu.Unlock()

	s.notify(Event{Kind: EventPush, FrameID: frame.ID, Depth: depth})
	return frame.ID, nil
}

// Pop discards the active frame and appends the return value to the restored one.
func (s *Stack) Pop(returnValue string) (PopResult, error) {
	s.mu.Lock()
	if len(s.frames) < 2 {
		s.mu.Unlock()
		return PopResult{}, ErrEmptyStack
	}
	s.frames = s.frames[:len(s.frames)-1]
	restored := s.frames[len(s.frames)-1]
	restored.Messages = append(restored.Messages, llm.UserMessage(ReturnMessage(returnValue)))
	depth := len(s.frames) - 1
	s.mu.Unlock()

	s.notify(Event{Kind: EventPop, FrameID: restored.ID, Depth: depth, ReturnValue: returnValue})
	return PopResult{FrameID: restored.ID, Root: depth == 0}, nil
}

// ReturnMessage is the synthetic message a popped frame leaves behind.
func ReturnMessage(value string) string {
	return "Return value: " + value
}

func (s *Stack) notify(evt Event) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(evt)
	}
}

// Resolve turns an initiator into frame content. GlobalPrefix and FilePrefix
// references must name an existing file. A bare single-token path that exists
// is loaded as well; anything else is literal text.
func Resolve(initiator string, baseDir string, globalDir string) (string, error) {
	ref := strings.TrimSpace(initiator)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, GlobalPrefix):
		name := strings.TrimPrefix(ref, GlobalPrefix)
		if strings.TrimSpace(globalDir) == "" {
			return "", fmt.Errorf("%w: %s (no global directory configured)", ErrReferenceNotFound, ref)
		}
		return readReference(ref, filepath.Join(globalDir, filepath.Clean("/"+name)))
	case strings.HasPrefix(ref, FilePrefix):
		return readReference(ref, joinBase(baseDir, strings.TrimPrefix(ref, FilePrefix)))
	}
	if strings.ContainsAny(ref, " \t\r\n") {
		return initiator, nil
	}
	path := joinBase(baseDir, ref)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return readReference(ref, path)
	}
	return initiator, nil
}

func joinBase(baseDir string, path string) string {
	if filepath.IsAbs(path) || strings.TrimSpace(baseDir) == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

func readReference(ref string, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrInvalid) {
			return "", fmt.Errorf("%w: %s", ErrReferenceNotFound, ref)
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return "", fmt.Errorf("%w: %s: %v", ErrReferenceNotFound, ref, pathErr.Err)
		}
		return "", err
	}
	return string(data), nil
}
