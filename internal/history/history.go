// Package history implements the bounded undo/redo stacks behind
// non-destructive editing: an artifact stack tracking rendered working
// files on disk, and a snapshot stack tracking serialized editor state.
package history

import (
	"errors"
	"os"
)

var (
	// ErrNothingToUndo reports an undo on an exhausted stack. It is a
	// user-facing no-op condition, not a failure.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo reports a redo with no undone entries.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// ArtifactStack tracks rendered artifact paths for a single-file edit
// session. The bottom of the undo stack is always the artifact currently
// loaded; undo therefore requires at least two entries. When the stack
// grows past its limit the oldest artifact is evicted and its backing file
// deleted, unless it is still the active one.
type ArtifactStack struct {
	limit int
	undo  []string
	redo  []string
}

// NewArtifactStack creates a stack bounded at limit entries. Limits below 2
// are raised to 2 so the active artifact and one undo step always fit.
func NewArtifactStack(limit int) *ArtifactStack {
	if limit < 2 {
		limit = 2
	}
	return &ArtifactStack{limit: limit}
}

// Push records a newly rendered artifact, clears the redo stack, and evicts
// the oldest entry past the bound, removing its file if it is no longer the
// active artifact.
func (s *ArtifactStack) Push(path string) {
	s.undo = append(s.undo, path)
	if len(s.undo) > s.limit {
		old := s.undo[0]
		s.undo = s.undo[1:]
		if old != s.Current() {
			// Best effort: a missing file is already gone.
			if _, err := os.Stat(old); err == nil {
				os.Remove(old)
			}
		}
	}
	s.redo = nil
}

// Current returns the active artifact path, or "" when empty.
func (s *ArtifactStack) Current() string {
	if len(s.undo) == 0 {
		return ""
	}
	return s.undo[len(s.undo)-1]
}

// Undo moves the active artifact to the redo stack and returns the previous
// one. The file itself stays on disk so redo can restore it.
func (s *ArtifactStack) Undo() (string, error) {
	if len(s.undo) <= 1 {
		return "", ErrNothingToUndo
	}
	last := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, last)
	return s.Current(), nil
}

// Redo restores the most recently undone artifact.
func (s *ArtifactStack) Redo() (string, error) {
	if len(s.redo) == 0 {
		return "", ErrNothingToRedo
	}
	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, next)
	return next, nil
}

// Drain empties both stacks and returns every tracked path, undo entries
// oldest first followed by redo entries. The caller decides which backing
// files to delete.
func (s *ArtifactStack) Drain() []string {
	out := make([]string, 0, len(s.undo)+len(s.redo))
	out = append(out, s.undo...)
	out = append(out, s.redo...)
	s.undo = nil
	s.redo = nil
	return out
}

// Len returns the undo stack depth.
func (s *ArtifactStack) Len() int { return len(s.undo) }

// CanUndo reports whether an undo step exists.
func (s *ArtifactStack) CanUndo() bool { return len(s.undo) > 1 }

// CanRedo reports whether a redo step exists.
func (s *ArtifactStack) CanRedo() bool { return len(s.redo) > 0 }

// SnapshotStack tracks serialized state snapshots for the multi-clip
// editor. Snapshot is taken BEFORE a mutation, so undo restores the
// pre-mutation state and pushes the caller's current state onto redo.
// Both sides are bounded at the same limit.
type SnapshotStack struct {
	limit int
	undo  [][]byte
	redo  [][]byte
}

// NewSnapshotStack creates a snapshot stack bounded at limit entries per side.
func NewSnapshotStack(limit int) *SnapshotStack {
	if limit < 1 {
		limit = 1
	}
	return &SnapshotStack{limit: limit}
}

// Snapshot records the state about to be mutated and clears the redo stack.
func (s *SnapshotStack) Snapshot(state []byte) {
	s.undo = append(s.undo, cloneBytes(state))
	if len(s.undo) > s.limit {
		s.undo = s.undo[1:]
	}
	s.redo = nil
}

// Undo exchanges the caller's current state for the last snapshot.
func (s *SnapshotStack) Undo(current []byte) ([]byte, error) {
	if len(s.undo) == 0 {
		return nil, ErrNothingToUndo
	}
	s.redo = append(s.redo, cloneBytes(current))
	if len(s.redo) > s.limit {
		s.redo = s.redo[1:]
	}
	last := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	return last, nil
}

// Redo exchanges the caller's current state for the last undone snapshot.
func (s *SnapshotStack) Redo(current []byte) ([]byte, error) {
	if len(s.redo) == 0 {
		return nil, ErrNothingToRedo
	}
	s.undo = append(s.undo, cloneBytes(current))
	if len(s.undo) > s.limit {
		s.undo = s.undo[1:]
	}
	last := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	return last, nil
}

// CanUndo reports whether a snapshot is available.
func (s *SnapshotStack) CanUndo() bool { return len(s.undo) > 0 }

// CanRedo reports whether an undone snapshot is available.
func (s *SnapshotStack) CanRedo() bool { return len(s.redo) > 0 }

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
