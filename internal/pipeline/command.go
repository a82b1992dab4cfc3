// Package pipeline holds the control vocabulary shared by the recorder,
// player and listener pipelines.
package pipeline

import "fmt"

// Kind tags a Command.
type Kind int

const (
	KindPlay Kind = iota + 1
	KindPause
)

func (k Kind) String() string {
	switch k {
	case KindPlay:
		return "play"
	case KindPause:
		return "pause"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is Play(id) or Pause(optional id). Each pipeline interprets it in
// its own way.
type Command struct {
	Kind Kind
	ID   string
	// HasID is false for a Pause that names no recording.
	HasID bool
}

// Play starts (or resumes) work on id.
func Play(id string) Command {
	return Command{Kind: KindPlay, ID: id, HasID: true}
}

// Pause stops work on id.
func Pause(id string) Command {
	return Command{Kind: KindPause, ID: id, HasID: true}
}

// PauseAll is a Pause that names no recording.
func PauseAll() Command {
	return Command{Kind: KindPause}
}

func (c Command) String() string {
	if !c.HasID {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.ID)
}
