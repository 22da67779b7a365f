// internal/session/session.go
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/deskpilot/internal/desktop"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusExecuting  Status = "executing"
	StatusEvaluating Status = "evaluating"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Session is the unit of work for one user goal. The controller is its sole
// mutator; everything else sees it through explicit request values.
type Session struct {
	ID            uuid.UUID
	Goal          string // immutable for the session's lifetime
	Iteration     int    // completed plan-execute-evaluate rounds
	MaxIterations int
	Status        Status
	Transcript    []string // model responses and execution notes, oldest first
	StartedAt     time.Time

	// LastScreenshot is the most recent captured frame, overwritten each
	// round and never retained across sessions.
	LastScreenshot *desktop.Screenshot
}

func newSession(goal string, maxIterations int) *Session {
	return &Session{
		ID:            uuid.New(),
		Goal:          goal,
		MaxIterations: maxIterations,
		Status:        StatusPlanning,
		StartedAt:     time.Now(),
	}
}

// note appends an entry to the transcript the planner sees on later rounds.
func (s *Session) note(entry string) {
	if entry == "" {
		return
	}
	s.Transcript = append(s.Transcript, entry)
}

// screenshotPNG returns the encoded bytes of the last captured frame, or nil
// before the first capture.
func (s *Session) screenshotPNG() []byte {
	if s.LastScreenshot == nil {
		return nil
	}
	return s.LastScreenshot.PNG
}
