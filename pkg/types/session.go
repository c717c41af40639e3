// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Status tracks a session through the research workflow.
type Status string

const (
	StatusClarifying  Status = "clarifying"
	StatusPlanning    Status = "planning"
	StatusResearching Status = "researching"
	StatusAnalysis    Status = "analysis"
	StatusSynthesis   Status = "synthesis"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// statusOrder ranks the forward path. Terminal side states are absent.
var statusOrder = map[Status]int{
	StatusClarifying:  0,
	StatusPlanning:    1,
	StatusResearching: 2,
	StatusAnalysis:    3,
	StatusSynthesis:   4,
	StatusComplete:    5,
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from → to is allowed: one step forward
// along the main path, or failed/cancelled from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	f, ok1 := statusOrder[from]
	t, ok2 := statusOrder[to]
	return ok1 && ok2 && t == f+1
}

// ClarificationQuestion is asked before planning when the mode requests it.
type ClarificationQuestion struct {
	ID       string `json:"id" yaml:"id"`
	Question string `json:"question" yaml:"question"`
}

// Clarification holds the questions and the user's answers.
type Clarification struct {
	Questions []ClarificationQuestion `json:"questions,omitempty" yaml:"questions,omitempty"`
	Answers   []string                `json:"answers,omitempty" yaml:"answers,omitempty"`
	Skipped   bool                    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// ResearchResult is the final output of a completed run.
type ResearchResult struct {
	Perspectives   []Perspective    `json:"perspectives" yaml:"perspectives"`
	Tree           *ExplorationTree `json:"tree,omitempty" yaml:"tree,omitempty"`
	Sources        []Source         `json:"sources" yaml:"sources"`
	DuplicateCount int              `json:"duplicateCount" yaml:"duplicate_count"`
	Synthesis      string           `json:"synthesis" yaml:"synthesis"`
}

// ResearchSession is owned by the user who created it and mutated only
// by the session manager.
type ResearchSession struct {
	ID            string          `json:"id" yaml:"id"`
	UserID        string          `json:"userId" yaml:"user_id"`
	Topic         string          `json:"topic" yaml:"topic"`
	Mode          Mode            `json:"mode" yaml:"mode"`
	Status        Status          `json:"status" yaml:"status"`
	Progress      int             `json:"progress" yaml:"progress"`
	Config        ResearchConfig  `json:"config" yaml:"config"`
	Clarification Clarification   `json:"clarification" yaml:"clarification"`
	Paused        bool            `json:"paused,omitempty" yaml:"paused,omitempty"`
	Error         string          `json:"error,omitempty" yaml:"error,omitempty"`
	Result        *ResearchResult `json:"result,omitempty" yaml:"result,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" yaml:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" yaml:"updated_at"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
}

// Clone returns a deep-enough copy for handing out of the manager: the
// caller may mutate scalar fields and slices without affecting the original.
func (s *ResearchSession) Clone() *ResearchSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Config.Sources = append([]string(nil), s.Config.Sources...)
	c.Config.ArticleTypes = append([]string(nil), s.Config.ArticleTypes...)
	c.Clarification.Questions = append([]ClarificationQuestion(nil), s.Clarification.Questions...)
	c.Clarification.Answers = append([]string(nil), s.Clarification.Answers...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Result != nil {
		r := *s.Result
		r.Perspectives = append([]Perspective(nil), s.Result.Perspectives...)
		r.Sources = append([]Source(nil), s.Result.Sources...)
		c.Result = &r
	}
	return &c
}

// Perspective is an expert viewpoint used to diversify search queries.
// Generated once per session and immutable afterwards.
type Perspective struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Queries     []string `json:"queries,omitempty" yaml:"queries,omitempty"`
}

// Progress carries the aggregate counters reported while researching.
// Every field is monotonically non-decreasing within one run.
type Progress struct {
	PerspectivesGenerated int `json:"perspectivesGenerated"`
	NodesExplored         int `json:"nodesExplored"`
	TotalNodes            int `json:"totalNodes"`
	SourcesFound          int `json:"sourcesFound"`
}
