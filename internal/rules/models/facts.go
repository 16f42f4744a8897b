package models

import (
	"time"

	id "emblem/pkg/domain"
)

// FactSnapshot is caller-supplied external learning-system data evaluated
// against a rule version. The engine never fetches facts itself; the snapshot
// carries its own reference timestamp for auditability.
type FactSnapshot struct {
	ReferenceTime time.Time        `json:"referenceTime"`
	Grades        []GradeFact      `json:"grades,omitempty"`
	Completions   []CompletionFact `json:"completions,omitempty"`
	Submissions   []SubmissionFact `json:"submissions,omitempty"`
}

// GradeFact is one final grade row keyed by course and learner.
type GradeFact struct {
	CourseID   string       `json:"courseId"`
	LearnerID  id.LearnerID `json:"learnerId"`
	FinalScore float64      `json:"finalScore"`
}

// CompletionFact records that a learner completed a course.
type CompletionFact struct {
	CourseID    string       `json:"courseId"`
	LearnerID   id.LearnerID `json:"learnerId"`
	CompletedAt time.Time    `json:"completedAt"`
}

// SubmissionFact records one assignment submission.
type SubmissionFact struct {
	CourseID     string       `json:"courseId"`
	AssignmentID string       `json:"assignmentId"`
	LearnerID    id.LearnerID `json:"learnerId"`
	SubmittedAt  time.Time    `json:"submittedAt"`
}
