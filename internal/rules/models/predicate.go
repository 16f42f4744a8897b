package models

import (
	dErrors "emblem/pkg/domain-errors"
)

// PredicateKind discriminates the closed predicate variant set. Adding a kind
// means adding a case to Validate and to the evaluator, nowhere else.
type PredicateKind string

const (
	PredicateGradeThreshold    PredicateKind = "grade_threshold"
	PredicateCourseCompletion  PredicateKind = "course_completion"
	PredicateSubmissionPresent PredicateKind = "submission_present"
	PredicateAllOf             PredicateKind = "all_of"
	PredicateAnyOf             PredicateKind = "any_of"
)

// Predicate is one node of a rule's declarative predicate tree. Which fields
// are meaningful depends on Kind; Validate enforces the shape.
type Predicate struct {
	Kind         PredicateKind `json:"kind"`
	CourseID     string        `json:"courseId,omitempty"`
	AssignmentID string        `json:"assignmentId,omitempty"`
	MinScore     float64       `json:"minScore,omitempty"`
	Children     []Predicate   `json:"children,omitempty"`
}

// Validate checks the predicate tree shape before a version is created.
// Malformed definitions are rejected before any side effect.
func (p Predicate) Validate() error {
	switch p.Kind {
	case PredicateGradeThreshold:
		if p.CourseID == "" {
			return dErrors.New(dErrors.CodeValidation, "grade_threshold predicate requires a course ID")
		}
		if p.MinScore < 0 {
			return dErrors.New(dErrors.CodeValidation, "grade_threshold minimum score must be non-negative")
		}
	case PredicateCourseCompletion:
		if p.CourseID == "" {
			return dErrors.New(dErrors.CodeValidation, "course_completion predicate requires a course ID")
		}
	case PredicateSubmissionPresent:
		if p.CourseID == "" || p.AssignmentID == "" {
			return dErrors.New(dErrors.CodeValidation, "submission_present predicate requires course and assignment IDs")
		}
	case PredicateAllOf, PredicateAnyOf:
		if len(p.Children) == 0 {
			return dErrors.New(dErrors.CodeValidation, string(p.Kind)+" predicate requires at least one child")
		}
		for _, child := range p.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown predicate kind "+string(p.Kind))
	}
	return nil
}
