package service

import (
	"emblem/internal/rules/models"
	id "emblem/pkg/domain"
)

// matchPredicate evaluates one predicate node against the fact snapshot for a
// learner. The tree is evaluated strictly: a missing fact is a non-match,
// never an error.
func matchPredicate(p models.Predicate, learnerID id.LearnerID, facts models.FactSnapshot) bool {
	switch p.Kind {
	case models.PredicateGradeThreshold:
		for _, grade := range facts.Grades {
			if grade.CourseID == p.CourseID && grade.LearnerID == learnerID && grade.FinalScore >= p.MinScore {
				return true
			}
		}
		return false
	case models.PredicateCourseCompletion:
		for _, completion := range facts.Completions {
			if completion.CourseID == p.CourseID && completion.LearnerID == learnerID {
				return true
			}
		}
		return false
	case models.PredicateSubmissionPresent:
		for _, submission := range facts.Submissions {
			if submission.CourseID == p.CourseID && submission.AssignmentID == p.AssignmentID && submission.LearnerID == learnerID {
				return true
			}
		}
		return false
	case models.PredicateAllOf:
		for _, child := range p.Children {
			if !matchPredicate(child, learnerID, facts) {
				return false
			}
		}
		return true
	case models.PredicateAnyOf:
		for _, child := range p.Children {
			if matchPredicate(child, learnerID, facts) {
				return true
			}
		}
		return false
	default:
		// Validate rejects unknown kinds at version creation.
		return false
	}
}
