package visibility

import (
	"github.com/victornm/coursequiz/internal/domain"
)

type rule struct {
	grant domain.Grant
	match func(v domain.Viewer, l domain.LessonContext) bool
}

// rules are evaluated in order, the first match grants full access.
var rules = []rule{
	{
		grant: domain.GrantAdmin,
		match: func(v domain.Viewer, _ domain.LessonContext) bool {
			return v.Role == domain.RoleAdmin
		},
	},
	{
		grant: domain.GrantOwner,
		match: func(v domain.Viewer, l domain.LessonContext) bool {
			return v.Role == domain.RoleInstructor && v.Owns(l.CourseID)
		},
	},
	{
		grant: domain.GrantEnrolled,
		match: func(v domain.Viewer, l domain.LessonContext) bool {
			return v.UserID != "" && v.EnrolledIn(l.CourseID)
		},
	},
	{
		grant: domain.GrantFree,
		match: func(_ domain.Viewer, l domain.LessonContext) bool {
			return l.IsFree
		},
	},
}

// Resolve returns the access verdict of a viewer for a lesson.
// It is a pure function of its inputs and does no I/O.
func Resolve(v domain.Viewer, l domain.LessonContext) domain.Verdict {
	for _, r := range rules {
		if r.match(v, l) {
			return domain.Verdict{Access: domain.AccessFull, Grant: r.grant}
		}
	}

	return domain.Verdict{Access: domain.AccessPreviewLocked, Grant: domain.GrantNone}
}

// ResolveAll resolves every lesson with the same viewer, preserving order.
func ResolveAll(v domain.Viewer, ls []domain.LessonContext) []domain.Verdict {
	out := make([]domain.Verdict, 0, len(ls))
	for _, l := range ls {
		out = append(out, Resolve(v, l))
	}
	return out
}
