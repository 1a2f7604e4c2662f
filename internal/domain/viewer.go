package domain

type Role string

const (
	RoleGuest      Role = "guest"
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Viewer is the identity a visibility decision is made for.
// A guest has an empty UserID.
type Viewer struct {
	UserID            string
	Role              Role
	OwnedCourseIDs    map[string]struct{}
	EnrolledCourseIDs map[string]struct{}
}

// Guest returns the anonymous viewer.
func Guest() Viewer {
	return Viewer{Role: RoleGuest}
}

func (v Viewer) Owns(courseID string) bool {
	_, ok := v.OwnedCourseIDs[courseID]
	return ok
}

func (v Viewer) EnrolledIn(courseID string) bool {
	_, ok := v.EnrolledCourseIDs[courseID]
	return ok
}

// Access is the visibility verdict for a (viewer, lesson) pair.
type Access string

const (
	AccessFull          Access = "full"
	AccessPreviewLocked Access = "preview_locked"
)

// Grant names the rule that produced a verdict.
type Grant string

const (
	GrantAdmin    Grant = "admin"
	GrantOwner    Grant = "owner"
	GrantEnrolled Grant = "enrolled"
	GrantFree     Grant = "free"
	GrantNone     Grant = "none"
)

type Verdict struct {
	Access Access
	Grant  Grant
}

func (v Verdict) Full() bool {
	return v.Access == AccessFull
}
