package enrollment

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service reads who is enrolled in, or owns, which courses.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// GetViewer returns the role and course relationships of a user.
// An empty user ID is the guest viewer.
func (s *Service) GetViewer(ctx context.Context, userID string) (domain.Viewer, error) {
	if userID == "" {
		return domain.Guest(), nil
	}

	const (
		roleStmt     = `SELECT role FROM users WHERE user_id = $1;`
		ownedStmt    = `SELECT course_id FROM courses WHERE owner_instructor_id = $1;`
		enrolledStmt = `SELECT course_id FROM enrollments WHERE user_id = $1;`
	)

	b := &pgx.Batch{}
	b.Queue(roleStmt, userID)
	b.Queue(ownedStmt, userID)
	b.Queue(enrolledStmt, userID)

	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	v := domain.Viewer{UserID: userID}
	var role string
	err := br.QueryRow().Scan(&role)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Viewer{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("unknown user: user=%s", userID))
	}
	if err != nil {
		return domain.Viewer{}, fmt.Errorf("enrollment: get role %s: %w", userID, err)
	}
	v.Role = domain.Role(role)

	if v.OwnedCourseIDs, err = collectIDs(br); err != nil {
		return domain.Viewer{}, fmt.Errorf("enrollment: owned courses %s: %w", userID, err)
	}

	if v.EnrolledCourseIDs, err = collectIDs(br); err != nil {
		return domain.Viewer{}, fmt.Errorf("enrollment: enrolled courses %s: %w", userID, err)
	}

	return v, nil
}

func collectIDs(br pgx.BatchResults) (map[string]struct{}, error) {
	rows, err := br.Query()
	if err != nil {
		return nil, err
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m, nil
}
