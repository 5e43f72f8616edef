package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/admitpath/portal-backend/v1/models"
)

// AssignmentService manages coach-student assignments.
type AssignmentService struct {
	db *gorm.DB
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(db *gorm.DB) *AssignmentService {
	return &AssignmentService{db: db}
}

// CreateAssignment links a coach to a student. Both accounts must exist and
// hold the matching role. A duplicate pair is a conflict, enforced by the
// unique index so two concurrent requests cannot both succeed.
func (s *AssignmentService) CreateAssignment(ctx context.Context, assignedBy string, req *models.AssignmentRequest) (*models.CoachStudentAssignment, error) {
	if req.CoachID == "" || req.StudentID == "" {
		return nil, fmt.Errorf("%w: coachId and studentId are required", models.ErrValidation)
	}

	if err := s.checkRoleMembership(ctx, req.CoachID, models.RoleCoach); err != nil {
		return nil, err
	}
	if err := s.checkRoleMembership(ctx, req.StudentID, models.RoleStudent); err != nil {
		return nil, err
	}

	assignment := models.CoachStudentAssignment{
		ID:         uuid.New().String(),
		CoachID:    req.CoachID,
		StudentID:  req.StudentID,
		AssignedBy: assignedBy,
		AssignedAt: time.Now(),
		IsActive:   true,
		Notes:      req.Notes,
	}

	if err := s.db.WithContext(ctx).Create(&assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: coach %s is already assigned to student %s",
				models.ErrConflict, req.CoachID, req.StudentID)
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	slog.Info("Created coach-student assignment",
		"coach_id", req.CoachID, "student_id", req.StudentID, "assigned_by", assignedBy)
	return &assignment, nil
}

// BulkCreateAssignments assigns several students to one coach in a single
// call. Pairs that already exist, and repeats within the batch, are counted
// as duplicates rather than failing the whole request.
func (s *AssignmentService) BulkCreateAssignments(ctx context.Context, assignedBy string, req *models.BulkAssignmentRequest) (*models.BulkAssignmentResponse, error) {
	if req.CoachID == "" || len(req.StudentIDs) == 0 {
		return nil, fmt.Errorf("%w: coachId and at least one studentId are required", models.ErrValidation)
	}

	if err := s.checkRoleMembership(ctx, req.CoachID, models.RoleCoach); err != nil {
		return nil, err
	}

	resp := &models.BulkAssignmentResponse{}
	seen := make(map[string]bool, len(req.StudentIDs))

	for _, studentID := range req.StudentIDs {
		if studentID == "" {
			return nil, fmt.Errorf("%w: studentIds must not contain empty values", models.ErrValidation)
		}
		if seen[studentID] {
			resp.Duplicates++
			continue
		}
		seen[studentID] = true

		if err := s.checkRoleMembership(ctx, studentID, models.RoleStudent); err != nil {
			return nil, err
		}

		assignment := models.CoachStudentAssignment{
			ID:         uuid.New().String(),
			CoachID:    req.CoachID,
			StudentID:  studentID,
			AssignedBy: assignedBy,
			AssignedAt: time.Now(),
			IsActive:   true,
			Notes:      req.Notes,
		}

		err := s.db.WithContext(ctx).Create(&assignment).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				resp.Duplicates++
				continue
			}
			return nil, fmt.Errorf("failed to assign student %s: %w", studentID, err)
		}
		resp.Created++
	}

	slog.Info("Bulk assigned students to coach",
		"coach_id", req.CoachID, "created", resp.Created, "duplicates", resp.Duplicates)
	return resp, nil
}

// ListAssignments returns all assignments with coach and student names.
func (s *AssignmentService) ListAssignments(ctx context.Context) ([]models.AssignmentView, error) {
	var assignments []models.CoachStudentAssignment
	if err := s.db.WithContext(ctx).
		Order("assigned_at DESC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	return s.attachNames(ctx, assignments)
}

// ListStudentsForCoach returns the students actively assigned to a coach.
func (s *AssignmentService) ListStudentsForCoach(ctx context.Context, coachID string) ([]models.User, error) {
	var students []models.User
	err := s.db.WithContext(ctx).
		Joins("JOIN coach_student_assignments a ON a.student_id = users.id").
		Where("a.coach_id = ? AND a.is_active = ?", coachID, true).
		Order("users.full_name ASC").
		Find(&students).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list students for coach %s: %w", coachID, err)
	}
	return students, nil
}

// UpdateAssignment edits an assignment's notes or active flag.
func (s *AssignmentService) UpdateAssignment(ctx context.Context, assignmentID string, req *models.UpdateAssignmentRequest) (*models.CoachStudentAssignment, error) {
	var assignment models.CoachStudentAssignment
	if err := s.db.WithContext(ctx).First(&assignment, "id = ?", assignmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: assignment %s", models.ErrNotFound, assignmentID)
		}
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	updates := map[string]interface{}{}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).
			Model(&assignment).
			Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update assignment: %w", err)
		}
	}

	return &assignment, nil
}

// DeactivateAssignment revokes an assignment by clearing its active flag.
// The row is kept for history.
func (s *AssignmentService) DeactivateAssignment(ctx context.Context, assignmentID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.CoachStudentAssignment{}).
		Where("id = ?", assignmentID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: assignment %s", models.ErrNotFound, assignmentID)
	}

	slog.Info("Deactivated assignment", "assignment_id", assignmentID)
	return nil
}

// HasActiveAssignment reports whether the coach has an active assignment to
// the student.
func (s *AssignmentService) HasActiveAssignment(ctx context.Context, coachID, studentID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.CoachStudentAssignment{}).
		Where("coach_id = ? AND student_id = ? AND is_active = ?", coachID, studentID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check assignment: %w", err)
	}
	return count > 0, nil
}

// checkRoleMembership verifies the user exists and holds an active
// membership for the role.
func (s *AssignmentService) checkRoleMembership(ctx context.Context, userID string, role models.Role) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UserRole{}).
		Where("user_id = ? AND role = ? AND is_active = ?", userID, role, true).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check %s membership: %w", role, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: user %s has no active %s membership", models.ErrValidation, userID, role)
	}
	return nil
}

// attachNames joins coach and student display names onto assignments.
func (s *AssignmentService) attachNames(ctx context.Context, assignments []models.CoachStudentAssignment) ([]models.AssignmentView, error) {
	ids := make([]string, 0, len(assignments)*2)
	for _, a := range assignments {
		ids = append(ids, a.CoachID, a.StudentID)
	}

	names := make(map[string]string, len(ids))
	if len(ids) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).
			Select("id", "full_name").
			Where("id IN ?", ids).
			Find(&users).Error; err != nil {
			return nil, fmt.Errorf("failed to load user names: %w", err)
		}
		for _, u := range users {
			names[u.ID] = u.FullName
		}
	}

	views := make([]models.AssignmentView, 0, len(assignments))
	for _, a := range assignments {
		views = append(views, models.AssignmentView{
			CoachStudentAssignment: a,
			CoachName:              names[a.CoachID],
			StudentName:            names[a.StudentID],
		})
	}
	return views, nil
}
