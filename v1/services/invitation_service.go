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

// invitationTTL is how long an invitation stays valid after it is issued.
const invitationTTL = 7 * 24 * time.Hour

// InvitationService issues and redeems single-use parent/counselor invitations.
type InvitationService struct {
	db *gorm.DB
}

// NewInvitationService creates a new invitation service
func NewInvitationService(db *gorm.DB) *InvitationService {
	return &InvitationService{db: db}
}

func validRelationship(relationship string) bool {
	return relationship == string(models.RoleParent) || relationship == string(models.RoleCounselor)
}

// IssueInvitation creates an invitation from a student to a parent or
// counselor email. At most one live invitation may exist per (email, student)
// pair.
func (s *InvitationService) IssueInvitation(ctx context.Context, studentID string, req *models.InviteRequest) (*models.InvitationToken, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrValidation)
	}
	if !validRelationship(req.Relationship) {
		return nil, fmt.Errorf("%w: relationship must be parent or counselor", models.ErrValidation)
	}

	var student models.User
	if err := s.db.WithContext(ctx).First(&student, "id = ?", studentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: student profile not found", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load student profile: %w", err)
	}

	now := time.Now()

	var live int64
	err := s.db.WithContext(ctx).
		Model(&models.InvitationToken{}).
		Where("email = ? AND student_id = ? AND used = ? AND expires_at > ?", req.Email, studentID, false, now).
		Count(&live).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check pending invitations: %w", err)
	}
	if live > 0 {
		return nil, fmt.Errorf("%w: a pending invitation already exists for %s", models.ErrConflict, req.Email)
	}

	invitation := models.InvitationToken{
		ID:           uuid.New().String(),
		Email:        req.Email,
		StudentID:    studentID,
		StudentName:  student.FullName,
		Relationship: req.Relationship,
		ExpiresAt:    now.Add(invitationTTL),
	}

	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	// Delivery is out of band for now, the token is returned to the caller.
	slog.Info("Issued invitation",
		"email", req.Email, "student_id", studentID, "expires_at", invitation.ExpiresAt)
	return &invitation, nil
}

// ValidateInvitation describes an invitation to the signup flow without
// consuming it. Unknown, used and expired tokens all report invalid.
func (s *InvitationService) ValidateInvitation(ctx context.Context, token string) (*models.ValidateInvitationResponse, error) {
	if token == "" {
		return &models.ValidateInvitationResponse{Valid: false}, nil
	}

	var invitation models.InvitationToken
	err := s.db.WithContext(ctx).First(&invitation, "id = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.ValidateInvitationResponse{Valid: false}, nil
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if invitation.Used || time.Now().After(invitation.ExpiresAt) {
		return &models.ValidateInvitationResponse{Valid: false}, nil
	}

	return &models.ValidateInvitationResponse{
		Valid:        true,
		Email:        invitation.Email,
		StudentName:  invitation.StudentName,
		Relationship: invitation.Relationship,
		ExpiresAt:    invitation.ExpiresAt,
	}, nil
}

// ConsumeInvitation redeems an invitation exactly once and records the link
// between the issuing student and the consuming account. The used flag is
// flipped with a conditional update so two concurrent redemptions cannot both
// win.
func (s *InvitationService) ConsumeInvitation(ctx context.Context, token, consumerID string) (*models.StudentLink, error) {
	if token == "" || consumerID == "" {
		return nil, fmt.Errorf("%w: token and user ID are required", models.ErrValidation)
	}

	var link *models.StudentLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitation models.InvitationToken
		if err := tx.First(&invitation, "id = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: invitation not found", models.ErrNotFound)
			}
			return fmt.Errorf("failed to load invitation: %w", err)
		}

		if time.Now().After(invitation.ExpiresAt) {
			return fmt.Errorf("%w: invitation has expired", models.ErrForbidden)
		}

		result := tx.Model(&models.InvitationToken{}).
			Where("id = ? AND used = ?", token, false).
			Updates(map[string]interface{}{"used": true, "used_by": consumerID})
		if result.Error != nil {
			return fmt.Errorf("failed to consume invitation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: invitation already used", models.ErrConflict)
		}

		newLink := models.StudentLink{
			ID:           uuid.New().String(),
			StudentID:    invitation.StudentID,
			LinkedUserID: consumerID,
			Relationship: invitation.Relationship,
		}
		if err := tx.Create(&newLink).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: link already exists", models.ErrConflict)
			}
			return fmt.Errorf("failed to create student link: %w", err)
		}

		link = &newLink
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Consumed invitation", "token", token, "consumer_id", consumerID)
	return link, nil
}

// ListLinksForStudent returns the accounts linked to a student.
func (s *InvitationService) ListLinksForStudent(ctx context.Context, studentID string) ([]models.StudentLink, error) {
	var links []models.StudentLink
	err := s.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links for student %s: %w", studentID, err)
	}
	return links, nil
}
