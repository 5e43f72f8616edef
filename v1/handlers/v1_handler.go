package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/admitpath/portal-backend/idp"
	sharedutils "github.com/admitpath/portal-backend/shared/utils"
	"github.com/admitpath/portal-backend/v1/middleware"
	"github.com/admitpath/portal-backend/v1/models"
	"github.com/admitpath/portal-backend/v1/services"
	"github.com/admitpath/portal-backend/v1/utils"
)

// V1Handler handles all V1 API routes
type V1Handler struct {
	userService       *services.UserService
	assignmentService *services.AssignmentService
	invitationService *services.InvitationService
	breakGlassService *services.BreakGlassService
	authz             *middleware.AuthorizationMiddleware
}

// NewV1Handler creates a new V1 handler
func NewV1Handler(db *gorm.DB, provider idp.IdentityProvider) *V1Handler {
	assignmentService := services.NewAssignmentService(db)
	return &V1Handler{
		userService:       services.NewUserService(db, provider),
		assignmentService: assignmentService,
		invitationService: services.NewInvitationService(db),
		breakGlassService: services.NewBreakGlassService(db, provider),
		authz:             middleware.NewAuthorizationMiddleware(assignmentService),
	}
}

// UserService exposes the user service for middleware wiring
func (h *V1Handler) UserService() *services.UserService {
	return h.userService
}

// SetupV1Routes configures all V1 API routes
func (h *V1Handler) SetupV1Routes(mux *http.ServeMux) {
	recovery := sharedutils.PanicRecoveryMiddleware

	// Auth and profile routes
	mux.Handle("/api/v1/auth/", recovery(http.HandlerFunc(h.handleAuth)))
	mux.Handle("/api/v1/profile", recovery(http.HandlerFunc(h.handleProfile)))

	// Invitation routes: students invite their parents and counselors
	mux.Handle("/api/v1/invitations", recovery(h.authz.RequireAnyRole(
		models.RoleStudent,
	)(http.HandlerFunc(h.issueInvitation))))
	mux.Handle("/api/v1/invitations/", recovery(http.HandlerFunc(h.handleInvitations)))

	// Coach routes
	mux.Handle("/api/v1/coach/students", recovery(h.authz.RequireAnyRole(
		models.RoleCoach, models.RoleSuperAdmin,
	)(http.HandlerFunc(h.listCoachStudents))))
	mux.Handle("/api/v1/coach/students/", recovery(h.authz.RequireAnyRole(
		models.RoleCoach, models.RoleSuperAdmin,
	)(http.HandlerFunc(h.handleCoachStudent))))

	// Super admin routes
	mux.Handle("/api/v1/admin/assignments", recovery(h.authz.RequireSuperAdmin()(
		http.HandlerFunc(h.handleAssignmentCollection))))
	mux.Handle("/api/v1/admin/assignments/", recovery(h.authz.RequireSuperAdmin()(
		http.HandlerFunc(h.handleAssignment))))
	mux.Handle("/api/v1/admin/break-glass-audit", recovery(h.authz.RequireSuperAdmin()(
		http.HandlerFunc(h.listBreakGlassAudit))))

	// Break-glass routes, authenticated by the break-glass token itself
	mux.Handle("/api/v1/break-glass/", recovery(http.HandlerFunc(h.handleBreakGlass)))
}

// handleAuth handles auth-related routes
func (h *V1Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/auth")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 1 || parts[0] == "" {
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	switch parts[0] {
	case "signup":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.signup(w, r)
	case "me":
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.getCurrentUser(w, r)
	case "switch-role":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.switchRole(w, r)
	case "add-role":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.addRole(w, r)
	case "verify-super-admin":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.verifySuperAdmin(w, r)
	case "signout":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.signOut(w, r)
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
	}
}

// signup creates a new account and provisions its profile
func (h *V1Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userService.Signup(r.Context(), &req)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	// A signup arriving through an invitation claims it and links the new
	// account to the inviting student.
	if req.Invitation != "" {
		if _, err := h.invitationService.ConsumeInvitation(r.Context(), req.Invitation, user.ID); err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
	}

	utils.RespondWithSuccess(w, http.StatusCreated, user)
}

// getCurrentUser returns the resolved user for the request
func (h *V1Handler) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, user)
}

// switchRole changes the caller's active role
func (h *V1Handler) switchRole(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.SwitchRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.userService.SwitchRole(r.Context(), user.ID, req.Role)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, updated)
}

// addRole grants the caller an additional role
func (h *V1Handler) addRole(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.AddRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.userService.AddRole(r.Context(), user.ID, &req)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, updated)
}

// verifySuperAdmin checks the caller's own super admin membership
func (h *V1Handler) verifySuperAdmin(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.VerifySuperAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = user.ID
	}

	isSuperAdmin, err := h.userService.VerifySuperAdmin(r.Context(), user.ID, req.UserID)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, models.VerifySuperAdminResponse{HasAccess: isSuperAdmin})
}

// signOut revokes the caller's identity provider sessions
func (h *V1Handler) signOut(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.userService.SignOut(r.Context(), user.ID); err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, models.ActionResponse{Success: true, Message: "Signed out"})
}

// handleProfile handles the caller's profile
func (h *V1Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, err := h.userService.GetProfile(r.Context(), user.ID)
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, profile)
	case http.MethodPut:
		var req models.UpdateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		profile, err := h.userService.UpdateProfile(r.Context(), user.ID, &req)
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, profile)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// issueInvitation creates a parent/counselor invitation for the calling student
func (h *V1Handler) issueInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	invitation, err := h.invitationService.IssueInvitation(r.Context(), user.ID, &req)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusCreated, invitation)
}

// handleInvitations handles invitation validation and consumption
func (h *V1Handler) handleInvitations(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/invitations")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	// GET /api/v1/invitations/validate/:token
	if len(parts) == 2 && parts[0] == "validate" {
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		resp, err := h.invitationService.ValidateInvitation(r.Context(), parts[1])
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, resp)
		return
	}

	// POST /api/v1/invitations/consume
	if len(parts) == 1 && parts[0] == "consume" {
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.consumeInvitation(w, r)
		return
	}

	utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
}

// consumeInvitation redeems an invitation for the authenticated user
func (h *V1Handler) consumeInvitation(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, err := h.invitationService.ConsumeInvitation(r.Context(), req.Token, user.ID)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, link)
}

// listCoachStudents returns the students assigned to the calling coach
func (h *V1Handler) listCoachStudents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	students, err := h.assignmentService.ListStudentsForCoach(r.Context(), user.ID)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse[models.User]{
		Items: students,
		Count: len(students),
	})
}

// handleCoachStudent handles access to a single assigned student
func (h *V1Handler) handleCoachStudent(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/coach/students")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 1 || parts[0] == "" {
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	studentID := parts[0]
	allowed, err := h.authz.CheckStudentAccess(r.Context(), user, studentID)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	if !allowed {
		utils.RespondWithError(w, http.StatusForbidden, "No active assignment to this student")
		return
	}

	student, err := h.userService.GetProfile(r.Context(), studentID)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, student)
}

// handleAssignmentCollection handles assignment creation and listing
func (h *V1Handler) handleAssignmentCollection(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		assignments, err := h.assignmentService.ListAssignments(r.Context())
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse[models.AssignmentView]{
			Items: assignments,
			Count: len(assignments),
		})
	case http.MethodPost:
		var req models.AssignmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		assignment, err := h.assignmentService.CreateAssignment(r.Context(), user.ID, &req)
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusCreated, assignment)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAssignment handles bulk creation and single-assignment updates
func (h *V1Handler) handleAssignment(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/assignments")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 1 || parts[0] == "" {
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	// POST /api/v1/admin/assignments/bulk
	if parts[0] == "bulk" {
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.bulkCreateAssignments(w, r)
		return
	}

	assignmentID := parts[0]
	switch r.Method {
	case http.MethodPut:
		var req models.UpdateAssignmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		assignment, err := h.assignmentService.UpdateAssignment(r.Context(), assignmentID, &req)
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, assignment)
	case http.MethodDelete:
		if err := h.assignmentService.DeactivateAssignment(r.Context(), assignmentID); err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, models.ActionResponse{Success: true, Message: "Assignment deactivated"})
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// bulkCreateAssignments assigns several students to one coach
func (h *V1Handler) bulkCreateAssignments(w http.ResponseWriter, r *http.Request) {
	user, err := utils.RequireCurrentUser(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.BulkAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.assignmentService.BulkCreateAssignments(r.Context(), user.ID, &req)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, resp)
}

// listBreakGlassAudit returns the break-glass audit trail
func (h *V1Handler) listBreakGlassAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	records, err := h.breakGlassService.ListAudit(r.Context())
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse[models.BreakGlassAudit]{
		Items: records,
		Count: len(records),
	})
}

// handleBreakGlass handles emergency admin operations
func (h *V1Handler) handleBreakGlass(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/break-glass")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 1 {
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	switch parts[0] {
	case "token":
		var req models.BreakGlassRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.RequestIP = utils.GetRequestIP(r)
		resp, err := h.breakGlassService.IssueToken(r.Context(), &req)
		if err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, resp)
	case "force-role-switch":
		var req models.ForceRoleSwitchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := h.breakGlassService.ForceRoleSwitch(r.Context(), &req); err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, models.ActionResponse{Success: true, Message: "Role switched"})
	case "reset-password":
		var req models.ResetPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := h.breakGlassService.ResetPassword(r.Context(), &req); err != nil {
			utils.RespondWithServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, models.ActionResponse{Success: true, Message: "Password reset"})
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
	}
}
