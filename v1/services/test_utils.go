package services

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/admitpath/portal-backend/v1/models"
)

// SetupSQLiteTestDB creates an in-memory SQLite database for testing
func SetupSQLiteTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to SQLite test database: %v", err)
	}

	// Each pool connection to :memory: would open its own database, so
	// pin the pool to a single shared connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to access SQLite connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Auto-migrate all models
	err = db.AutoMigrate(
		&models.User{},
		&models.UserRole{},
		&models.CoachProfile{},
		&models.StudentProfile{},
		&models.CoachStudentAssignment{},
		&models.InvitationToken{},
		&models.StudentLink{},
		&models.BreakGlassToken{},
		&models.BreakGlassAudit{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	CleanupTestData(t, db)

	return db
}

// CleanupTestData removes all test data from the database
// Exported for use in handler tests
func CleanupTestData(t *testing.T, db *gorm.DB) {
	// Delete in reverse order of dependencies
	tables := []string{
		"break_glass_audit",
		"break_glass_tokens",
		"student_links",
		"invitation_tokens",
		"coach_student_assignments",
		"coach_profiles",
		"student_profiles",
		"user_roles",
		"users",
	}
	for _, table := range tables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Logf("Warning: failed to cleanup %s: %v", table, err)
		}
	}
}
