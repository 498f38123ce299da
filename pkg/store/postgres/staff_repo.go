package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/auraflow/auraflow/pkg/model"
)

// StaffRepository projects the host system's users table for auto-assignment.
// The core never writes users; the pending-task count rides along so the
// manager can balance load without a second query per candidate.
type StaffRepository struct {
	db *gorm.DB
}

func NewStaffRepository(db *gorm.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

func (r *StaffRepository) ListStaff(ctx context.Context, clinicID string) ([]model.Staff, error) {
	var staff []model.Staff
	err := r.db.WithContext(ctx).Raw(`
		SELECT u.id, u.full_name, u.role,
		       COUNT(t.id) FILTER (WHERE t.status = 'pending') AS pending_tasks
		FROM users u
		LEFT JOIN task_queue t ON t.assigned_to = u.id
		WHERE u.clinic_id = ? AND u.active
		  AND u.role IN ('sales_staff', 'beautician', 'reception', 'clinic_owner')
		GROUP BY u.id, u.full_name, u.role
		ORDER BY u.id
	`, clinicID).Scan(&staff).Error
	return staff, err
}
