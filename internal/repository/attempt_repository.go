package repository

import (
	"edupath_backend/internal/model"

	"gorm.io/gorm"
)

// AttemptRepository 测验作答记录，只追加。
type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Create(a *model.AssessmentAttempt) error {
	return r.DB.Create(a).Error
}

func (r *AttemptRepository) FindByID(id uint) (*model.AssessmentAttempt, error) {
	var a model.AssessmentAttempt
	err := r.DB.Where("id = ?", id).First(&a).Error
	return &a, err
}

func (r *AttemptRepository) Count(studentID, assessmentID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.AssessmentAttempt{}).
		Where("student_id = ? AND assessment_id = ?", studentID, assessmentID).
		Count(&n).Error
	return n, err
}

// List 按 attempt_number 升序返回某学生在某测验的全部作答
func (r *AttemptRepository) List(studentID, assessmentID uint) ([]model.AssessmentAttempt, error) {
	var as []model.AssessmentAttempt
	err := r.DB.Where("student_id = ? AND assessment_id = ?", studentID, assessmentID).
		Order("attempt_number asc").Find(&as).Error
	return as, err
}

// HasPassed 最优成绩是否通过（仅看 passed 标志，不看是否作答过）
func (r *AttemptRepository) HasPassed(studentID, assessmentID uint) (bool, error) {
	var n int64
	err := r.DB.Model(&model.AssessmentAttempt{}).
		Where("student_id = ? AND assessment_id = ? AND passed = ?", studentID, assessmentID, true).
		Count(&n).Error
	return n > 0, err
}
