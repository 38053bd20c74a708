package repository

import (
	"edupath_backend/internal/model"
	"errors"

	"gorm.io/gorm"
)

type EnrollmentRepository struct {
	DB *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: db}
}

func (r *EnrollmentRepository) IsEnrolled(studentID, courseID uint) (bool, error) {
	var e model.Enrollment
	err := r.DB.Where("student_id = ? AND course_id = ?", studentID, courseID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *EnrollmentRepository) Enroll(studentID, courseID uint) error {
	enrolled, err := r.IsEnrolled(studentID, courseID)
	if err != nil {
		return err
	}
	if enrolled {
		return nil
	}
	return r.DB.Create(&model.Enrollment{StudentID: studentID, CourseID: courseID}).Error
}

func (r *EnrollmentRepository) ListByStudent(studentID uint) ([]model.Enrollment, error) {
	var es []model.Enrollment
	err := r.DB.Where("student_id = ?", studentID).Find(&es).Error
	return es, err
}
