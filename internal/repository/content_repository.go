package repository

import (
	"edupath_backend/internal/model"

	"gorm.io/gorm"
)

// ContentRepository 课程/课时/测验的只读图视图 + 教师端维护接口。
// 前置关系存在 Lesson.Prerequisites 里，由服务层做图遍历。
type ContentRepository struct {
	DB *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{DB: db}
}

func (r *ContentRepository) FindCourseByID(id uint) (*model.Course, error) {
	var c model.Course
	err := r.DB.Where("id = ?", id).First(&c).Error
	return &c, err
}

func (r *ContentRepository) ListCourses(page, limit int) ([]model.Course, int64, error) {
	var cs []model.Course
	var total int64
	if err := r.DB.Model(&model.Course{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := r.DB.Order("created_at desc").Offset(offset).Limit(limit).Find(&cs).Error
	return cs, total, err
}

func (r *ContentRepository) CreateCourse(c *model.Course) error {
	return r.DB.Create(c).Error
}

func (r *ContentRepository) UpdateCourse(c *model.Course) error {
	return r.DB.Save(c).Error
}

func (r *ContentRepository) FindLessonByID(id uint) (*model.Lesson, error) {
	var l model.Lesson
	err := r.DB.Where("id = ?", id).First(&l).Error
	return &l, err
}

// ListLessonsByCourse 返回单个课程的课时，按声明顺序。
// 级联计算的范围被限定在一个课程内，不会扫全目录。
func (r *ContentRepository) ListLessonsByCourse(courseID uint) ([]model.Lesson, error) {
	var ls []model.Lesson
	err := r.DB.Where("course_id = ?", courseID).Order("order_num asc, id asc").Find(&ls).Error
	return ls, err
}

// FindPublishedLessonByTopic 按主题找一条已发布课时，用于补救项回链
func (r *ContentRepository) FindPublishedLessonByTopic(topic string) (*model.Lesson, error) {
	var l model.Lesson
	err := r.DB.Where("topic = ? AND published = ?", topic, true).
		Order("id asc").First(&l).Error
	return &l, err
}

func (r *ContentRepository) CreateLesson(l *model.Lesson) error {
	return r.DB.Create(l).Error
}

func (r *ContentRepository) UpdateLesson(l *model.Lesson) error {
	return r.DB.Save(l).Error
}

func (r *ContentRepository) FindAssessmentByID(id uint) (*model.Assessment, error) {
	var a model.Assessment
	err := r.DB.Where("id = ?", id).First(&a).Error
	return &a, err
}

// FindAssessmentByLesson 课时绑定的测验（没有则返回 gorm.ErrRecordNotFound）
func (r *ContentRepository) FindAssessmentByLesson(lessonID uint) (*model.Assessment, error) {
	var a model.Assessment
	err := r.DB.Where("lesson_id = ?", lessonID).First(&a).Error
	return &a, err
}

func (r *ContentRepository) ListAssessmentsByCourse(courseID uint) ([]model.Assessment, error) {
	var as []model.Assessment
	err := r.DB.Where("course_id = ?", courseID).Order("id asc").Find(&as).Error
	return as, err
}

func (r *ContentRepository) CreateAssessment(a *model.Assessment) error {
	return r.DB.Create(a).Error
}

func (r *ContentRepository) UpdateAssessment(a *model.Assessment) error {
	return r.DB.Save(a).Error
}

func (r *ContentRepository) ListQuestions(assessmentID uint) ([]model.AssessmentQuestion, error) {
	var qs []model.AssessmentQuestion
	err := r.DB.Where("assessment_id = ?", assessmentID).Order("order_num asc, id asc").Find(&qs).Error
	return qs, err
}

func (r *ContentRepository) CreateQuestion(q *model.AssessmentQuestion) error {
	return r.DB.Create(q).Error
}

func (r *ContentRepository) DeleteQuestion(id uint) error {
	return r.DB.Where("id = ?", id).Delete(&model.AssessmentQuestion{}).Error
}
