package model

// ContentKind 内容类型判别字段。用显式类型替代裸字符串，
// 避免 "unknown kind" 这类运行时错误扩散到各层。
type ContentKind string

const (
	KindCourse     ContentKind = "course"
	KindLesson     ContentKind = "lesson"
	KindAssessment ContentKind = "assessment"
)

func (k ContentKind) Valid() bool {
	switch k {
	case KindCourse, KindLesson, KindAssessment:
		return true
	}
	return false
}

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// swagger:model Course
type Course struct {
	BaseModel
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Published   bool   `gorm:"default:false;index" json:"published"`
	CreatorID   uint   `gorm:"index;type:bigint unsigned" json:"creatorId"`
}

func (Course) TableName() string {
	return "courses"
}

// swagger:model Lesson
type Lesson struct {
	BaseModel
	CourseID      uint       `gorm:"index;not null;type:bigint unsigned" json:"courseId"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Objectives    string     `gorm:"type:text" json:"objectives"`
	Topic         string     `gorm:"size:100;index" json:"topic"`
	Published     bool       `gorm:"default:false" json:"published"`
	EstimatedTime int        `gorm:"default:0" json:"estimatedTime"` // 分钟
	Difficulty    Difficulty `gorm:"size:20;default:'beginner'" json:"difficulty"`
	OrderNum      int        `gorm:"default:0" json:"orderNum"`
	// 前置课时 ID 列表，声明顺序即检查顺序（阻塞项返回第一个未满足的）
	Prerequisites UintList `gorm:"serializer:json" json:"prerequisites"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// Assessment 测验。LessonID 为空表示课程结业测验。
// swagger:model Assessment
type Assessment struct {
	BaseModel
	CourseID     uint   `gorm:"index;not null;type:bigint unsigned" json:"courseId"`
	LessonID     *uint  `gorm:"index;type:bigint unsigned" json:"lessonId"`
	Title        string `gorm:"size:255;not null" json:"title"`
	Published    bool   `gorm:"default:false" json:"published"`
	IsMandatory  bool   `gorm:"default:false" json:"isMandatory"`
	MaxAttempts  int    `gorm:"default:0" json:"maxAttempts"` // 0 表示不限次数
	PassingScore int    `gorm:"default:60" json:"passingScore"`
	TimeLimit    int    `gorm:"default:0" json:"timeLimit"`
}

func (Assessment) TableName() string {
	return "assessments"
}

func (a *Assessment) IsFinal() bool {
	return a.LessonID == nil
}

// swagger:model AssessmentQuestion
type AssessmentQuestion struct {
	BaseModel
	AssessmentID uint   `gorm:"index;not null;type:bigint unsigned" json:"assessmentId"`
	Topic        string `gorm:"size:100;index" json:"topic"`
	Content      string `gorm:"type:text;not null" json:"content"`
	Answer       string `gorm:"size:255" json:"-"`
	Points       int    `gorm:"default:1" json:"points"`
	OrderNum     int    `gorm:"default:0" json:"orderNum"`
	Explanation  string `gorm:"type:text" json:"explanation"`
}

func (AssessmentQuestion) TableName() string {
	return "assessment_questions"
}

// UintList 以 JSON 存储的 ID 列表
type UintList []uint

func (l UintList) Contains(id uint) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}
