package model

import "time"

// ProgressStatus 学习进度状态机状态
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not_started"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
	StatusBlocked    ProgressStatus = "blocked"
	StatusFailed     ProgressStatus = "failed"
)

// ProgressRecord 每个 (学生, 内容) 至多一条，只增不删。
// Version 用于乐观锁：并发提交时 bestScore 不能丢失最大值。
type ProgressRecord struct {
	BaseModel
	StudentID     uint           `gorm:"uniqueIndex:idx_student_content;not null;type:bigint unsigned" json:"studentId"`
	ContentID     uint           `gorm:"uniqueIndex:idx_student_content;not null;type:bigint unsigned" json:"contentId"`
	ContentKind   ContentKind    `gorm:"uniqueIndex:idx_student_content;size:20;not null" json:"contentKind"`
	Status        ProgressStatus `gorm:"size:20;default:'not_started'" json:"status"`
	CompletionPct int            `gorm:"default:0" json:"completionPct"`
	BestScore     int            `gorm:"default:0" json:"bestScore"`
	TimeSpent     int            `gorm:"default:0" json:"timeSpent"` // 分钟
	LastAccessed  time.Time      `json:"lastAccessed"`
	Version       int64          `gorm:"default:0" json:"-"`
}

func (ProgressRecord) TableName() string {
	return "progress_records"
}

type QuestionAnswer struct {
	QuestionID uint   `json:"questionId"`
	Answer     string `json:"answer"`
	Correct    bool   `json:"correct"`
}

// AssessmentAttempt 测验作答记录，只追加。
// AttemptNumber 对每个 (学生, 测验) 严格递增，从 1 开始。
type AssessmentAttempt struct {
	BaseModel
	AssessmentID  uint             `gorm:"uniqueIndex:idx_attempt_no;not null;type:bigint unsigned" json:"assessmentId"`
	StudentID     uint             `gorm:"uniqueIndex:idx_attempt_no;not null;type:bigint unsigned" json:"studentId"`
	AttemptNumber int              `gorm:"uniqueIndex:idx_attempt_no;not null" json:"attemptNumber"`
	Answers       []QuestionAnswer `gorm:"serializer:json" json:"answers"`
	Score         int              `gorm:"default:0" json:"score"`
	Passed        bool             `gorm:"default:false" json:"passed"`
	SubmittedAt   time.Time        `json:"submittedAt"`
}

func (AssessmentAttempt) TableName() string {
	return "assessment_attempts"
}

type Enrollment struct {
	BaseModel
	StudentID uint `gorm:"uniqueIndex:idx_enrollment;not null;type:bigint unsigned" json:"studentId"`
	CourseID  uint `gorm:"uniqueIndex:idx_enrollment;not null;type:bigint unsigned" json:"courseId"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
