package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

// 访问检查的拒绝原因码
const (
	ReasonNotPublished     = "not_published"
	ReasonNotEnrolled      = "not_enrolled"
	ReasonPrerequisite     = "prerequisite_not_met"
	ReasonLessonIncomplete = "lesson_not_completed"
	ReasonAttemptLimit     = "attempt_limit_exceeded"
	ReasonBlocked          = "blocked_by_admin"
)

// 补救项的固定参数（生成服务不可用时的兜底规则）
const (
	RemedialEstimatedTime = 30
)
