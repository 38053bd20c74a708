package util

import "errors"

var (
	ErrUserNotFound           = errors.New("用户不存在")
	ErrEmailRegistered        = errors.New("该邮箱已被注册")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrCourseNotFound         = errors.New("course not found")
	ErrLessonNotFound         = errors.New("lesson not found")
	ErrAssessmentNotFound     = errors.New("assessment not found")
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrRoadmapNotFound        = errors.New("no active roadmap for student")
	ErrUnknownContentKind     = errors.New("unknown content kind")
	ErrInvalidStateTransition = errors.New("invalid progress state transition")
	ErrPersistenceConflict    = errors.New("progress record modified concurrently, retry exhausted")
	ErrGenerationUnavailable  = errors.New("path generation service unavailable")
)
