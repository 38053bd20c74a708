package service

import (
	"context"
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/internal/util"
	"edupath_backend/pkg/logger"
	"edupath_backend/pkg/monitoring"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PrerequisiteStatus 单个前置项的满足情况
type PrerequisiteStatus struct {
	LessonID         uint                 `json:"lessonId"`
	Title            string               `json:"title"`
	Status           model.ProgressStatus `json:"status"`
	AssessmentPassed *bool                `json:"assessmentPassed,omitempty"` // nil 表示无绑定测验
	Met              bool                 `json:"met"`
}

// AccessResult 访问判定结果。拒绝是预期业务结果，不是错误：
// 原因和阻塞项都带在结构里返回给调用方。
type AccessResult struct {
	CanAccess            bool                 `json:"canAccess"`
	ReasonCode           string               `json:"reasonCode,omitempty"`
	Reason               string               `json:"reason,omitempty"`
	BlockedBy            *uint                `json:"blockedBy,omitempty"`
	PrerequisiteStatuses []PrerequisiteStatus `json:"prerequisiteStatuses,omitempty"`
}

func allowed() *AccessResult {
	return &AccessResult{CanAccess: true}
}

func denied(code, reason string) *AccessResult {
	return &AccessResult{CanAccess: false, ReasonCode: code, Reason: reason}
}

// ProgressUpdate 一次进度更新请求
type ProgressUpdate struct {
	StudentID      uint              `json:"studentId"`
	ContentID      uint              `json:"contentId"`
	Kind           model.ContentKind `json:"kind"`
	CompletionPct  *int              `json:"completionPct"`
	TimeSpentDelta int               `json:"timeSpentDelta"`
	Score          *int              `json:"score"`
	MarkComplete   bool              `json:"markComplete"`

	markFailed bool // 仅由测验提交流程在次数耗尽时设置
}

// ProgressionService 进度控制核心：访问判定、状态机流转、
// 进度落库和解锁级联的入口。
type ProgressionService struct {
	Content    *repository.ContentRepository
	Enrollment *repository.EnrollmentRepository
	Progress   *repository.ProgressRepository
	Attempt    *repository.AttemptRepository
	Unlock     *UnlockService
	Redis      *redis.Client
}

func NewProgressionService(
	content *repository.ContentRepository,
	enrollment *repository.EnrollmentRepository,
	progress *repository.ProgressRepository,
	attempt *repository.AttemptRepository,
	unlock *UnlockService,
	rdb *redis.Client,
) *ProgressionService {
	return &ProgressionService{
		Content:    content,
		Enrollment: enrollment,
		Progress:   progress,
		Attempt:    attempt,
		Unlock:     unlock,
		Redis:      rdb,
	}
}

// CanAccessContent 判定学生当前能否访问某内容。
// 拒绝以结构化结果返回；只有基础设施故障才作为 error 上抛。
func (s *ProgressionService) CanAccessContent(studentID, contentID uint, kind model.ContentKind) (*AccessResult, error) {
	switch kind {
	case model.KindCourse:
		course, err := s.Content.FindCourseByID(contentID)
		if err != nil {
			return nil, mapNotFound(err, util.ErrCourseNotFound)
		}
		return s.canAccessCourse(studentID, course)
	case model.KindLesson:
		lesson, err := s.Content.FindLessonByID(contentID)
		if err != nil {
			return nil, mapNotFound(err, util.ErrLessonNotFound)
		}
		return s.canAccessLesson(studentID, lesson)
	case model.KindAssessment:
		assessment, err := s.Content.FindAssessmentByID(contentID)
		if err != nil {
			return nil, mapNotFound(err, util.ErrAssessmentNotFound)
		}
		return s.canAccessAssessment(studentID, assessment)
	default:
		return nil, util.ErrUnknownContentKind
	}
}

// 课程：已发布 + 已报名即可访问
func (s *ProgressionService) canAccessCourse(studentID uint, course *model.Course) (*AccessResult, error) {
	if !course.Published {
		return denied(util.ReasonNotPublished, "课程尚未发布"), nil
	}
	enrolled, err := s.Enrollment.IsEnrolled(studentID, course.ID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return denied(util.ReasonNotEnrolled, "未报名该课程"), nil
	}
	return allowed(), nil
}

// 课时：课程可访问 + 课时已发布 + 所有前置课时完成
// （前置课时若绑定测验，必须通过，仅作答过不算）
func (s *ProgressionService) canAccessLesson(studentID uint, lesson *model.Lesson) (*AccessResult, error) {
	course, err := s.Content.FindCourseByID(lesson.CourseID)
	if err != nil {
		return nil, mapNotFound(err, util.ErrCourseNotFound)
	}
	courseRes, err := s.canAccessCourse(studentID, course)
	if err != nil {
		return nil, err
	}
	if !courseRes.CanAccess {
		return courseRes, nil
	}

	if !lesson.Published {
		return denied(util.ReasonNotPublished, "课时尚未发布"), nil
	}

	// 管理员手动封锁的内容直接拒绝
	rec, err := s.Progress.FindOrInit(studentID, lesson.ID, model.KindLesson)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.StatusBlocked {
		return denied(util.ReasonBlocked, "该课时已被管理员封锁"), nil
	}

	// 按声明顺序逐个检查前置，第一个未满足的作为 blockedBy
	result := allowed()
	for _, pid := range lesson.Prerequisites {
		status, err := s.prerequisiteStatus(studentID, pid)
		if err != nil {
			return nil, err
		}
		result.PrerequisiteStatuses = append(result.PrerequisiteStatuses, *status)
		if !status.Met && result.BlockedBy == nil {
			blocked := pid
			result.CanAccess = false
			result.BlockedBy = &blocked
			result.ReasonCode = util.ReasonPrerequisite
			result.Reason = fmt.Sprintf("前置课时未完成：%s", status.Title)
		}
	}
	return result, nil
}

func (s *ProgressionService) prerequisiteStatus(studentID, lessonID uint) (*PrerequisiteStatus, error) {
	prereq, err := s.Content.FindLessonByID(lessonID)
	if err != nil {
		return nil, mapNotFound(err, util.ErrLessonNotFound)
	}

	rec, err := s.Progress.FindOrInit(studentID, lessonID, model.KindLesson)
	if err != nil {
		return nil, err
	}

	status := &PrerequisiteStatus{
		LessonID: lessonID,
		Title:    prereq.Title,
		Status:   rec.Status,
		Met:      rec.Status == model.StatusCompleted,
	}

	assessment, err := s.Content.FindAssessmentByLesson(lessonID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	passed, err := s.Attempt.HasPassed(studentID, assessment.ID)
	if err != nil {
		return nil, err
	}
	status.AssessmentPassed = &passed
	status.Met = status.Met && passed
	return status, nil
}

// 测验：继承绑定课时（或课程）的访问结果；
// 强制测验要求课时本身已完成；次数上限独立于前置检查，最后判定。
func (s *ProgressionService) canAccessAssessment(studentID uint, assessment *model.Assessment) (*AccessResult, error) {
	if !assessment.Published {
		return denied(util.ReasonNotPublished, "测验尚未发布"), nil
	}

	var result *AccessResult
	var err error
	if assessment.IsFinal() {
		result, err = s.canAccessFinalAssessment(studentID, assessment)
	} else {
		result, err = s.canAccessLessonAssessment(studentID, assessment)
	}
	if err != nil || !result.CanAccess {
		return result, err
	}

	// 次数上限检查：与前置检查互相独立，在其后判定
	if assessment.MaxAttempts > 0 {
		taken, err := s.Attempt.Count(studentID, assessment.ID)
		if err != nil {
			return nil, err
		}
		if int(taken) >= assessment.MaxAttempts {
			return denied(util.ReasonAttemptLimit,
				fmt.Sprintf("attempt limit reached (%d/%d)", taken, assessment.MaxAttempts)), nil
		}
	}

	return result, nil
}

func (s *ProgressionService) canAccessLessonAssessment(studentID uint, assessment *model.Assessment) (*AccessResult, error) {
	lesson, err := s.Content.FindLessonByID(*assessment.LessonID)
	if err != nil {
		return nil, mapNotFound(err, util.ErrLessonNotFound)
	}
	lessonRes, err := s.canAccessLesson(studentID, lesson)
	if err != nil {
		return nil, err
	}
	if !lessonRes.CanAccess {
		return lessonRes, nil
	}

	if assessment.IsMandatory {
		rec, err := s.Progress.FindOrInit(studentID, lesson.ID, model.KindLesson)
		if err != nil {
			return nil, err
		}
		if rec.Status != model.StatusCompleted {
			res := denied(util.ReasonLessonIncomplete, fmt.Sprintf("需先完成课时：%s", lesson.Title))
			blocked := lesson.ID
			res.BlockedBy = &blocked
			return res, nil
		}
	}
	return lessonRes, nil
}

// 课程结业测验：课程可访问；强制时要求课程内所有课时完成、
// 所有课时绑定测验通过
func (s *ProgressionService) canAccessFinalAssessment(studentID uint, assessment *model.Assessment) (*AccessResult, error) {
	course, err := s.Content.FindCourseByID(assessment.CourseID)
	if err != nil {
		return nil, mapNotFound(err, util.ErrCourseNotFound)
	}
	courseRes, err := s.canAccessCourse(studentID, course)
	if err != nil {
		return nil, err
	}
	if !courseRes.CanAccess {
		return courseRes, nil
	}

	if !assessment.IsMandatory {
		return courseRes, nil
	}

	lessons, err := s.Content.ListLessonsByCourse(assessment.CourseID)
	if err != nil {
		return nil, err
	}
	result := allowed()
	for _, l := range lessons {
		status, err := s.prerequisiteStatus(studentID, l.ID)
		if err != nil {
			return nil, err
		}
		result.PrerequisiteStatuses = append(result.PrerequisiteStatuses, *status)
		if !status.Met && result.BlockedBy == nil {
			blocked := l.ID
			result.CanAccess = false
			result.BlockedBy = &blocked
			result.ReasonCode = util.ReasonPrerequisite
			result.Reason = fmt.Sprintf("结业测验需完成全部课时：%s 未完成", status.Title)
		}
	}
	return result, nil
}

// UpdateProgress 落库一次进度更新并返回本次解锁的内容增量。
// 乐观锁冲突时以新读的记录重试一次，仍冲突才上抛。
func (s *ProgressionService) UpdateProgress(update ProgressUpdate) (*UnlockedContent, error) {
	if !update.Kind.Valid() {
		return nil, util.ErrUnknownContentKind
	}

	courseID, err := s.owningCourse(update.ContentID, update.Kind)
	if err != nil {
		return nil, err
	}

	before, err := s.Unlock.AccessibleSet(s, update.StudentID, courseID)
	if err != nil {
		return nil, err
	}

	if err := s.upsertWithRetry(update); err != nil {
		return nil, err
	}

	after, err := s.Unlock.AccessibleSet(s, update.StudentID, courseID)
	if err != nil {
		return nil, err
	}

	delta := s.Unlock.Diff(before, after)
	monitoring.UnlockDelta.WithLabelValues(string(model.KindLesson)).Observe(float64(len(delta.Lessons)))
	monitoring.UnlockDelta.WithLabelValues(string(model.KindAssessment)).Observe(float64(len(delta.Assessments)))

	s.invalidateOverviewCache(update.StudentID, courseID)
	return delta, nil
}

func (s *ProgressionService) upsertWithRetry(update ProgressUpdate) error {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.Progress.FindOrInit(update.StudentID, update.ContentID, update.Kind)
		if err != nil {
			return err
		}

		if err := applyUpdate(rec, update); err != nil {
			return err
		}

		if rec.ID == 0 {
			err = s.Progress.Create(rec)
		} else {
			err = s.Progress.UpdateVersioned(rec)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, util.ErrPersistenceConflict) {
			return err
		}
		logger.Log.Warn("progress write conflict, retrying with fresh read",
			zap.Uint("studentId", update.StudentID),
			zap.Uint("contentId", update.ContentID))
	}
	return util.ErrPersistenceConflict
}

// applyUpdate 状态机流转。completed 对自动流转是终态；
// blocked/failed 只有管理员显式操作才能离开。
func applyUpdate(rec *model.ProgressRecord, update ProgressUpdate) error {
	switch rec.Status {
	case model.StatusBlocked:
		return util.ErrInvalidStateTransition
	case model.StatusNotStarted:
		rec.Status = model.StatusInProgress
	}

	if update.CompletionPct != nil && *update.CompletionPct > rec.CompletionPct {
		rec.CompletionPct = *update.CompletionPct
	}
	rec.TimeSpent += update.TimeSpentDelta
	rec.LastAccessed = time.Now()

	// bestScore 单调不减
	if update.Score != nil && *update.Score > rec.BestScore {
		rec.BestScore = *update.Score
	}

	if rec.Status == model.StatusInProgress {
		if update.markFailed {
			rec.Status = model.StatusFailed
		} else if update.MarkComplete || rec.CompletionPct >= 100 {
			rec.Status = model.StatusCompleted
			rec.CompletionPct = 100
		}
	}
	return nil
}

func (s *ProgressionService) owningCourse(contentID uint, kind model.ContentKind) (uint, error) {
	switch kind {
	case model.KindCourse:
		return contentID, nil
	case model.KindLesson:
		lesson, err := s.Content.FindLessonByID(contentID)
		if err != nil {
			return 0, mapNotFound(err, util.ErrLessonNotFound)
		}
		return lesson.CourseID, nil
	case model.KindAssessment:
		assessment, err := s.Content.FindAssessmentByID(contentID)
		if err != nil {
			return 0, mapNotFound(err, util.ErrAssessmentNotFound)
		}
		return assessment.CourseID, nil
	}
	return 0, util.ErrUnknownContentKind
}

type AnswerInput struct {
	QuestionID uint   `json:"questionId"`
	Answer     string `json:"answer"`
}

// SubmitAttemptResult 提交测验的返回：作答记录 + 本次解锁增量
type SubmitAttemptResult struct {
	Attempt  *model.AssessmentAttempt `json:"attempt"`
	Unlocked *UnlockedContent         `json:"unlocked"`
}

// SubmitAttempt 处理一次测验提交：访问判定、判分、追加作答记录、
// 更新进度。次数耗尽仍未通过时进度自动转 failed（这是 failed 与
// 管理员 blocked 的边界：failed 只来自次数耗尽，绝不手动设置）。
func (s *ProgressionService) SubmitAttempt(studentID, assessmentID uint, answers []AnswerInput) (*SubmitAttemptResult, *AccessResult, error) {
	access, err := s.CanAccessContent(studentID, assessmentID, model.KindAssessment)
	if err != nil {
		return nil, nil, err
	}
	if !access.CanAccess {
		return nil, access, nil
	}

	assessment, err := s.Content.FindAssessmentByID(assessmentID)
	if err != nil {
		return nil, nil, mapNotFound(err, util.ErrAssessmentNotFound)
	}
	questions, err := s.Content.ListQuestions(assessmentID)
	if err != nil {
		return nil, nil, err
	}

	questionMap := make(map[uint]model.AssessmentQuestion, len(questions))
	totalPoints := 0
	for _, q := range questions {
		questionMap[q.ID] = q
		totalPoints += q.Points
	}

	earned := 0
	graded := make([]model.QuestionAnswer, 0, len(answers))
	for _, ans := range answers {
		q, ok := questionMap[ans.QuestionID]
		if !ok {
			continue
		}
		correct := ans.Answer == q.Answer
		if correct {
			earned += q.Points
		}
		graded = append(graded, model.QuestionAnswer{
			QuestionID: ans.QuestionID,
			Answer:     ans.Answer,
			Correct:    correct,
		})
	}

	score := 0
	if totalPoints > 0 {
		score = earned * 100 / totalPoints
	}
	passed := score >= assessment.PassingScore

	// attemptNumber = 已有次数 + 1，唯一索引兜底并发重号
	prior, err := s.Attempt.Count(studentID, assessmentID)
	if err != nil {
		return nil, nil, err
	}
	attempt := &model.AssessmentAttempt{
		AssessmentID:  assessmentID,
		StudentID:     studentID,
		AttemptNumber: int(prior) + 1,
		Answers:       graded,
		Score:         score,
		Passed:        passed,
		SubmittedAt:   time.Now(),
	}
	if err := s.Attempt.Create(attempt); err != nil {
		return nil, nil, err
	}

	update := ProgressUpdate{
		StudentID: studentID,
		ContentID: assessmentID,
		Kind:      model.KindAssessment,
		Score:     &score,
	}
	if passed {
		update.MarkComplete = true
	} else if assessment.MaxAttempts > 0 && attempt.AttemptNumber >= assessment.MaxAttempts {
		everPassed, err := s.Attempt.HasPassed(studentID, assessmentID)
		if err != nil {
			return nil, nil, err
		}
		if !everPassed {
			update.markFailed = true
		}
	}

	unlocked, err := s.UpdateProgress(update)
	if err != nil {
		return nil, nil, err
	}

	return &SubmitAttemptResult{Attempt: attempt, Unlocked: unlocked}, nil, nil
}

// BlockProgress 管理员封锁。状态机里 blocked 只能由这里进入。
func (s *ProgressionService) BlockProgress(studentID, contentID uint, kind model.ContentKind) error {
	if !kind.Valid() {
		return util.ErrUnknownContentKind
	}
	rec, err := s.Progress.FindOrInit(studentID, contentID, kind)
	if err != nil {
		return err
	}
	rec.Status = model.StatusBlocked
	if rec.ID == 0 {
		return s.Progress.Create(rec)
	}
	return s.Progress.UpdateVersioned(rec)
}

// UnblockProgress 管理员解封，仅对 blocked 记录有效
func (s *ProgressionService) UnblockProgress(studentID, contentID uint, kind model.ContentKind) error {
	if !kind.Valid() {
		return util.ErrUnknownContentKind
	}
	rec, err := s.Progress.Find(studentID, contentID, kind)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrInvalidStateTransition
		}
		return err
	}
	if rec.Status != model.StatusBlocked {
		return util.ErrInvalidStateTransition
	}
	rec.Status = model.StatusInProgress
	return s.Progress.UpdateVersioned(rec)
}

// LessonOverview 课程总览中的一行
type LessonOverview struct {
	LessonID      uint                 `json:"lessonId"`
	Title         string               `json:"title"`
	Status        model.ProgressStatus `json:"status"`
	CompletionPct int                  `json:"completionPct"`
	BestScore     int                  `json:"bestScore"`
	Unlocked      bool                 `json:"unlocked"`
}

type CourseProgressOverview struct {
	CourseID      uint             `json:"courseId"`
	Title         string           `json:"title"`
	CompletionPct int              `json:"completionPct"`
	Lessons       []LessonOverview `json:"lessons"`
}

const overviewCacheTTL = 5 * time.Minute

// GetCourseProgressOverview 学生在一门课内的进度总览。
// redis 读穿透缓存，进度更新时失效。
func (s *ProgressionService) GetCourseProgressOverview(studentID, courseID uint) (*CourseProgressOverview, error) {
	if cached := s.readOverviewCache(studentID, courseID); cached != nil {
		return cached, nil
	}

	course, err := s.Content.FindCourseByID(courseID)
	if err != nil {
		return nil, mapNotFound(err, util.ErrCourseNotFound)
	}
	lessons, err := s.Content.ListLessonsByCourse(courseID)
	if err != nil {
		return nil, err
	}

	lessonIDs := make([]uint, len(lessons))
	for i, l := range lessons {
		lessonIDs[i] = l.ID
	}
	snapshot, err := s.Progress.SnapshotMap(studentID, model.KindLesson, lessonIDs)
	if err != nil {
		return nil, err
	}

	overview := &CourseProgressOverview{CourseID: courseID, Title: course.Title}
	completed := 0
	for _, l := range lessons {
		rec, ok := snapshot[l.ID]
		row := LessonOverview{LessonID: l.ID, Title: l.Title, Status: model.StatusNotStarted}
		if ok {
			row.Status = rec.Status
			row.CompletionPct = rec.CompletionPct
			row.BestScore = rec.BestScore
		}
		access, err := s.canAccessLesson(studentID, &l)
		if err != nil {
			return nil, err
		}
		row.Unlocked = access.CanAccess
		if row.Status == model.StatusCompleted {
			completed++
		}
		overview.Lessons = append(overview.Lessons, row)
	}
	if len(lessons) > 0 {
		overview.CompletionPct = completed * 100 / len(lessons)
	}

	s.writeOverviewCache(studentID, courseID, overview)
	return overview, nil
}

func overviewCacheKey(studentID, courseID uint) string {
	return fmt.Sprintf("overview:%d:%d", studentID, courseID)
}

func (s *ProgressionService) readOverviewCache(studentID, courseID uint) *CourseProgressOverview {
	if s.Redis == nil {
		return nil
	}
	data, err := s.Redis.Get(context.Background(), overviewCacheKey(studentID, courseID)).Result()
	if err != nil {
		return nil
	}
	var overview CourseProgressOverview
	if err := json.Unmarshal([]byte(data), &overview); err != nil {
		return nil
	}
	return &overview
}

func (s *ProgressionService) writeOverviewCache(studentID, courseID uint, overview *CourseProgressOverview) {
	if s.Redis == nil {
		return
	}
	data, err := json.Marshal(overview)
	if err != nil {
		return
	}
	s.Redis.Set(context.Background(), overviewCacheKey(studentID, courseID), data, overviewCacheTTL)
}

func (s *ProgressionService) invalidateOverviewCache(studentID, courseID uint) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(context.Background(), overviewCacheKey(studentID, courseID))
}

func mapNotFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
