package controller

import (
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/internal/service"
	"edupath_backend/internal/util"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ProgressionController struct {
	Progression *service.ProgressionService
	Adaptive    *service.AdaptiveService
	Roadmap     *service.RoadmapService
	Enrollment  *repository.EnrollmentRepository
}

func NewProgressionController(
	progression *service.ProgressionService,
	adaptive *service.AdaptiveService,
	roadmap *service.RoadmapService,
	enrollment *repository.EnrollmentRepository,
) *ProgressionController {
	return &ProgressionController{
		Progression: progression,
		Adaptive:    adaptive,
		Roadmap:     roadmap,
		Enrollment:  enrollment,
	}
}

func pathID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// Enroll godoc
// @Summary 报名课程
// @Description 当前学生报名指定课程，重复报名幂等
// @Tags 进度
// @Produce json
// @Security BearerAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{id}/enroll [post]
func (c *ProgressionController) Enroll(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	courseID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	if err := c.Enrollment.Enroll(user.UserID, courseID); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"courseId": courseID})
}

// CheckAccess godoc
// @Summary 检查内容可访问性
// @Description 判定当前学生能否访问指定内容，拒绝时返回原因和阻塞项
// @Tags 进度
// @Produce json
// @Security BearerAuth
// @Param kind query string true "内容类型" Enums(course, lesson, assessment)
// @Param contentId query int true "内容ID"
// @Success 200 {object} util.Response{data=service.AccessResult}
// @Failure 404 {object} util.Response "内容不存在"
// @Router /api/progression/access [get]
func (c *ProgressionController) CheckAccess(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	kind := model.ContentKind(ctx.Query("kind"))
	if !kind.Valid() {
		util.BadRequest(ctx, "invalid kind")
		return
	}
	contentID, err := strconv.Atoi(ctx.Query("contentId"))
	if err != nil || contentID <= 0 {
		util.BadRequest(ctx, "invalid contentId")
		return
	}

	result, err := c.Progression.CanAccessContent(user.UserID, uint(contentID), kind)
	if err != nil {
		if isNotFound(err) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, result)
}

// UpdateProgressRequest 进度上报请求
type UpdateProgressRequest struct {
	ContentID      uint   `json:"contentId" binding:"required"`
	Kind           string `json:"kind" binding:"required,oneof=course lesson assessment"`
	CompletionPct  *int   `json:"completionPct" binding:"omitempty,min=0,max=100"`
	TimeSpentDelta int    `json:"timeSpentDelta" binding:"omitempty,min=0"`
	MarkComplete   bool   `json:"markComplete"`
}

// UpdateProgress godoc
// @Summary 上报学习进度
// @Description 更新进度并返回本次解锁的内容增量
// @Tags 进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body UpdateProgressRequest true "进度信息"
// @Success 200 {object} util.Response{data=service.UnlockedContent}
// @Failure 409 {object} util.Response "并发冲突或状态不允许"
// @Router /api/progression/progress [post]
func (c *ProgressionController) UpdateProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req UpdateProgressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	unlocked, err := c.Progression.UpdateProgress(service.ProgressUpdate{
		StudentID:      user.UserID,
		ContentID:      req.ContentID,
		Kind:           model.ContentKind(req.Kind),
		CompletionPct:  req.CompletionPct,
		TimeSpentDelta: req.TimeSpentDelta,
		MarkComplete:   req.MarkComplete,
	})
	if err != nil {
		switch {
		case isNotFound(err):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrInvalidStateTransition):
			util.Conflict(ctx, "当前状态不允许该操作")
		case errors.Is(err, util.ErrPersistenceConflict):
			util.Conflict(ctx, "进度更新冲突，请重试")
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	// 进度推进后顺带检查路线是否整体完成
	if _, err := c.Roadmap.CompleteRoadmapIfDone(user.UserID); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, unlocked)
}

// SubmitAttemptRequest 测验提交请求
type SubmitAttemptRequest struct {
	Answers []service.AnswerInput `json:"answers" binding:"required,min=1"`
}

// SubmitAttempt godoc
// @Summary 提交测验作答
// @Description 判分并记录作答；未通过时自动触发路线自适应调整
// @Tags 进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Param body body SubmitAttemptRequest true "作答内容"
// @Success 200 {object} util.Response
// @Failure 403 {object} util.Response "不可访问（含次数耗尽）"
// @Router /api/assessments/{id}/attempts [post]
func (c *ProgressionController) SubmitAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	assessmentID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	var req SubmitAttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, denial, err := c.Progression.SubmitAttempt(user.UserID, assessmentID, req.Answers)
	if err != nil {
		if isNotFound(err) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	if denial != nil {
		ctx.JSON(403, util.Response{Code: 403, Message: denial.Reason, Data: denial})
		return
	}

	response := gin.H{
		"attempt":  result.Attempt,
		"unlocked": result.Unlocked,
	}

	if result.Attempt.Passed {
		if _, err := c.Roadmap.CompleteRoadmapIfDone(user.UserID); err != nil {
			util.LogInternalError(ctx, err)
			return
		}
	} else {
		adjustment, err := c.Adaptive.HandleAssessmentFailure(user.UserID, assessmentID, result.Attempt)
		if err != nil {
			util.LogInternalError(ctx, err)
			return
		}
		response["adjustment"] = adjustment
	}

	util.Success(ctx, response)
}

// GetCourseProgress godoc
// @Summary 课程进度总览
// @Description 当前学生在指定课程内的进度与解锁状态
// @Tags 进度
// @Produce json
// @Security BearerAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=service.CourseProgressOverview}
// @Router /api/courses/{id}/progress-overview [get]
func (c *ProgressionController) GetCourseProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	courseID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	overview, err := c.Progression.GetCourseProgressOverview(user.UserID, courseID)
	if err != nil {
		if isNotFound(err) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, overview)
}

// AdaptiveAdjustRequest 按作答记录触发自适应调整
type AdaptiveAdjustRequest struct {
	AttemptID uint `json:"attemptId" binding:"required"`
}

// TriggerAdaptiveAdjustment godoc
// @Summary 手动触发路线自适应调整
// @Description 对一次未通过的作答记录重新执行薄弱点分析与补救项插入（幂等）
// @Tags 路线
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body AdaptiveAdjustRequest true "作答记录"
// @Success 200 {object} util.Response{data=service.AdjustmentResult}
// @Router /api/roadmap/assessment-failure [post]
func (c *ProgressionController) TriggerAdaptiveAdjustment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req AdaptiveAdjustRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Adaptive.HandleAssessmentFailureByAttemptID(user.UserID, req.AttemptID)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrAttemptNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrPermissionDenied):
			util.Forbidden(ctx)
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, result)
}

// BlockRequest 管理员封锁/解封请求
type BlockRequest struct {
	StudentID uint   `json:"studentId" binding:"required"`
	ContentID uint   `json:"contentId" binding:"required"`
	Kind      string `json:"kind" binding:"required,oneof=course lesson assessment"`
}

// BlockProgress godoc
// @Summary 封锁学生内容访问
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body BlockRequest true "封锁目标"
// @Success 200 {object} util.Response
// @Router /api/admin/progression/block [post]
func (c *ProgressionController) BlockProgress(ctx *gin.Context) {
	var req BlockRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.Progression.BlockProgress(req.StudentID, req.ContentID, model.ContentKind(req.Kind)); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// UnblockProgress godoc
// @Summary 解除封锁
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body BlockRequest true "解封目标"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "记录不处于封锁状态"
// @Router /api/admin/progression/unblock [post]
func (c *ProgressionController) UnblockProgress(ctx *gin.Context) {
	var req BlockRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	err := c.Progression.UnblockProgress(req.StudentID, req.ContentID, model.ContentKind(req.Kind))
	if err != nil {
		if errors.Is(err, util.ErrInvalidStateTransition) {
			util.Conflict(ctx, "该记录不处于封锁状态")
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, nil)
}

func isNotFound(err error) bool {
	return errors.Is(err, util.ErrCourseNotFound) ||
		errors.Is(err, util.ErrLessonNotFound) ||
		errors.Is(err, util.ErrAssessmentNotFound) ||
		errors.Is(err, util.ErrRoadmapNotFound)
}
