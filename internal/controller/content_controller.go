package controller

import (
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ContentController 教师端内容维护：课程、课时、测验、题目
type ContentController struct {
	Content *repository.ContentRepository
}

func NewContentController(content *repository.ContentRepository) *ContentController {
	return &ContentController{Content: content}
}

// CourseRequest 课程创建/更新请求
type CourseRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
}

// @Summary 创建课程
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body CourseRequest true "课程信息"
// @Success 201 {object} util.Response{data=model.Course}
// @Router /api/teacher/courses [post]
func (c *ContentController) CreateCourse(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CourseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	course := &model.Course{
		Title:       req.Title,
		Description: req.Description,
		Published:   req.Published,
		CreatorID:   user.UserID,
	}
	if err := c.Content.CreateCourse(course); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, course)
}

// @Summary 更新课程
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "课程ID"
// @Param body body CourseRequest true "课程信息"
// @Success 200 {object} util.Response{data=model.Course}
// @Router /api/teacher/courses/{id} [put]
func (c *ContentController) UpdateCourse(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	course, err := c.Content.FindCourseByID(id)
	if err != nil {
		util.NotFound(ctx)
		return
	}

	var req CourseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	course.Title = req.Title
	course.Description = req.Description
	course.Published = req.Published
	if err := c.Content.UpdateCourse(course); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, course)
}

// @Summary 课程列表
// @Tags 内容管理
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param limit query int false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/courses [get]
func (c *ContentController) ListCourses(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	courses, total, err := c.Content.ListCourses(page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: courses, Total: total, Page: page, Limit: limit})
}

// LessonRequest 课时创建/更新请求
type LessonRequest struct {
	CourseID      uint   `json:"courseId" binding:"required"`
	Title         string `json:"title" binding:"required"`
	Objectives    string `json:"objectives"`
	Topic         string `json:"topic"`
	Published     bool   `json:"published"`
	EstimatedTime int    `json:"estimatedTime"`
	Difficulty    string `json:"difficulty" binding:"omitempty,oneof=beginner intermediate advanced"`
	OrderNum      int    `json:"orderNum"`
	Prerequisites []uint `json:"prerequisites"`
}

// @Summary 创建课时
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body LessonRequest true "课时信息"
// @Success 201 {object} util.Response{data=model.Lesson}
// @Router /api/teacher/lessons [post]
func (c *ContentController) CreateLesson(ctx *gin.Context) {
	var req LessonRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if _, err := c.Content.FindCourseByID(req.CourseID); err != nil {
		util.BadRequest(ctx, "课程不存在")
		return
	}

	// 前置只能指向同课程内已有课时，写入时即校验，防止图越界
	for _, pid := range req.Prerequisites {
		prereq, err := c.Content.FindLessonByID(pid)
		if err != nil || prereq.CourseID != req.CourseID {
			util.BadRequest(ctx, "前置课时不存在或不属于同一课程")
			return
		}
	}

	lesson := &model.Lesson{
		CourseID:      req.CourseID,
		Title:         req.Title,
		Objectives:    req.Objectives,
		Topic:         req.Topic,
		Published:     req.Published,
		EstimatedTime: req.EstimatedTime,
		Difficulty:    model.Difficulty(req.Difficulty),
		OrderNum:      req.OrderNum,
		Prerequisites: req.Prerequisites,
	}
	if lesson.Difficulty == "" {
		lesson.Difficulty = model.DifficultyBeginner
	}
	if err := c.Content.CreateLesson(lesson); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, lesson)
}

// @Summary 更新课时
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "课时ID"
// @Param body body LessonRequest true "课时信息"
// @Success 200 {object} util.Response{data=model.Lesson}
// @Router /api/teacher/lessons/{id} [put]
func (c *ContentController) UpdateLesson(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	lesson, err := c.Content.FindLessonByID(id)
	if err != nil {
		util.NotFound(ctx)
		return
	}

	var req LessonRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	for _, pid := range req.Prerequisites {
		if pid == lesson.ID {
			util.BadRequest(ctx, "课时不能以自身为前置")
			return
		}
		prereq, err := c.Content.FindLessonByID(pid)
		if err != nil || prereq.CourseID != lesson.CourseID {
			util.BadRequest(ctx, "前置课时不存在或不属于同一课程")
			return
		}
	}

	lesson.Title = req.Title
	lesson.Objectives = req.Objectives
	lesson.Topic = req.Topic
	lesson.Published = req.Published
	lesson.EstimatedTime = req.EstimatedTime
	if req.Difficulty != "" {
		lesson.Difficulty = model.Difficulty(req.Difficulty)
	}
	lesson.OrderNum = req.OrderNum
	lesson.Prerequisites = req.Prerequisites
	if err := c.Content.UpdateLesson(lesson); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, lesson)
}

// @Summary 课程下的课时列表
// @Tags 内容管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=[]model.Lesson}
// @Router /api/courses/{id}/lessons [get]
func (c *ContentController) ListLessons(ctx *gin.Context) {
	courseID, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	lessons, err := c.Content.ListLessonsByCourse(courseID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, lessons)
}

// AssessmentRequest 测验创建/更新请求。LessonID 为空表示课程结业测验
type AssessmentRequest struct {
	CourseID     uint   `json:"courseId" binding:"required"`
	LessonID     *uint  `json:"lessonId"`
	Title        string `json:"title" binding:"required"`
	Published    bool   `json:"published"`
	IsMandatory  bool   `json:"isMandatory"`
	MaxAttempts  int    `json:"maxAttempts" binding:"omitempty,min=0"`
	PassingScore int    `json:"passingScore" binding:"omitempty,min=0,max=100"`
	TimeLimit    int    `json:"timeLimit"`
}

// @Summary 创建测验
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body AssessmentRequest true "测验信息"
// @Success 201 {object} util.Response{data=model.Assessment}
// @Router /api/teacher/assessments [post]
func (c *ContentController) CreateAssessment(ctx *gin.Context) {
	var req AssessmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if req.LessonID != nil {
		lesson, err := c.Content.FindLessonByID(*req.LessonID)
		if err != nil || lesson.CourseID != req.CourseID {
			util.BadRequest(ctx, "绑定课时不存在或不属于该课程")
			return
		}
	}

	assessment := &model.Assessment{
		CourseID:     req.CourseID,
		LessonID:     req.LessonID,
		Title:        req.Title,
		Published:    req.Published,
		IsMandatory:  req.IsMandatory,
		MaxAttempts:  req.MaxAttempts,
		PassingScore: req.PassingScore,
		TimeLimit:    req.TimeLimit,
	}
	if assessment.PassingScore == 0 {
		assessment.PassingScore = 60
	}
	if err := c.Content.CreateAssessment(assessment); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, assessment)
}

// @Summary 更新测验
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Param body body AssessmentRequest true "测验信息"
// @Success 200 {object} util.Response{data=model.Assessment}
// @Router /api/teacher/assessments/{id} [put]
func (c *ContentController) UpdateAssessment(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	assessment, err := c.Content.FindAssessmentByID(id)
	if err != nil {
		util.NotFound(ctx)
		return
	}

	var req AssessmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	assessment.Title = req.Title
	assessment.Published = req.Published
	assessment.IsMandatory = req.IsMandatory
	assessment.MaxAttempts = req.MaxAttempts
	assessment.PassingScore = req.PassingScore
	assessment.TimeLimit = req.TimeLimit
	if err := c.Content.UpdateAssessment(assessment); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, assessment)
}

// QuestionRequest 题目创建请求
type QuestionRequest struct {
	AssessmentID uint   `json:"assessmentId" binding:"required"`
	Topic        string `json:"topic"`
	Content      string `json:"content" binding:"required"`
	Answer       string `json:"answer" binding:"required"`
	Points       int    `json:"points" binding:"omitempty,min=1"`
	OrderNum     int    `json:"orderNum"`
	Explanation  string `json:"explanation"`
}

// @Summary 创建测验题目
// @Tags 内容管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body QuestionRequest true "题目信息"
// @Success 201 {object} util.Response{data=model.AssessmentQuestion}
// @Router /api/teacher/assessments/questions [post]
func (c *ContentController) CreateQuestion(ctx *gin.Context) {
	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if _, err := c.Content.FindAssessmentByID(req.AssessmentID); err != nil {
		util.BadRequest(ctx, "测验不存在")
		return
	}

	question := &model.AssessmentQuestion{
		AssessmentID: req.AssessmentID,
		Topic:        req.Topic,
		Content:      req.Content,
		Answer:       req.Answer,
		Points:       req.Points,
		OrderNum:     req.OrderNum,
		Explanation:  req.Explanation,
	}
	if question.Points == 0 {
		question.Points = 1
	}
	if err := c.Content.CreateQuestion(question); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, question)
}

// @Summary 删除测验题目
// @Tags 内容管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "题目ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/assessments/questions/{id} [delete]
func (c *ContentController) DeleteQuestion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Content.DeleteQuestion(id); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
