package controller

import (
	"edupath_backend/internal/service"
	"edupath_backend/internal/util"
	"errors"

	"github.com/gin-gonic/gin"
)

type RoadmapController struct {
	Roadmap *service.RoadmapService
}

func NewRoadmapController(roadmap *service.RoadmapService) *RoadmapController {
	return &RoadmapController{Roadmap: roadmap}
}

// GenerateRoadmap godoc
// @Summary 生成个性化学习路线
// @Description 已有进行中路线且未强制重生成时返回现有路线；重生成时旧路线置为暂停
// @Tags 路线
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.GenerateRoadmapRequest false "生成参数"
// @Success 201 {object} util.Response{data=model.Roadmap}
// @Router /api/roadmap/generate [post]
func (c *RoadmapController) GenerateRoadmap(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.GenerateRoadmapRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		util.BadRequest(ctx, err.Error())
		return
	}

	roadmap, err := c.Roadmap.GenerateRoadmap(user.UserID, req)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, roadmap)
}

// GetRoadmap godoc
// @Summary 获取当前路线（含实时进度）
// @Description 返回进行中路线的条目列表，叠加解锁状态与完成状态
// @Tags 路线
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.RoadmapWithProgress}
// @Failure 404 {object} util.Response "没有进行中的路线"
// @Router /api/roadmap [get]
func (c *RoadmapController) GetRoadmap(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.Roadmap.GetRoadmapWithProgress(user.UserID)
	if err != nil {
		if errors.Is(err, util.ErrRoadmapNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, view)
}

// ListHistory godoc
// @Summary 路线历史
// @Description 当前学生的全部路线（含已暂停和已完成）
// @Tags 路线
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.Roadmap}
// @Router /api/roadmap/history [get]
func (c *RoadmapController) ListHistory(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	roadmaps, err := c.Roadmap.ListHistory(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, roadmaps)
}
