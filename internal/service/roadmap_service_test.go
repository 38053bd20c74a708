package service

import (
	"edupath_backend/internal/model"
	"edupath_backend/internal/util"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoadmapRepairsOrdering(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)
	b := e.createLesson(t, course.ID, "指针基础", "pointers", 2, a.ID)

	// 生成器给出的顺序违反前置约束：b 排在 a 前面
	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{
			{ContentID: b.ID, Title: b.Title, Topic: b.Topic, Prerequisites: []uint{a.ID}, EstimatedTime: 45},
			{ContentID: a.ID, Title: a.Title, Topic: a.Topic, EstimatedTime: 45},
		},
		Rationale: "测试路线",
	}}

	svc := newRoadmapService(e, gen)
	rm, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)
	require.Len(t, rm.Items, 2)

	// 修复后 a 在前，OrderIndex 连续
	assert.Equal(t, a.ID, rm.Items[0].ContentID)
	assert.Equal(t, b.ID, rm.Items[1].ContentID)
	assert.Equal(t, 0, rm.Items[0].OrderIndex)
	assert.Equal(t, 1, rm.Items[1].OrderIndex)
	assert.Equal(t, 90, rm.TotalEstimatedTime)
	assert.Equal(t, model.RoadmapActive, rm.Status)
}

func TestGenerateRoadmapDropsCycle(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)
	b := e.createLesson(t, course.ID, "指针基础", "pointers", 2)
	c := e.createLesson(t, course.ID, "数组", "arrays", 3)

	// b 和 c 互为前置（环），a 独立
	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{
			{ContentID: a.ID, Title: a.Title, Topic: a.Topic, EstimatedTime: 30},
			{ContentID: b.ID, Title: b.Title, Topic: b.Topic, Prerequisites: []uint{c.ID}, EstimatedTime: 30},
			{ContentID: c.ID, Title: c.Title, Topic: c.Topic, Prerequisites: []uint{b.ID}, EstimatedTime: 30},
		},
	}}

	svc := newRoadmapService(e, gen)
	rm, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	// 环上的条目全部丢弃，只剩 a
	require.Len(t, rm.Items, 1)
	assert.Equal(t, a.ID, rm.Items[0].ContentID)
}

func TestGenerateRoadmapExternalPrereqIgnored(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)

	// 前置 999 不在候选集合里，视为外部已满足
	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{
			{ContentID: a.ID, Title: a.Title, Topic: a.Topic, Prerequisites: []uint{999}, EstimatedTime: 30},
		},
	}}

	svc := newRoadmapService(e, gen)
	rm, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)
	require.Len(t, rm.Items, 1)
}

func TestGenerateRoadmapFallbackOnGeneratorError(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)
	b := e.createLesson(t, course.ID, "指针基础", "pointers", 2, a.ID)

	gen := &fakeGenerator{pathErr: errors.New("upstream timeout")}
	svc := newRoadmapService(e, gen)

	rm, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	// 兜底路线：按课程声明顺序
	require.Len(t, rm.Items, 2)
	assert.Equal(t, a.ID, rm.Items[0].ContentID)
	assert.Equal(t, b.ID, rm.Items[1].ContentID)
	assert.NotEmpty(t, rm.Rationale)
}

func TestGenerateRoadmapSupersedes(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)

	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{{ContentID: a.ID, Title: a.Title, Topic: a.Topic, EstimatedTime: 30}},
	}}
	svc := newRoadmapService(e, gen)

	first, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	// 未强制重生成：返回现有路线，不新建
	same, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, same.ID)
	assert.Equal(t, 1, gen.proposeN)

	// 强制重生成：旧路线 paused，任一时刻恰好一条 active
	second, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{ForceRegenerate: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	var activeCount int64
	require.NoError(t, e.db.Model(&model.Roadmap{}).
		Where("student_id = ? AND status = ?", studentID, model.RoadmapActive).
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount)

	old, err := e.roadmap.FindByID(first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoadmapPaused, old.Status)
}

func TestGetRoadmapWithProgressUnlockOverlay(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)
	b := e.createLesson(t, course.ID, "指针基础", "pointers", 2, a.ID)

	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{
			{ContentID: a.ID, Title: a.Title, Topic: a.Topic, EstimatedTime: 30},
			{ContentID: b.ID, Title: b.Title, Topic: b.Topic, Prerequisites: []uint{a.ID}, EstimatedTime: 30},
		},
	}}
	svc := newRoadmapService(e, gen)
	_, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	// 初始：第 0 项解锁，第 1 项锁定
	view, err := svc.GetRoadmapWithProgress(studentID)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.True(t, view.Items[0].IsUnlocked)
	assert.False(t, view.Items[1].IsUnlocked)
	assert.Equal(t, model.StatusNotStarted, view.Items[0].CompletionStatus)

	// 完成第 0 项后第 1 项解锁
	e.completeLesson(t, studentID, a.ID)
	view, err = svc.GetRoadmapWithProgress(studentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, view.Items[0].CompletionStatus)
	assert.True(t, view.Items[1].IsUnlocked)
}

func TestGetRoadmapWithProgressNoActive(t *testing.T) {
	e := newTestEnv(t)
	svc := newRoadmapService(e, &fakeGenerator{})
	_, err := svc.GetRoadmapWithProgress(studentID)
	assert.ErrorIs(t, err, util.ErrRoadmapNotFound)
}

func TestCompleteRoadmapIfDone(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)

	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{{ContentID: a.ID, Title: a.Title, Topic: a.Topic, EstimatedTime: 30}},
	}}
	svc := newRoadmapService(e, gen)
	rm, err := svc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	done, err := svc.CompleteRoadmapIfDone(studentID)
	require.NoError(t, err)
	assert.False(t, done)

	e.completeLesson(t, studentID, a.ID)
	done, err = svc.CompleteRoadmapIfDone(studentID)
	require.NoError(t, err)
	assert.True(t, done)

	final, err := e.roadmap.FindByID(rm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoadmapCompleted, final.Status)
}
