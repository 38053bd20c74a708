package service

import (
	"edupath_backend/internal/model"
	"edupath_backend/internal/util"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 搭一条 active 路线和一个带题目的测验，供调整流程使用
func setupAdaptiveFixture(t *testing.T, e *testEnv) (*model.Roadmap, *model.Assessment, *model.AssessmentQuestion, *model.AssessmentQuestion) {
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	a := e.createLesson(t, course.ID, "变量与类型", "variables", 1)
	b := e.createLesson(t, course.ID, "数组", "arrays", 2)

	gen := &fakeGenerator{path: &ProposedPath{
		Items: []ProposedPathItem{
			{ContentID: a.ID, Title: a.Title, Topic: a.Topic, EstimatedTime: 30},
			{ContentID: b.ID, Title: b.Title, Topic: b.Topic, EstimatedTime: 30},
		},
	}}
	rm, err := newRoadmapService(e, gen).GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	assessment := e.createAssessment(t, course.ID, &a.ID, false, 0, 80)
	qVar := e.createQuestion(t, assessment.ID, "variables", "A", 10)
	qArr := e.createQuestion(t, assessment.ID, "arrays", "B", 10)
	return rm, assessment, qVar, qArr
}

func failAttempt(t *testing.T, e *testEnv, assessmentID uint, answers []AnswerInput) *model.AssessmentAttempt {
	t.Helper()
	result, denial, err := e.progression.SubmitAttempt(studentID, assessmentID, answers)
	require.NoError(t, err)
	require.Nil(t, denial)
	require.False(t, result.Attempt.Passed)
	return result.Attempt
}

func TestHandleAssessmentFailureInsertsRemedial(t *testing.T) {
	e := newTestEnv(t)
	_, assessment, qVar, qArr := setupAdaptiveFixture(t, e)

	// 变量题答对，数组题答错：薄弱主题是 arrays
	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qArr.ID, Answer: "X"},
	})

	svc := newAdaptiveService(e, &fakeGenerator{suggErr: errors.New("unavailable")})
	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, attempt)
	require.NoError(t, err)

	assert.True(t, result.Adjusted)
	assert.Equal(t, []string{"arrays"}, result.TopicGaps)
	// 根因分析：数组题在全部历史尝试里都答错，变量题没有
	assert.Equal(t, []uint{qArr.ID}, result.ConsistentErrors)
	require.Len(t, result.Inserted, 1)
	assert.True(t, result.Inserted[0].IsRemedial)
	assert.Equal(t, "arrays", result.Inserted[0].Topic)

	rm, err := e.roadmap.FindActiveByStudent(studentID)
	require.NoError(t, err)
	require.Len(t, rm.Items, 3)

	// 补救项插在第一个同主题条目之前，OrderIndex 连续
	assert.Equal(t, "variables", rm.Items[0].Topic)
	assert.True(t, rm.Items[1].IsRemedial)
	assert.Equal(t, "arrays", rm.Items[1].Topic)
	assert.False(t, rm.Items[2].IsRemedial)
	for i, item := range rm.Items {
		assert.Equal(t, i, item.OrderIndex)
	}

	// 补救项无前置、时长计入总量、rationale 追加了说明
	assert.Empty(t, rm.Items[1].Prerequisites)
	assert.Equal(t, 90, rm.TotalEstimatedTime)
	assert.Contains(t, rm.Rationale, "arrays")
	assert.Equal(t, model.RoadmapActive, rm.Status)
}

func TestHandleAssessmentFailureDedup(t *testing.T) {
	e := newTestEnv(t)
	_, assessment, qVar, qArr := setupAdaptiveFixture(t, e)
	svc := newAdaptiveService(e, &fakeGenerator{suggErr: errors.New("unavailable")})

	answers := []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qArr.ID, Answer: "X"},
	}

	first := failAttempt(t, e, assessment.ID, answers)
	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, first)
	require.NoError(t, err)
	assert.True(t, result.Adjusted)

	// 同一主题再次失败：不重复插入
	second := failAttempt(t, e, assessment.ID, answers)
	result, err = svc.HandleAssessmentFailure(studentID, assessment.ID, second)
	require.NoError(t, err)
	assert.False(t, result.Adjusted)

	rm, err := e.roadmap.FindActiveByStudent(studentID)
	require.NoError(t, err)
	remedials := 0
	for _, item := range rm.Items {
		if item.IsRemedial {
			remedials++
		}
	}
	assert.Equal(t, 1, remedials)
}

func TestRemedialLinksToPublishedLessonByTopic(t *testing.T) {
	e := newTestEnv(t)
	_, assessment, qVar, qArr := setupAdaptiveFixture(t, e)

	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qArr.ID, Answer: "X"},
	})

	svc := newAdaptiveService(e, &fakeGenerator{suggErr: errors.New("unavailable")})
	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, attempt)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)

	// 主题能匹配到已发布课时：补救项回链到该课时
	lesson, err := e.content.FindPublishedLessonByTopic("arrays")
	require.NoError(t, err)
	assert.Equal(t, lesson.ID, result.Inserted[0].ContentID)
}

func TestRemedialSynthesizedWhenNoLessonMatches(t *testing.T) {
	e := newTestEnv(t)
	_, assessment, qVar, _ := setupAdaptiveFixture(t, e)
	qPtr := e.createQuestion(t, assessment.ID, "recursion", "C", 10)

	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qPtr.ID, Answer: "X"},
	})

	svc := newAdaptiveService(e, &fakeGenerator{suggErr: errors.New("unavailable")})
	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, attempt)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)

	// 没有同主题课时：合成纯路线条目，ContentID 为 0，兜底参数
	inserted := result.Inserted[0]
	assert.Equal(t, uint(0), inserted.ContentID)
	assert.Equal(t, 30, inserted.EstimatedTime)
	assert.Equal(t, model.DifficultyBeginner, inserted.Difficulty)
	assert.True(t, strings.Contains(inserted.Title, "recursion"))

	// 没有同主题条目：插到路线头部
	rm, err := e.roadmap.FindActiveByStudent(studentID)
	require.NoError(t, err)
	assert.True(t, rm.Items[0].IsRemedial)
}

func TestSynthesizedRemedialDoesNotBlockRoadmap(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	lesson := e.createLesson(t, course.ID, "变量与类型", "variables", 1)

	gen := &fakeGenerator{path: &ProposedPath{Items: []ProposedPathItem{
		{ContentID: lesson.ID, Title: lesson.Title, Topic: lesson.Topic, EstimatedTime: 30},
	}}}
	rmSvc := newRoadmapService(e, gen)
	_, err := rmSvc.GenerateRoadmap(studentID, GenerateRoadmapRequest{})
	require.NoError(t, err)

	// 薄弱主题没有任何同主题课时：插入的是合成条目
	assessment := e.createAssessment(t, course.ID, &lesson.ID, false, 0, 80)
	q := e.createQuestion(t, assessment.ID, "recursion", "A", 10)
	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{{QuestionID: q.ID, Answer: "X"}})

	svc := newAdaptiveService(e, &fakeGenerator{suggErr: errors.New("unavailable")})
	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, attempt)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)
	require.Equal(t, uint(0), result.Inserted[0].ContentID)

	// 合成条目排在头部，不阻塞其后真实课时的解锁
	view, err := rmSvc.GetRoadmapWithProgress(studentID)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.True(t, view.Items[0].IsRemedial)
	assert.True(t, view.Items[1].IsUnlocked)

	// 真实课时全部完成后整条路线可判定完成
	e.completeLesson(t, studentID, lesson.ID)
	done, err := rmSvc.CompleteRoadmapIfDone(studentID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestHandleAssessmentFailureUsesGeneratorSuggestions(t *testing.T) {
	e := newTestEnv(t)
	_, assessment, qVar, qArr := setupAdaptiveFixture(t, e)

	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qArr.ID, Answer: "X"},
	})

	gen := &fakeGenerator{suggestions: []RemedialSuggestion{{
		Topic:         "arrays",
		Title:         "数组专项强化",
		Notes:         "从一维数组的内存布局讲起",
		EstimatedTime: 50,
		Difficulty:    model.DifficultyIntermediate,
	}}}
	svc := newAdaptiveService(e, gen)

	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, attempt)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)
	assert.Equal(t, "数组专项强化", result.Inserted[0].Title)
	assert.Equal(t, 50, result.Inserted[0].EstimatedTime)
	assert.Equal(t, model.DifficultyIntermediate, result.Inserted[0].Difficulty)
	assert.Equal(t, 1, gen.suggestN)
}

func TestNoActiveRoadmapNoAdjustment(t *testing.T) {
	e := newTestEnv(t)
	course := e.createCourse(t, "C语言入门", true)
	e.enroll(t, studentID, course.ID)
	lesson := e.createLesson(t, course.ID, "变量与类型", "variables", 1)
	assessment := e.createAssessment(t, course.ID, &lesson.ID, false, 0, 80)
	q := e.createQuestion(t, assessment.ID, "variables", "A", 10)

	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{{QuestionID: q.ID, Answer: "X"}})

	svc := newAdaptiveService(e, &fakeGenerator{})
	result, err := svc.HandleAssessmentFailure(studentID, assessment.ID, attempt)
	require.NoError(t, err)
	assert.False(t, result.Adjusted)
	assert.Empty(t, result.Inserted)
}

func TestHandleAssessmentFailureByAttemptID(t *testing.T) {
	e := newTestEnv(t)
	_, assessment, qVar, qArr := setupAdaptiveFixture(t, e)
	svc := newAdaptiveService(e, &fakeGenerator{suggErr: errors.New("unavailable")})

	attempt := failAttempt(t, e, assessment.ID, []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qArr.ID, Answer: "X"},
	})

	// 别人的作答记录不允许触发
	_, err := svc.HandleAssessmentFailureByAttemptID(studentID+1, attempt.ID)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	// 不存在的作答记录
	_, err = svc.HandleAssessmentFailureByAttemptID(studentID, attempt.ID+999)
	assert.ErrorIs(t, err, util.ErrAttemptNotFound)

	result, err := svc.HandleAssessmentFailureByAttemptID(studentID, attempt.ID)
	require.NoError(t, err)
	assert.True(t, result.Adjusted)

	// 已通过的提交不触发调整
	passed, denial, err := e.progression.SubmitAttempt(studentID, assessment.ID, []AnswerInput{
		{QuestionID: qVar.ID, Answer: "A"},
		{QuestionID: qArr.ID, Answer: "B"},
	})
	require.NoError(t, err)
	require.Nil(t, denial)
	require.True(t, passed.Attempt.Passed)

	result, err = svc.HandleAssessmentFailureByAttemptID(studentID, passed.Attempt.ID)
	require.NoError(t, err)
	assert.False(t, result.Adjusted)
}

func TestIsStruggling(t *testing.T) {
	mk := func(scores ...int) []model.AssessmentAttempt {
		out := make([]model.AssessmentAttempt, len(scores))
		for i, s := range scores {
			out[i] = model.AssessmentAttempt{AttemptNumber: i + 1, Score: s}
		}
		return out
	}

	assert.False(t, isStruggling(mk(40, 30)))         // 不足 3 次
	assert.False(t, isStruggling(mk(30, 40, 50)))     // 分数在提升
	assert.True(t, isStruggling(mk(50, 40, 50)))      // 原地踏步
	assert.True(t, isStruggling(mk(50, 40, 30)))      // 越考越差
	assert.True(t, isStruggling(mk(20, 50, 40, 45)))  // 最近三次无提升
	assert.False(t, isStruggling(mk(20, 30, 40, 60))) // 持续提升
}

func TestConsistentErrorQuestions(t *testing.T) {
	wrong := func(qid uint) model.QuestionAnswer {
		return model.QuestionAnswer{QuestionID: qid, Correct: false}
	}
	right := func(qid uint) model.QuestionAnswer {
		return model.QuestionAnswer{QuestionID: qid, Correct: true}
	}

	history := []model.AssessmentAttempt{
		{Answers: []model.QuestionAnswer{wrong(1), wrong(2), right(3)}},
		{Answers: []model.QuestionAnswer{wrong(1), right(2), right(3)}},
		{Answers: []model.QuestionAnswer{wrong(1), right(2), wrong(3)}},
	}

	// 题 1 错 3/3，题 2 错 1/3，题 3 错 2/3（≥60%）
	out := ConsistentErrorQuestions(history)
	assert.Equal(t, []uint{1, 3}, out)
	assert.Nil(t, ConsistentErrorQuestions(nil))
}
