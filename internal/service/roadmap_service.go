package service

import (
	"context"
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/internal/util"
	"edupath_backend/pkg/logger"
	"edupath_backend/pkg/monitoring"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RoadmapService 个性化路线规划。外部生成服务只出候选，
// 落库前一律做拓扑校验修复，排不进去的条目丢弃并记日志。
type RoadmapService struct {
	Roadmap    *repository.RoadmapRepository
	Content    *repository.ContentRepository
	Progress   *repository.ProgressRepository
	Attempt    *repository.AttemptRepository
	Enrollment *repository.EnrollmentRepository
	Generator  PathGenerator
	GenTimeout time.Duration
}

func NewRoadmapService(
	roadmapRepo *repository.RoadmapRepository,
	contentRepo *repository.ContentRepository,
	progressRepo *repository.ProgressRepository,
	attemptRepo *repository.AttemptRepository,
	enrollmentRepo *repository.EnrollmentRepository,
	generator PathGenerator,
	genTimeout time.Duration,
) *RoadmapService {
	return &RoadmapService{
		Roadmap:    roadmapRepo,
		Content:    contentRepo,
		Progress:   progressRepo,
		Attempt:    attemptRepo,
		Enrollment: enrollmentRepo,
		Generator:  generator,
		GenTimeout: genTimeout,
	}
}

type GenerateRoadmapRequest struct {
	TargetSkills     []string `json:"targetSkills"`
	TimeLimitMinutes int      `json:"timeLimitMinutes"`
	ForceRegenerate  bool     `json:"forceRegenerate"`
}

// GenerateRoadmap 生成新路线。已有 active 路线且未强制重生成时
// 直接返回现有路线；重生成时旧路线置 paused，任一时刻恰好一条 active。
func (s *RoadmapService) GenerateRoadmap(studentID uint, req GenerateRoadmapRequest) (*model.Roadmap, error) {
	existing, err := s.Roadmap.FindActiveByStudent(studentID)
	if err == nil && !req.ForceRegenerate {
		return existing, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	profile, available, err := s.gatherProfile(studentID, req)
	if err != nil {
		return nil, err
	}

	// 外部生成服务有硬超时；失败或超时走确定性兜底，绝不阻塞请求
	ctx, cancel := context.WithTimeout(context.Background(), s.GenTimeout)
	defer cancel()

	var candidate *ProposedPath
	proposed, genErr := s.Generator.ProposePath(ctx, *profile, available)
	if genErr != nil {
		logger.Log.Warn("path generator unavailable, using rule-based fallback",
			zap.Uint("studentId", studentID), zap.Error(genErr))
		monitoring.GeneratorFallbacks.WithLabelValues("propose_path").Inc()
		candidate = s.fallbackPath(profile, available)
	} else {
		candidate = proposed
	}

	items := s.validateAndRepair(studentID, candidate.Items)

	total := 0
	for i := range items {
		items[i].OrderIndex = i
		total += items[i].EstimatedTime
	}

	rationale := candidate.Rationale
	if rationale == "" {
		rationale = "按课程声明顺序生成的默认学习路线。"
	}

	roadmap := &model.Roadmap{
		StudentID:          studentID,
		Status:             model.RoadmapActive,
		Rationale:          rationale,
		GeneratedAt:        time.Now(),
		TotalEstimatedTime: total,
		Items:              items,
	}
	if err := s.Roadmap.CreateSuperseding(roadmap); err != nil {
		return nil, err
	}
	return roadmap, nil
}

// gatherProfile 汇总学生画像：已完成内容、知识薄弱点（来自未通过
// 测验的错题主题）、目标技能；可选内容为已报名课程的已发布课时。
func (s *RoadmapService) gatherProfile(studentID uint, req GenerateRoadmapRequest) (*StudentProfile, []model.Lesson, error) {
	records, err := s.Progress.ListByStudent(studentID)
	if err != nil {
		return nil, nil, err
	}
	var completed []uint
	completedSet := make(map[uint]bool)
	for _, rec := range records {
		if rec.ContentKind == model.KindLesson && rec.Status == model.StatusCompleted {
			completed = append(completed, rec.ContentID)
			completedSet[rec.ContentID] = true
		}
	}

	enrollments, err := s.Enrollment.ListByStudent(studentID)
	if err != nil {
		return nil, nil, err
	}

	var available []model.Lesson
	gapSet := make(map[string]bool)
	for _, e := range enrollments {
		lessons, err := s.Content.ListLessonsByCourse(e.CourseID)
		if err != nil {
			return nil, nil, err
		}
		for _, l := range lessons {
			if l.Published && !completedSet[l.ID] {
				available = append(available, l)
			}
		}

		// 薄弱点：未通过测验中答错题目的主题
		assessments, err := s.Content.ListAssessmentsByCourse(e.CourseID)
		if err != nil {
			return nil, nil, err
		}
		for _, a := range assessments {
			gaps, err := s.topicGapsFor(studentID, a.ID)
			if err != nil {
				return nil, nil, err
			}
			for _, g := range gaps {
				gapSet[g] = true
			}
		}
	}

	var gaps []string
	for g := range gapSet {
		gaps = append(gaps, g)
	}

	profile := &StudentProfile{
		StudentID:        studentID,
		CompletedContent: completed,
		KnowledgeGaps:    gaps,
		TargetSkills:     req.TargetSkills,
		TimeLimit:        req.TimeLimitMinutes,
	}
	return profile, available, nil
}

func (s *RoadmapService) topicGapsFor(studentID, assessmentID uint) ([]string, error) {
	passed, err := s.Attempt.HasPassed(studentID, assessmentID)
	if err != nil || passed {
		return nil, err
	}
	attempts, err := s.Attempt.List(studentID, assessmentID)
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	questions, err := s.Content.ListQuestions(assessmentID)
	if err != nil {
		return nil, err
	}
	topicByQuestion := make(map[uint]string, len(questions))
	for _, q := range questions {
		topicByQuestion[q.ID] = q.Topic
	}

	seen := make(map[string]bool)
	var gaps []string
	last := attempts[len(attempts)-1]
	for _, ans := range last.Answers {
		if ans.Correct {
			continue
		}
		topic := topicByQuestion[ans.QuestionID]
		if topic != "" && !seen[topic] {
			seen[topic] = true
			gaps = append(gaps, topic)
		}
	}
	return gaps, nil
}

// fallbackPath 生成服务不可用时的确定性规则：
// 未完成的已发布课时按课程声明顺序排队
func (s *RoadmapService) fallbackPath(profile *StudentProfile, available []model.Lesson) *ProposedPath {
	items := make([]ProposedPathItem, len(available))
	for i, l := range available {
		items[i] = ProposedPathItem{
			ContentID:     l.ID,
			Title:         l.Title,
			Topic:         l.Topic,
			Prerequisites: l.Prerequisites,
			EstimatedTime: l.EstimatedTime,
			Difficulty:    l.Difficulty,
		}
	}
	return &ProposedPath{
		Items:     items,
		Rationale: "路径生成服务暂不可用，按课程声明顺序生成默认路线。",
	}
}

// validateAndRepair 候选路线的拓扑校验修复：
//  1. DFS 染色检出前置环，环上的条目全部丢弃并记日志；
//  2. 稳定拓扑重排，保证每个条目的前置都排在更小的下标；
//  3. 不在候选集合里的前置视为外部依赖，不参与本次排序。
func (s *RoadmapService) validateAndRepair(studentID uint, candidate []ProposedPathItem) []model.LearningPathItem {
	index := make(map[uint]int, len(candidate))
	for i, item := range candidate {
		if item.ContentID != 0 {
			index[item.ContentID] = i
		}
	}

	// DFS 三色标记找环
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(candidate))
	inCycle := make([]bool, len(candidate))

	var visit func(i int) bool // 返回是否处于环中
	visit = func(i int) bool {
		color[i] = gray
		cyclic := false
		for _, pid := range candidate[i].Prerequisites {
			j, ok := index[pid]
			if !ok {
				continue
			}
			switch color[j] {
			case gray:
				cyclic = true
			case white:
				if visit(j) {
					cyclic = true
				}
			case black:
				if inCycle[j] {
					cyclic = true
				}
			}
		}
		color[i] = black
		inCycle[i] = cyclic
		return cyclic
	}
	for i := range candidate {
		if color[i] == white {
			visit(i)
		}
	}

	dropped := 0
	usable := make([]ProposedPathItem, 0, len(candidate))
	usableSet := make(map[uint]bool)
	for i, item := range candidate {
		if inCycle[i] {
			dropped++
			logger.Log.Warn("dropping path item in prerequisite cycle",
				zap.Uint("studentId", studentID),
				zap.Uint("contentId", item.ContentID),
				zap.String("title", item.Title))
			continue
		}
		usable = append(usable, item)
		if item.ContentID != 0 {
			usableSet[item.ContentID] = true
		}
	}

	// 稳定拓扑排序：反复扫描，提取前置已全部就位的条目
	placed := make(map[uint]bool)
	done := make([]bool, len(usable))
	var ordered []model.LearningPathItem
	for remaining := len(usable); remaining > 0; {
		progressed := false
		for i, item := range usable {
			if done[i] {
				continue
			}
			ready := true
			for _, pid := range item.Prerequisites {
				if usableSet[pid] && !placed[pid] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			done[i] = true
			progressed = true
			remaining--
			if item.ContentID != 0 {
				placed[item.ContentID] = true
			}
			ordered = append(ordered, model.LearningPathItem{
				ContentID:            item.ContentID,
				Title:                item.Title,
				Topic:                item.Topic,
				Prerequisites:        item.Prerequisites,
				EstimatedTime:        item.EstimatedTime,
				Difficulty:           normalizeDifficulty(item.Difficulty),
				PersonalizationNotes: item.Notes,
			})
		}
		if !progressed {
			// 染色已除环，理论上不会走到；防御性兜底，剩余条目丢弃
			for i, item := range usable {
				if !done[i] {
					dropped++
					logger.Log.Warn("dropping unplaceable path item",
						zap.Uint("studentId", studentID),
						zap.Uint("contentId", item.ContentID))
				}
			}
			break
		}
	}

	if dropped > 0 {
		logger.Log.Info("roadmap candidate repaired",
			zap.Uint("studentId", studentID),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(ordered)))
	}
	return ordered
}

func normalizeDifficulty(d model.Difficulty) model.Difficulty {
	switch d {
	case model.DifficultyBeginner, model.DifficultyIntermediate, model.DifficultyAdvanced:
		return d
	}
	return model.DifficultyBeginner
}

// RoadmapWithProgress 叠加实时进度后的路线视图
type RoadmapWithProgress struct {
	Roadmap *model.Roadmap           `json:"roadmap"`
	Items   []model.PathItemProgress `json:"items"`
}

// GetRoadmapWithProgress 路线叠加实时进度。解锁规则：
// 第 0 项始终解锁；第 i 项解锁当且仅当第 i-1 项已完成
// 且本项声明的前置全部完成。合成条目（ContentID 为 0，
// 没有可完成的内容载体）视为已满足，不阻塞其后条目的解锁。
func (s *RoadmapService) GetRoadmapWithProgress(studentID uint) (*RoadmapWithProgress, error) {
	roadmap, err := s.Roadmap.FindActiveByStudent(studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRoadmapNotFound
		}
		return nil, err
	}

	var contentIDs []uint
	for _, item := range roadmap.Items {
		if item.ContentID != 0 {
			contentIDs = append(contentIDs, item.ContentID)
		}
	}
	snapshot, err := s.Progress.SnapshotMap(studentID, model.KindLesson, contentIDs)
	if err != nil {
		return nil, err
	}

	statusOf := func(contentID uint) model.ProgressStatus {
		if rec, ok := snapshot[contentID]; ok {
			return rec.Status
		}
		return model.StatusNotStarted
	}

	items := make([]model.PathItemProgress, len(roadmap.Items))
	prevCompleted := true
	for i, item := range roadmap.Items {
		status := model.StatusNotStarted
		if item.ContentID != 0 {
			status = statusOf(item.ContentID)
		}

		unlocked := i == 0
		if i > 0 {
			unlocked = prevCompleted
			for _, pid := range item.Prerequisites {
				if statusOf(pid) != model.StatusCompleted {
					unlocked = false
					break
				}
			}
		}

		items[i] = model.PathItemProgress{
			LearningPathItem: item,
			IsUnlocked:       unlocked,
			CompletionStatus: status,
		}
		prevCompleted = status == model.StatusCompleted || item.ContentID == 0
	}

	return &RoadmapWithProgress{Roadmap: roadmap, Items: items}, nil
}

// CompleteRoadmapIfDone 所有条目完成时 active → completed（终态）
func (s *RoadmapService) CompleteRoadmapIfDone(studentID uint) (bool, error) {
	view, err := s.GetRoadmapWithProgress(studentID)
	if err != nil {
		if errors.Is(err, util.ErrRoadmapNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(view.Items) == 0 {
		return false, nil
	}
	// 合成条目没有完成载体，不参与完成判定
	real := 0
	for _, item := range view.Items {
		if item.ContentID == 0 {
			continue
		}
		real++
		if item.CompletionStatus != model.StatusCompleted {
			return false, nil
		}
	}
	if real == 0 {
		return false, nil
	}
	if err := s.Roadmap.UpdateStatus(view.Roadmap.ID, model.RoadmapCompleted); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RoadmapService) ListHistory(studentID uint) ([]model.Roadmap, error) {
	return s.Roadmap.ListByStudent(studentID)
}
