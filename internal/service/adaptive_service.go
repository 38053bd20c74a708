package service

import (
	"context"
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/internal/util"
	"edupath_backend/pkg/logger"
	"edupath_backend/pkg/monitoring"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdaptiveService 测验失败后的路线自适应调整：
// 定位知识薄弱点，在 active 路线里插入补救学习项。
type AdaptiveService struct {
	Roadmap    *repository.RoadmapRepository
	Content    *repository.ContentRepository
	Attempt    *repository.AttemptRepository
	Generator  PathGenerator
	GenTimeout time.Duration
}

func NewAdaptiveService(
	roadmapRepo *repository.RoadmapRepository,
	contentRepo *repository.ContentRepository,
	attemptRepo *repository.AttemptRepository,
	generator PathGenerator,
	genTimeout time.Duration,
) *AdaptiveService {
	return &AdaptiveService{
		Roadmap:    roadmapRepo,
		Content:    contentRepo,
		Attempt:    attemptRepo,
		Generator:  generator,
		GenTimeout: genTimeout,
	}
}

// AdjustmentResult 一次调整的结果。没有 active 路线或
// 薄弱点都已有补救项时 Adjusted 为 false。
type AdjustmentResult struct {
	Adjusted         bool                     `json:"adjusted"`
	Struggling       bool                     `json:"struggling"`
	TopicGaps        []string                 `json:"topicGaps"`
	ConsistentErrors []uint                   `json:"consistentErrors,omitempty"`
	Inserted         []model.LearningPathItem `json:"inserted"`
	Roadmap          *model.Roadmap           `json:"roadmap,omitempty"`
}

// HandleAssessmentFailure 处理一次未通过的测验提交。
// 整个调整在单事务里落库，路线状态保持 active 不变。
func (s *AdaptiveService) HandleAssessmentFailure(studentID, assessmentID uint, attempt *model.AssessmentAttempt) (*AdjustmentResult, error) {
	result := &AdjustmentResult{}

	roadmap, err := s.Roadmap.FindActiveByStudent(studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, nil // 没有路线就没有可调整的对象
		}
		return nil, err
	}

	gaps, err := s.topicGaps(assessmentID, attempt)
	if err != nil {
		return nil, err
	}
	result.TopicGaps = gaps
	if len(gaps) == 0 {
		return result, nil
	}

	history, err := s.Attempt.List(studentID, assessmentID)
	if err != nil {
		return nil, err
	}
	struggling := isStruggling(history)
	result.Struggling = struggling
	result.ConsistentErrors = ConsistentErrorQuestions(history)

	// 同一路线同一主题只插一次补救项
	pending := gaps[:0:0]
	for _, topic := range gaps {
		if !hasRemedialForTopic(roadmap.Items, topic) {
			pending = append(pending, topic)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	suggestions := s.remediate(studentID, pending, struggling)

	var inserted []model.LearningPathItem
	items := roadmap.Items
	for _, sug := range suggestions {
		if hasRemedialForTopic(items, sug.Topic) {
			continue
		}
		item := s.buildRemedialItem(sug)
		items = insertBeforeTopic(items, item)
		inserted = append(inserted, item)
	}
	if len(inserted) == 0 {
		return result, nil
	}

	total := 0
	for i := range items {
		items[i].OrderIndex = i
		total += items[i].EstimatedTime
	}
	roadmap.Items = items
	roadmap.TotalEstimatedTime = total
	roadmap.Rationale += "\n" + adjustmentSentence(pending, struggling)

	if err := s.Roadmap.SaveItems(roadmap, items); err != nil {
		return nil, err
	}

	logger.Log.Info("roadmap adjusted after failed assessment",
		zap.Uint("studentId", studentID),
		zap.Uint("assessmentId", assessmentID),
		zap.Strings("topics", pending),
		zap.Bool("struggling", struggling),
		zap.Uints("consistentErrors", result.ConsistentErrors))

	result.Adjusted = true
	result.Inserted = inserted
	result.Roadmap = roadmap
	return result, nil
}

// HandleAssessmentFailureByAttemptID 按作答记录 ID 触发调整，
// 供外部回调入口使用。已通过的提交不触发任何调整。
func (s *AdaptiveService) HandleAssessmentFailureByAttemptID(studentID, attemptID uint) (*AdjustmentResult, error) {
	attempt, err := s.Attempt.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, util.ErrPermissionDenied
	}
	if attempt.Passed {
		return &AdjustmentResult{}, nil
	}
	return s.HandleAssessmentFailure(studentID, attempt.AssessmentID, attempt)
}

// topicGaps 从失败提交的错题反查薄弱主题，保持题目顺序去重
func (s *AdaptiveService) topicGaps(assessmentID uint, attempt *model.AssessmentAttempt) ([]string, error) {
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
	for _, ans := range attempt.Answers {
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

// isStruggling 连续挣扎判定：至少 3 次尝试且最近一次分数
// 没有超过三次前的分数（多次重考不见起色）
func isStruggling(history []model.AssessmentAttempt) bool {
	n := len(history)
	if n < 3 {
		return false
	}
	return history[n-1].Score <= history[n-3].Score
}

// ConsistentErrorQuestions 在 ≥60% 的历史尝试中都答错的题目
func ConsistentErrorQuestions(history []model.AssessmentAttempt) []uint {
	if len(history) == 0 {
		return nil
	}
	wrongCount := make(map[uint]int)
	order := make([]uint, 0)
	seen := make(map[uint]bool)
	for _, att := range history {
		for _, ans := range att.Answers {
			if !seen[ans.QuestionID] {
				seen[ans.QuestionID] = true
				order = append(order, ans.QuestionID)
			}
			if !ans.Correct {
				wrongCount[ans.QuestionID]++
			}
		}
	}
	var out []uint
	threshold := len(history) * 3 // wrong/total >= 3/5
	for _, qid := range order {
		if wrongCount[qid]*5 >= threshold {
			out = append(out, qid)
		}
	}
	return out
}

// remediate 调外部服务拿补救建议，失败走本地确定性兜底
func (s *AdaptiveService) remediate(studentID uint, gaps []string, struggling bool) []RemedialSuggestion {
	ctx, cancel := context.WithTimeout(context.Background(), s.GenTimeout)
	defer cancel()

	suggestions, err := s.Generator.SuggestRemediation(ctx, gaps, struggling)
	if err == nil && len(suggestions) > 0 {
		return suggestions
	}
	if err != nil {
		logger.Log.Warn("remediation generator unavailable, using fallback",
			zap.Uint("studentId", studentID), zap.Error(err))
		monitoring.GeneratorFallbacks.WithLabelValues("suggest_remediation").Inc()
	}

	// 兜底：每个薄弱主题一条标准补救项
	fallback := make([]RemedialSuggestion, len(gaps))
	for i, topic := range gaps {
		fallback[i] = RemedialSuggestion{
			Topic:         topic,
			Title:         fmt.Sprintf("补救练习：%s", topic),
			Notes:         fmt.Sprintf("针对主题「%s」的针对性复习与练习。", topic),
			EstimatedTime: util.RemedialEstimatedTime,
			Difficulty:    model.DifficultyBeginner,
		}
	}
	return fallback
}

// buildRemedialItem 补救建议落成路线条目。优先回链到已发布的
// 同主题课时；找不到就合成纯路线条目（ContentID 为 0）。
// 补救项不带前置，插入后立即可学。
func (s *AdaptiveService) buildRemedialItem(sug RemedialSuggestion) model.LearningPathItem {
	contentID := uint(0)
	if sug.LessonID != 0 {
		if l, err := s.Content.FindLessonByID(sug.LessonID); err == nil && l.Published {
			contentID = l.ID
		}
	}
	if contentID == 0 {
		if l, err := s.Content.FindPublishedLessonByTopic(sug.Topic); err == nil {
			contentID = l.ID
		}
	}

	title := sug.Title
	if title == "" {
		title = fmt.Sprintf("补救练习：%s", sug.Topic)
	}
	estimated := sug.EstimatedTime
	if estimated <= 0 {
		estimated = util.RemedialEstimatedTime
	}

	return model.LearningPathItem{
		ContentID:            contentID,
		Title:                title,
		Topic:                sug.Topic,
		Prerequisites:        model.UintList{},
		EstimatedTime:        estimated,
		Difficulty:           normalizeDifficulty(sug.Difficulty),
		PersonalizationNotes: sug.Notes,
		IsRemedial:           true,
	}
}

func hasRemedialForTopic(items []model.LearningPathItem, topic string) bool {
	for _, item := range items {
		if item.IsRemedial && strings.EqualFold(item.Topic, topic) {
			return true
		}
	}
	return false
}

// insertBeforeTopic 插到第一个同主题条目之前；没有同主题条目时
// 插到路线头部，保证补救内容先于后续学习出现
func insertBeforeTopic(items []model.LearningPathItem, remedial model.LearningPathItem) []model.LearningPathItem {
	pos := 0
	for i, item := range items {
		if strings.EqualFold(item.Topic, remedial.Topic) && !item.IsRemedial {
			pos = i
			break
		}
	}
	out := make([]model.LearningPathItem, 0, len(items)+1)
	out = append(out, items[:pos]...)
	out = append(out, remedial)
	out = append(out, items[pos:]...)
	return out
}

func adjustmentSentence(topics []string, struggling bool) string {
	joined := strings.Join(topics, "、")
	if struggling {
		return fmt.Sprintf("[%s] 检测到多次重考未见提升，已针对主题「%s」插入补救学习项。",
			time.Now().Format("2006-01-02 15:04"), joined)
	}
	return fmt.Sprintf("[%s] 测验未通过，已针对主题「%s」插入补救学习项。",
		time.Now().Format("2006-01-02 15:04"), joined)
}
