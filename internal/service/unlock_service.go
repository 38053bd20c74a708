package service

import (
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// UnlockedContent 一次进度更新解锁的内容增量
type UnlockedContent struct {
	Lessons     []uint `json:"lessons"`
	Assessments []uint `json:"assessments"`
	Courses     []uint `json:"courses"`
}

func (u *UnlockedContent) Empty() bool {
	return len(u.Lessons) == 0 && len(u.Assessments) == 0 && len(u.Courses) == 0
}

// AccessEvaluator 单点访问判定，由 ProgressionService 实现。
// 级联计算只负责遍历和差分，判定逻辑不在这里重复。
type AccessEvaluator interface {
	CanAccessContent(studentID, contentID uint, kind model.ContentKind) (*AccessResult, error)
}

// UnlockService 解锁级联计算。范围限定在单个课程（O(V+E)），
// 自身无状态，可访问集完全由持久层推导，因此天然幂等：
// 相邻两次计算之间没有进度变化时，差分为空。
type UnlockService struct {
	Content *repository.ContentRepository
}

func NewUnlockService(content *repository.ContentRepository) *UnlockService {
	return &UnlockService{Content: content}
}

// AccessibleSet 计算学生当前在某课程内可访问的内容集合。
// 课时按前置关系拓扑序遍历，每个节点只判定一次。
func (s *UnlockService) AccessibleSet(eval AccessEvaluator, studentID, courseID uint) (map[string]bool, error) {
	set := make(map[string]bool)

	courseRes, err := eval.CanAccessContent(studentID, courseID, model.KindCourse)
	if err != nil {
		return nil, err
	}
	set[accessKey(model.KindCourse, courseID)] = courseRes.CanAccess

	lessons, err := s.Content.ListLessonsByCourse(courseID)
	if err != nil {
		return nil, err
	}

	for _, l := range topoOrderLessons(lessons) {
		res, err := eval.CanAccessContent(studentID, l.ID, model.KindLesson)
		if err != nil {
			return nil, err
		}
		set[accessKey(model.KindLesson, l.ID)] = res.CanAccess
	}

	assessments, err := s.Content.ListAssessmentsByCourse(courseID)
	if err != nil {
		return nil, err
	}
	for _, a := range assessments {
		res, err := eval.CanAccessContent(studentID, a.ID, model.KindAssessment)
		if err != nil {
			return nil, err
		}
		set[accessKey(model.KindAssessment, a.ID)] = res.CanAccess
	}

	return set, nil
}

// Diff 差分出新解锁的内容：更新前不可访问、更新后可访问的 ID
func (s *UnlockService) Diff(before, after map[string]bool) *UnlockedContent {
	delta := &UnlockedContent{}
	for key, accessible := range after {
		if !accessible || before[key] {
			continue
		}
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		id64, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		id := uint(id64)
		switch model.ContentKind(parts[0]) {
		case model.KindLesson:
			delta.Lessons = append(delta.Lessons, id)
		case model.KindAssessment:
			delta.Assessments = append(delta.Assessments, id)
		case model.KindCourse:
			delta.Courses = append(delta.Courses, id)
		}
	}
	sortIDs(delta.Lessons)
	sortIDs(delta.Assessments)
	sortIDs(delta.Courses)
	return delta
}

func sortIDs(ids []uint) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func accessKey(kind model.ContentKind, id uint) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// topoOrderLessons Kahn 拓扑排序。课时表假定是 DAG，但不盲信：
// 环里的课时排不进队列，按原声明顺序补在末尾，保证每个节点仍被判定一次。
func topoOrderLessons(lessons []model.Lesson) []model.Lesson {
	inSet := make(map[uint]*model.Lesson, len(lessons))
	for i := range lessons {
		inSet[lessons[i].ID] = &lessons[i]
	}

	indegree := make(map[uint]int, len(lessons))
	dependents := make(map[uint][]uint)
	for _, l := range lessons {
		for _, pid := range l.Prerequisites {
			if _, ok := inSet[pid]; !ok {
				continue // 课程外的前置不参与本课程内排序
			}
			indegree[l.ID]++
			dependents[pid] = append(dependents[pid], l.ID)
		}
	}

	var queue []uint
	for _, l := range lessons {
		if indegree[l.ID] == 0 {
			queue = append(queue, l.ID)
		}
	}

	ordered := make([]model.Lesson, 0, len(lessons))
	seen := make(map[uint]bool, len(lessons))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, *inSet[id])
		seen[id] = true
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	for _, l := range lessons {
		if !seen[l.ID] {
			ordered = append(ordered, l)
		}
	}
	return ordered
}
