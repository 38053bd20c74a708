package service

import (
	"context"
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/pkg/database"
	"edupath_backend/pkg/logger"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// newTestDB 每个测试一个独立的内存库，跑完随连接一起销毁
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db          *gorm.DB
	content     *repository.ContentRepository
	enrollment  *repository.EnrollmentRepository
	progress    *repository.ProgressRepository
	attempt     *repository.AttemptRepository
	roadmap     *repository.RoadmapRepository
	unlock      *UnlockService
	progression *ProgressionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	content := repository.NewContentRepository(db)
	enrollment := repository.NewEnrollmentRepository(db)
	progress := repository.NewProgressRepository(db)
	attempt := repository.NewAttemptRepository(db)
	roadmap := repository.NewRoadmapRepository(db)
	unlock := NewUnlockService(content)

	return &testEnv{
		db:          db,
		content:     content,
		enrollment:  enrollment,
		progress:    progress,
		attempt:     attempt,
		roadmap:     roadmap,
		unlock:      unlock,
		progression: NewProgressionService(content, enrollment, progress, attempt, unlock, nil),
	}
}

func (e *testEnv) createCourse(t *testing.T, title string, published bool) *model.Course {
	t.Helper()
	c := &model.Course{Title: title, Published: published, CreatorID: 99}
	if err := e.content.CreateCourse(c); err != nil {
		t.Fatalf("create course: %v", err)
	}
	return c
}

func (e *testEnv) createLesson(t *testing.T, courseID uint, title, topic string, orderNum int, prereqs ...uint) *model.Lesson {
	t.Helper()
	l := &model.Lesson{
		CourseID:      courseID,
		Title:         title,
		Topic:         topic,
		Published:     true,
		EstimatedTime: 45,
		Difficulty:    model.DifficultyBeginner,
		OrderNum:      orderNum,
		Prerequisites: prereqs,
	}
	if err := e.content.CreateLesson(l); err != nil {
		t.Fatalf("create lesson: %v", err)
	}
	return l
}

func (e *testEnv) createAssessment(t *testing.T, courseID uint, lessonID *uint, mandatory bool, maxAttempts, passingScore int) *model.Assessment {
	t.Helper()
	a := &model.Assessment{
		CourseID:     courseID,
		LessonID:     lessonID,
		Title:        "测验",
		Published:    true,
		IsMandatory:  mandatory,
		MaxAttempts:  maxAttempts,
		PassingScore: passingScore,
	}
	if err := e.content.CreateAssessment(a); err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	return a
}

func (e *testEnv) createQuestion(t *testing.T, assessmentID uint, topic, answer string, points int) *model.AssessmentQuestion {
	t.Helper()
	q := &model.AssessmentQuestion{
		AssessmentID: assessmentID,
		Topic:        topic,
		Content:      "题干",
		Answer:       answer,
		Points:       points,
	}
	if err := e.content.CreateQuestion(q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

func (e *testEnv) enroll(t *testing.T, studentID, courseID uint) {
	t.Helper()
	if err := e.enrollment.Enroll(studentID, courseID); err != nil {
		t.Fatalf("enroll: %v", err)
	}
}

func (e *testEnv) completeLesson(t *testing.T, studentID, lessonID uint) *UnlockedContent {
	t.Helper()
	delta, err := e.progression.UpdateProgress(ProgressUpdate{
		StudentID:    studentID,
		ContentID:    lessonID,
		Kind:         model.KindLesson,
		MarkComplete: true,
	})
	if err != nil {
		t.Fatalf("complete lesson %d: %v", lessonID, err)
	}
	return delta
}

// fakeGenerator 测试用确定性生成器
type fakeGenerator struct {
	path        *ProposedPath
	pathErr     error
	suggestions []RemedialSuggestion
	suggErr     error
	proposeN    int
	suggestN    int
}

func (f *fakeGenerator) ProposePath(_ context.Context, _ StudentProfile, _ []model.Lesson) (*ProposedPath, error) {
	f.proposeN++
	if f.pathErr != nil {
		return nil, f.pathErr
	}
	return f.path, nil
}

func (f *fakeGenerator) SuggestRemediation(_ context.Context, _ []string, _ bool) ([]RemedialSuggestion, error) {
	f.suggestN++
	if f.suggErr != nil {
		return nil, f.suggErr
	}
	return f.suggestions, nil
}

func newRoadmapService(e *testEnv, gen PathGenerator) *RoadmapService {
	return NewRoadmapService(e.roadmap, e.content, e.progress, e.attempt, e.enrollment, gen, time.Second)
}

func newAdaptiveService(e *testEnv, gen PathGenerator) *AdaptiveService {
	return NewAdaptiveService(e.roadmap, e.content, e.attempt, gen, time.Second)
}
