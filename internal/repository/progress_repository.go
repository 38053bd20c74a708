package repository

import (
	"edupath_backend/internal/model"
	"edupath_backend/internal/util"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ProgressRepository 进度持久化。记录只增不删；
// 更新走乐观锁（version 列），并发写冲突时由服务层重读重试一次。
type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

func (r *ProgressRepository) Find(studentID, contentID uint, kind model.ContentKind) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	err := r.DB.Where("student_id = ? AND content_id = ? AND content_kind = ?", studentID, contentID, kind).
		First(&rec).Error
	return &rec, err
}

// FindOrInit 查不到时返回一条未持久化的 not_started 记录
func (r *ProgressRepository) FindOrInit(studentID, contentID uint, kind model.ContentKind) (*model.ProgressRecord, error) {
	rec, err := r.Find(studentID, contentID, kind)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.ProgressRecord{
			StudentID:   studentID,
			ContentID:   contentID,
			ContentKind: kind,
			Status:      model.StatusNotStarted,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create 新建进度记录。首写竞争（两个并发请求都拿到未持久化的
// 初始记录后各自插入）会撞 (student, content, kind) 唯一索引，
// 这里映射为 util.ErrPersistenceConflict，与版本冲突走同一条
// 重读重试路径。
func (r *ProgressRepository) Create(rec *model.ProgressRecord) error {
	err := r.DB.Create(rec).Error
	if isDuplicateKey(err) {
		return util.ErrPersistenceConflict
	}
	return err
}

// isDuplicateKey 识别唯一索引冲突（mysql 1062 / sqlite UNIQUE）
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// UpdateVersioned 带版本检查的更新。版本不匹配（并发写）时返回
// util.ErrPersistenceConflict，由调用方决定是否重读重试。
func (r *ProgressRepository) UpdateVersioned(rec *model.ProgressRecord) error {
	expected := rec.Version
	rec.Version = expected + 1

	res := r.DB.Model(&model.ProgressRecord{}).
		Where("id = ? AND version = ?", rec.ID, expected).
		Updates(map[string]interface{}{
			"status":         rec.Status,
			"completion_pct": rec.CompletionPct,
			"best_score":     rec.BestScore,
			"time_spent":     rec.TimeSpent,
			"last_accessed":  rec.LastAccessed,
			"version":        rec.Version,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		rec.Version = expected
		return util.ErrPersistenceConflict
	}
	return nil
}

// ListByStudentAndCourseContent 取学生在某课程范围内所有内容的进度快照
func (r *ProgressRepository) ListByStudentAndContentIDs(studentID uint, kind model.ContentKind, contentIDs []uint) ([]model.ProgressRecord, error) {
	if len(contentIDs) == 0 {
		return nil, nil
	}
	var recs []model.ProgressRecord
	err := r.DB.Where("student_id = ? AND content_kind = ? AND content_id IN ?", studentID, kind, contentIDs).
		Find(&recs).Error
	return recs, err
}

func (r *ProgressRepository) ListByStudent(studentID uint) ([]model.ProgressRecord, error) {
	var recs []model.ProgressRecord
	err := r.DB.Where("student_id = ?", studentID).Find(&recs).Error
	return recs, err
}

// SnapshotMap 以 contentID 为键的状态快照，供级联计算使用
func (r *ProgressRepository) SnapshotMap(studentID uint, kind model.ContentKind, contentIDs []uint) (map[uint]model.ProgressRecord, error) {
	recs, err := r.ListByStudentAndContentIDs(studentID, kind, contentIDs)
	if err != nil {
		return nil, err
	}
	m := make(map[uint]model.ProgressRecord, len(recs))
	for _, rec := range recs {
		m[rec.ContentID] = rec
	}
	return m, nil
}
