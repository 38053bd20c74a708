package repository

import (
	"edupath_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

// RoadmapRepository 学习路线持久化。多步修改（换项、重排序、
// 改 rationale、状态翻转）都在一个事务里落库，失败即整体回滚，
// 不会留下 orderIndex 重复或断号的路线。
type RoadmapRepository struct {
	DB *gorm.DB
}

func NewRoadmapRepository(db *gorm.DB) *RoadmapRepository {
	return &RoadmapRepository{DB: db}
}

func (r *RoadmapRepository) FindActiveByStudent(studentID uint) (*model.Roadmap, error) {
	var rm model.Roadmap
	err := r.DB.Where("student_id = ? AND status = ?", studentID, model.RoadmapActive).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index asc")
		}).
		First(&rm).Error
	return &rm, err
}

func (r *RoadmapRepository) FindByID(id string) (*model.Roadmap, error) {
	var rm model.Roadmap
	err := r.DB.Where("id = ?", id).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index asc")
		}).
		First(&rm).Error
	return &rm, err
}

// CreateSuperseding 暂停旧的 active 路线并插入新路线，同一事务保证
// 任一时刻恰好一条 active。旧路线只改状态，永不删除。
func (r *RoadmapRepository) CreateSuperseding(rm *model.Roadmap) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Roadmap{}).
			Where("student_id = ? AND status = ?", rm.StudentID, model.RoadmapActive).
			Update("status", model.RoadmapPaused).Error; err != nil {
			return err
		}
		return tx.Create(rm).Error
	})
}

// SaveItems 原子替换路线内容：更新路线行 + 重写全部条目。
// 调用方负责保证传入条目的 OrderIndex 连续。
func (r *RoadmapRepository) SaveItems(rm *model.Roadmap, items []model.LearningPathItem) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Roadmap{}).Where("id = ?", rm.ID).
			Updates(map[string]interface{}{
				"rationale":            rm.Rationale,
				"total_estimated_time": rm.TotalEstimatedTime,
				"status":               rm.Status,
				"updated_at":           time.Now(),
			}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("roadmap_id = ?", rm.ID).
			Delete(&model.LearningPathItem{}).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			items[i].RoadmapID = rm.ID
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

func (r *RoadmapRepository) UpdateStatus(id string, status model.RoadmapStatus) error {
	return r.DB.Model(&model.Roadmap{}).Where("id = ?", id).Update("status", status).Error
}

func (r *RoadmapRepository) ListByStudent(studentID uint) ([]model.Roadmap, error) {
	var rms []model.Roadmap
	err := r.DB.Where("student_id = ?", studentID).Order("generated_at desc").Find(&rms).Error
	return rms, err
}
