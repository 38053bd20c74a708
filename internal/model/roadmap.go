package model

import "time"

type RoadmapStatus string

const (
	RoadmapActive    RoadmapStatus = "active"
	RoadmapPaused    RoadmapStatus = "paused"
	RoadmapCompleted RoadmapStatus = "completed"
)

// Roadmap 个性化学习路线。每个学生同一时刻只有一条 active 路线；
// 重新生成时旧路线置为 paused，永不删除（保留审计历史）。
// swagger:model Roadmap
type Roadmap struct {
	UUIDBase
	StudentID          uint               `gorm:"index;not null;type:bigint unsigned" json:"studentId"`
	Status             RoadmapStatus      `gorm:"size:20;default:'active';index" json:"status"`
	Rationale          string             `gorm:"type:longtext" json:"rationale"` // 只追加
	GeneratedAt        time.Time          `json:"generatedAt"`
	TotalEstimatedTime int                `gorm:"default:0" json:"totalEstimatedTime"`
	Items              []LearningPathItem `gorm:"foreignKey:RoadmapID;references:ID" json:"items"`
}

func (Roadmap) TableName() string {
	return "roadmaps"
}

// LearningPathItem 路线中的一项。OrderIndex 在同一路线内连续 0..N-1，
// 且每个前置项的 OrderIndex 必须小于本项。
// swagger:model LearningPathItem
type LearningPathItem struct {
	BaseModel
	RoadmapID            string     `gorm:"index;type:varchar(36);not null" json:"roadmapId"`
	ContentID            uint       `gorm:"type:bigint unsigned" json:"contentId"` // 补救项为 0
	OrderIndex           int        `gorm:"not null" json:"orderIndex"`
	Title                string     `gorm:"size:255;not null" json:"title"`
	Topic                string     `gorm:"size:100" json:"topic"`
	Prerequisites        UintList   `gorm:"serializer:json" json:"prerequisites"`
	EstimatedTime        int        `gorm:"default:0" json:"estimatedTime"`
	Difficulty           Difficulty `gorm:"size:20;default:'beginner'" json:"difficulty"`
	PersonalizationNotes string     `gorm:"type:text" json:"personalizationNotes"`
	IsRemedial           bool       `gorm:"default:false" json:"isRemedial"`
}

func (LearningPathItem) TableName() string {
	return "learning_path_items"
}

// PathItemProgress 叠加了实时进度的路线项视图
type PathItemProgress struct {
	LearningPathItem
	IsUnlocked       bool           `json:"isUnlocked"`
	CompletionStatus ProgressStatus `json:"completionStatus"`
}
