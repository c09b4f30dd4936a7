// Package entity 定义领域实体
package entity

import (
	"time"
)

// 大纲层级：1 全书、2 分卷、3 章节
const (
	OutlineLevelBook    = 1
	OutlineLevelVolume  = 2
	OutlineLevelChapter = 3
)

// OutlineNodeStatus 大纲节点状态
type OutlineNodeStatus string

const (
	OutlineNodeStatusDraft     OutlineNodeStatus = "draft"
	OutlineNodeStatusConfirmed OutlineNodeStatus = "confirmed"
)

// OutlineNode 大纲树节点。
// 通过 ParentID 持有父节点，跨持久化边界不持有对象指针，树由加载后按 id 索引重建。
type OutlineNode struct {
	ID        string            `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID    string            `json:"task_id" gorm:"type:uuid;index;not null"`
	NovelID   string            `json:"novel_id,omitempty" gorm:"type:uuid;index"`
	ParentID  string            `json:"parent_id,omitempty" gorm:"type:uuid;index"`
	Level     int               `json:"level" gorm:"not null"`
	Title     string            `json:"title" gorm:"type:varchar(255)"`
	Content   string            `json:"content,omitempty" gorm:"type:text"`
	SortOrder int               `json:"sort_order" gorm:"not null"`
	Status    OutlineNodeStatus `json:"status" gorm:"type:varchar(20);default:'draft'"`
	VolumeID  string            `json:"volume_id,omitempty" gorm:"type:uuid"`
	ChapterID string            `json:"chapter_id,omitempty" gorm:"type:uuid"`
	CreatedAt time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (OutlineNode) TableName() string {
	return "outline_nodes"
}

// NewOutlineNode 创建大纲节点
func NewOutlineNode(taskID, novelID, parentID string, level, sortOrder int, title, content string) *OutlineNode {
	now := time.Now()
	return &OutlineNode{
		TaskID:    taskID,
		NovelID:   novelID,
		ParentID:  parentID,
		Level:     level,
		Title:     title,
		Content:   content,
		SortOrder: sortOrder,
		Status:    OutlineNodeStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// OutlineTreeNode 内存中的大纲树节点
type OutlineTreeNode struct {
	*OutlineNode
	Children []*OutlineTreeNode
}

// BuildOutlineTree 从父指针行重建大纲树。
// 先全量索引再单趟挂接，孤儿节点（父节点缺失）被忽略。
func BuildOutlineTree(nodes []*OutlineNode) []*OutlineTreeNode {
	index := make(map[string]*OutlineTreeNode, len(nodes))
	for _, n := range nodes {
		index[n.ID] = &OutlineTreeNode{OutlineNode: n}
	}

	var roots []*OutlineTreeNode
	for _, n := range nodes {
		tn := index[n.ID]
		if n.ParentID == "" {
			roots = append(roots, tn)
			continue
		}
		parent, ok := index[n.ParentID]
		if !ok {
			continue
		}
		parent.Children = append(parent.Children, tn)
	}

	sortTreeNodes(roots)
	return roots
}

func sortTreeNodes(nodes []*OutlineTreeNode) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].SortOrder < nodes[j-1].SortOrder; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
	for _, n := range nodes {
		sortTreeNodes(n.Children)
	}
}
