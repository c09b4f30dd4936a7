// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionChapterSegments 章节片段集合
	CollectionChapterSegments = "chapter_segments"

	// VectorDimension 向量维度
	VectorDimension = 1536
)

// ChapterSegmentsSchema 章节片段 Collection Schema
func ChapterSegmentsSchema() *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionChapterSegments,
		Description:    "Chapter content segments for semantic context retrieval",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": "1536",
				},
			},
			{
				Name:     "novel_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "chapter_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "seq_num",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "text_content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
		},
	}
}

// ChapterSegment 章节片段数据结构
type ChapterSegment struct {
	ID          string    `json:"id"`
	Vector      []float32 `json:"vector"`
	NovelID     string    `json:"novel_id"`
	ChapterID   string    `json:"chapter_id"`
	SeqNum      int64     `json:"seq_num"`
	TextContent string    `json:"text_content"`
}

// PartitionName 生成分区名称
func PartitionName(novelID string) string {
	return "novel_" + novelID
}
