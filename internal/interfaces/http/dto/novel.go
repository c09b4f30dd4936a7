// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"bookforge-api/internal/domain/entity"
)

// NovelResponse 小说响应
type NovelResponse struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	Title     string             `json:"title"`
	Synopsis  string             `json:"synopsis,omitempty"`
	Genre     string             `json:"genre,omitempty"`
	WordCount int                `json:"word_count"`
	Status    entity.NovelStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ToNovelResponse 转换小说实体
func ToNovelResponse(novel *entity.Novel) *NovelResponse {
	if novel == nil {
		return nil
	}
	return &NovelResponse{
		ID:        novel.ID,
		OwnerID:   novel.OwnerID,
		Title:     novel.Title,
		Synopsis:  novel.Synopsis,
		Genre:     novel.Genre,
		WordCount: novel.WordCount,
		Status:    novel.Status,
		CreatedAt: novel.CreatedAt,
		UpdatedAt: novel.UpdatedAt,
	}
}

// NovelListResponse 小说列表响应
type NovelListResponse struct {
	Novels []*NovelResponse `json:"novels"`
}

// ToNovelListResponse 转换小说列表
func ToNovelListResponse(novels []*entity.Novel) NovelListResponse {
	out := make([]*NovelResponse, 0, len(novels))
	for _, n := range novels {
		out = append(out, ToNovelResponse(n))
	}
	return NovelListResponse{Novels: out}
}

// VolumeResponse 分卷响应
type VolumeResponse struct {
	ID      string `json:"id"`
	NovelID string `json:"novel_id"`
	SeqNum  int    `json:"seq_num"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// VolumeListResponse 分卷列表响应
type VolumeListResponse struct {
	Volumes []*VolumeResponse `json:"volumes"`
}

// ToVolumeListResponse 转换分卷列表
func ToVolumeListResponse(volumes []*entity.Volume) VolumeListResponse {
	out := make([]*VolumeResponse, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, &VolumeResponse{
			ID:      v.ID,
			NovelID: v.NovelID,
			SeqNum:  v.SeqNum,
			Title:   v.Title,
			Summary: v.Summary,
		})
	}
	return VolumeListResponse{Volumes: out}
}

// ChapterSummaryResponse 章节概要响应，列表接口不含正文
type ChapterSummaryResponse struct {
	ID        string               `json:"id"`
	NovelID   string               `json:"novel_id"`
	VolumeID  string               `json:"volume_id,omitempty"`
	SeqNum    int                  `json:"seq_num"`
	Title     string               `json:"title,omitempty"`
	Summary   string               `json:"summary,omitempty"`
	WordCount int                  `json:"word_count"`
	Status    entity.ChapterStatus `json:"status"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ChapterListResponse 章节列表响应
type ChapterListResponse struct {
	Chapters []*ChapterSummaryResponse `json:"chapters"`
}

// ToChapterListResponse 转换章节列表
func ToChapterListResponse(chapters []*entity.Chapter) ChapterListResponse {
	out := make([]*ChapterSummaryResponse, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, &ChapterSummaryResponse{
			ID:        ch.ID,
			NovelID:   ch.NovelID,
			VolumeID:  ch.VolumeID,
			SeqNum:    ch.SeqNum,
			Title:     ch.Title,
			Summary:   ch.Summary,
			WordCount: ch.WordCount,
			Status:    ch.Status,
			UpdatedAt: ch.UpdatedAt,
		})
	}
	return ChapterListResponse{Chapters: out}
}

// ChapterResponse 章节详情响应，含大纲与正文
type ChapterResponse struct {
	ChapterSummaryResponse
	Outline     string `json:"outline,omitempty"`
	ContentText string `json:"content_text,omitempty"`
}

// ToChapterResponse 转换章节实体
func ToChapterResponse(ch *entity.Chapter) *ChapterResponse {
	if ch == nil {
		return nil
	}
	return &ChapterResponse{
		ChapterSummaryResponse: ChapterSummaryResponse{
			ID:        ch.ID,
			NovelID:   ch.NovelID,
			VolumeID:  ch.VolumeID,
			SeqNum:    ch.SeqNum,
			Title:     ch.Title,
			Summary:   ch.Summary,
			WordCount: ch.WordCount,
			Status:    ch.Status,
			UpdatedAt: ch.UpdatedAt,
		},
		Outline:     ch.Outline,
		ContentText: ch.ContentText,
	}
}
