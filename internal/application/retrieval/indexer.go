package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"

	"bookforge-api/internal/domain/entity"
	"bookforge-api/internal/infrastructure/persistence/milvus"
)

const (
	defaultChunkSizeRunes    = 800
	defaultChunkOverlapRunes = 80
	defaultEmbeddingBatch    = 32
)

// Indexer 把章节正文切片后写入向量库，供后续章节生成时召回。
type Indexer struct {
	embedder embedding.Embedder
	vector   *milvus.Repository

	embeddingBatchSize int
	chunkSizeRunes     int
	chunkOverlapRunes  int
}

func NewIndexer(embedder embedding.Embedder, vectorRepo *milvus.Repository, embeddingBatchSize int) *Indexer {
	if embeddingBatchSize <= 0 {
		embeddingBatchSize = defaultEmbeddingBatch
	}
	return &Indexer{
		embedder:           embedder,
		vector:             vectorRepo,
		embeddingBatchSize: embeddingBatchSize,
		chunkSizeRunes:     defaultChunkSizeRunes,
		chunkOverlapRunes:  defaultChunkOverlapRunes,
	}
}

func (i *Indexer) Enabled() bool {
	return i != nil && i.embedder != nil && i.vector != nil
}

// IndexChapter 重建某章节的向量分片。先删后写，保证正文重写后旧分片不残留。
func (i *Indexer) IndexChapter(ctx context.Context, novelID string, chapter *entity.Chapter) error {
	switch {
	case strings.TrimSpace(novelID) == "":
		return fmt.Errorf("novel_id is required")
	case chapter == nil:
		return fmt.Errorf("chapter is nil")
	case strings.TrimSpace(chapter.ID) == "":
		return fmt.Errorf("chapter.id is required")
	case !i.Enabled():
		return ErrVectorDisabled
	}
	if err := i.vector.EnsureChapterSegmentsCollection(ctx); err != nil {
		return err
	}

	if err := i.vector.DeleteSegmentsByChapter(ctx, novelID, chapter.ID); err != nil {
		return err
	}

	// 空正文只做删除，避免旧分片残留
	content := strings.TrimSpace(chapter.ContentText)
	if content == "" {
		return nil
	}

	segments, embedInputs := i.buildSegments(novelID, chapter, content)
	if len(segments) == 0 {
		return nil
	}

	vectors, err := i.embedBatch(ctx, embedInputs)
	if err != nil {
		return err
	}
	for idx := range segments {
		segments[idx].Vector = vectors[idx]
	}
	return i.vector.InsertSegments(ctx, novelID, segments)
}

// buildSegments 切片正文并准备嵌入输入。嵌入文本带章节标题增强语义，
// 存储的分片只留原文。
func (i *Indexer) buildSegments(novelID string, chapter *entity.Chapter, content string) ([]*milvus.ChapterSegment, []string) {
	chunks := splitByRunes(content, i.chunkSizeRunes, i.chunkOverlapRunes)
	title := strings.TrimSpace(chapter.Title)

	segments := make([]*milvus.ChapterSegment, 0, len(chunks))
	embedInputs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		embedText := chunk
		if title != "" {
			embedText = "章节标题：" + title + "\n" + embedText
		}
		embedInputs = append(embedInputs, embedText)
		segments = append(segments, &milvus.ChapterSegment{
			ID:          uuid.NewString(),
			NovelID:     novelID,
			ChapterID:   chapter.ID,
			SeqNum:      int64(chapter.SeqNum),
			TextContent: chunk,
		})
	}
	return segments, embedInputs
}

func (i *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if i == nil || i.embedder == nil {
		return nil, ErrVectorDisabled
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += i.embeddingBatchSize {
		end := start + i.embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := i.embedder.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, vec := range vecs {
			f32 := make([]float32, len(vec))
			for j, x := range vec {
				f32[j] = float32(x)
			}
			out = append(out, f32)
		}
	}
	return out, nil
}
