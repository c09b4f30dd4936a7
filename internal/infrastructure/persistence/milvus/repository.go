package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Repository 章节向量分片仓储，按小说分区存储
type Repository struct {
	client *Client
}

// NewRepository 创建向量检索仓储
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

func (r *Repository) ready() error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	return nil
}

// SearchParams 检索参数
type SearchParams struct {
	NovelID     string
	QueryVector []float32
	// MaxSeqNum 仅召回序号小于该值的章节片段，避免检索到未来剧情
	MaxSeqNum int64
	TopK      int
}

// SearchResult 检索结果
type SearchResult struct {
	ID          string
	Score       float32
	TextContent string
	ChapterID   string
	SeqNum      int64
}

// CreateCollection 创建集合，集合名会加配置前缀
func (r *Repository) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	if err := r.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateCollection",
		trace.WithAttributes(attribute.String("collection", schema.CollectionName)))
	defer span.End()

	schema.CollectionName = r.client.CollectionName(schema.CollectionName)
	if err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// CreateIndex 为集合的 vector 字段创建 HNSW 索引
func (r *Repository) CreateIndex(ctx context.Context, collection string) error {
	if err := r.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateIndex",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	idx, err := entity.NewIndexHNSW(
		entity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	collName := r.client.CollectionName(collection)
	if err := r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// CreatePartition 为小说创建专属分区
func (r *Repository) CreatePartition(ctx context.Context, collection, novelID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "milvus.CreatePartition",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("partition", PartitionName(novelID)),
		))
	defer span.End()

	collName := r.client.CollectionName(collection)
	return r.client.milvus.CreatePartition(ctx, collName, PartitionName(novelID))
}

// SearchSegments 在小说分区内做向量检索
func (r *Repository) SearchSegments(ctx context.Context, params *SearchParams) ([]*SearchResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "milvus.SearchSegments",
		trace.WithAttributes(
			attribute.String("novel_id", params.NovelID),
			attribute.Int("top_k", params.TopK),
		))
	defer span.End()

	collName := r.client.CollectionName(CollectionChapterSegments)
	partitionName := PartitionName(params.NovelID)

	// 分区尚未创建（新书）时直接返回空结果，避免 Milvus 报 partition not found。
	has, err := r.client.milvus.HasPartition(ctx, collName, partitionName)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return []*SearchResult{}, nil
	}

	filter := fmt.Sprintf(`novel_id == "%s"`, params.NovelID)
	if params.MaxSeqNum > 0 {
		filter += fmt.Sprintf(` && seq_num < %d`, params.MaxSeqNum)
	}

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		collName,
		[]string{partitionName},
		filter,
		[]string{"id", "text_content", "chapter_id", "seq_num"},
		[]entity.Vector{entity.FloatVector(params.QueryVector)},
		"vector",
		entity.COSINE,
		params.TopK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	out := collectSearchResults(results)
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

func collectSearchResults(results []client.SearchResult) []*SearchResult {
	var out []*SearchResult
	for _, result := range results {
		ids := varcharColumn(result.Fields.GetColumn("id"))
		texts := varcharColumn(result.Fields.GetColumn("text_content"))
		chapters := varcharColumn(result.Fields.GetColumn("chapter_id"))
		seqs := int64Column(result.Fields.GetColumn("seq_num"))

		for i := 0; i < result.ResultCount; i++ {
			sr := &SearchResult{Score: result.Scores[i]}
			if i < len(ids) {
				sr.ID = ids[i]
			}
			if i < len(texts) {
				sr.TextContent = texts[i]
			}
			if i < len(chapters) {
				sr.ChapterID = chapters[i]
			}
			if i < len(seqs) {
				sr.SeqNum = seqs[i]
			}
			out = append(out, sr)
		}
	}
	return out
}

func varcharColumn(col entity.Column) []string {
	if c, ok := col.(*entity.ColumnVarChar); ok {
		return c.Data()
	}
	return nil
}

func int64Column(col entity.Column) []int64 {
	if c, ok := col.(*entity.ColumnInt64); ok {
		return c.Data()
	}
	return nil
}

// InsertSegments 插入章节片段，分区不存在时先行创建
func (r *Repository) InsertSegments(ctx context.Context, novelID string, segments []*ChapterSegment) error {
	if err := r.ready(); err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.InsertSegments",
		trace.WithAttributes(
			attribute.String("novel_id", novelID),
			attribute.Int("count", len(segments)),
		))
	defer span.End()

	collName := r.client.CollectionName(CollectionChapterSegments)
	partitionName := PartitionName(novelID)

	has, _ := r.client.milvus.HasPartition(ctx, collName, partitionName)
	if !has {
		if err := r.CreatePartition(ctx, CollectionChapterSegments, novelID); err != nil {
			return err
		}
	}

	ids := make([]string, len(segments))
	vectors := make([][]float32, len(segments))
	novelIDs := make([]string, len(segments))
	chapterIDs := make([]string, len(segments))
	seqNums := make([]int64, len(segments))
	texts := make([]string, len(segments))
	for i, seg := range segments {
		ids[i] = seg.ID
		vectors[i] = seg.Vector
		novelIDs[i] = seg.NovelID
		chapterIDs[i] = seg.ChapterID
		seqNums[i] = seg.SeqNum
		texts[i] = seg.TextContent
	}

	_, err := r.client.milvus.Insert(ctx, collName, partitionName,
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", VectorDimension, vectors),
		entity.NewColumnVarChar("novel_id", novelIDs),
		entity.NewColumnVarChar("chapter_id", chapterIDs),
		entity.NewColumnInt64("seq_num", seqNums),
		entity.NewColumnVarChar("text_content", texts),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert segments: %w", err)
	}
	return nil
}

// DeleteSegmentsByChapter 删除章节的所有片段（章节重写后重建向量）
func (r *Repository) DeleteSegmentsByChapter(ctx context.Context, novelID, chapterID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	chapterID = strings.TrimSpace(chapterID)
	if chapterID == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.DeleteSegmentsByChapter",
		trace.WithAttributes(attribute.String("chapter_id", chapterID)))
	defer span.End()

	collName := r.client.CollectionName(CollectionChapterSegments)
	partitionName := PartitionName(novelID)

	has, err := r.client.milvus.HasPartition(ctx, collName, partitionName)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return nil
	}

	filter := fmt.Sprintf(`chapter_id == "%s"`, chapterID)
	if err := r.client.milvus.Delete(ctx, collName, partitionName, filter); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	return nil
}

// EnsureChapterSegmentsCollection 确保 chapter_segments 集合与索引可用（不存在则创建）。
// 不做 drop/rebuild 等破坏性操作。
func (r *Repository) EnsureChapterSegmentsCollection(ctx context.Context) error {
	if err := r.ready(); err != nil {
		return err
	}

	exists, err := r.client.HasCollection(ctx, CollectionChapterSegments)
	if err != nil {
		return err
	}
	if !exists {
		if err := r.CreateCollection(ctx, ChapterSegmentsSchema()); err != nil {
			return err
		}
		// 索引创建失败不阻塞，后续可由运维补建
		_ = r.CreateIndex(ctx, CollectionChapterSegments)
	}

	return r.client.LoadCollection(ctx, CollectionChapterSegments)
}
