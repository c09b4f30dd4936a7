package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"bookforge-api/internal/infrastructure/persistence/milvus"
	"bookforge-api/pkg/logger"
)

// ErrVectorDisabled 向量能力未就绪（Milvus 或 Embedder 缺失），调用方按无召回降级。
var ErrVectorDisabled = errors.New("vector retrieval is disabled")

// Engine 章节语义召回引擎。
// embedder 与 vector 任一缺失时整体降级为 no-op，正文生成不依赖它。
type Engine struct {
	embedder embedding.Embedder
	vector   *milvus.Repository

	embeddingBatchSize int
}

func NewEngine(embedder embedding.Embedder, vectorRepo *milvus.Repository, embeddingBatchSize int) *Engine {
	bs := embeddingBatchSize
	if bs <= 0 {
		bs = defaultEmbeddingBatch
	}
	return &Engine{
		embedder:           embedder,
		vector:             vectorRepo,
		embeddingBatchSize: bs,
	}
}

func (e *Engine) Enabled() bool {
	return e != nil && e.embedder != nil && e.vector != nil
}

func (e *Engine) ensureReady(ctx context.Context) error {
	if e == nil || e.vector == nil {
		return ErrVectorDisabled
	}
	return e.vector.EnsureChapterSegmentsCollection(ctx)
}

// Search 召回与 query 语义相近的已有章节片段。
// 任何内部失败都转化为 DisabledReason 而非错误，调用链不因检索不可用而中断。
func (e *Engine) Search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	if in.TopK <= 0 {
		in.TopK = 10
	}
	if in.TopK > 50 {
		in.TopK = 50
	}
	in.Query = strings.TrimSpace(in.Query)
	in.NovelID = strings.TrimSpace(in.NovelID)
	if in.NovelID == "" {
		return nil, fmt.Errorf("novel_id is required")
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	out := &SearchOutput{}
	if !e.Enabled() {
		out.DisabledReason = ErrVectorDisabled.Error()
		return out, nil
	}
	if err := e.ensureReady(ctx); err != nil {
		out.DisabledReason = err.Error()
		return out, nil
	}

	start := time.Now()
	emb, err := e.embedQuery(ctx, in.Query)
	if err != nil {
		out.DisabledReason = err.Error()
		return out, nil
	}

	results, err := e.vector.SearchSegments(ctx, &milvus.SearchParams{
		NovelID:     in.NovelID,
		QueryVector: emb,
		MaxSeqNum:   in.MaxSeqNum,
		TopK:        in.TopK,
	})
	if err != nil {
		out.DisabledReason = err.Error()
		return out, nil
	}

	out.Segments = make([]Segment, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		text := strings.TrimSpace(r.TextContent)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			ID:        strings.TrimSpace(r.ID),
			Text:      text,
			Score:     1 - float64(r.Score), // 将“距离”转换为更直观的相似度（COSINE: distance=1-cos）
			ChapterID: strings.TrimSpace(r.ChapterID),
			SeqNum:    r.SeqNum,
		})
	}

	logger.FromContext(ctx).Debug("vector search completed",
		"novel_id", in.NovelID,
		"segments", len(out.Segments),
		"cost_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e == nil || e.embedder == nil {
		return nil, ErrVectorDisabled
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("query is empty")
	}
	v64, err := e.embedder.EmbedStrings(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	if len(v64) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	vec := v64[0]
	out := make([]float32, 0, len(vec))
	for _, x := range vec {
		out = append(out, float32(x))
	}
	return out, nil
}
