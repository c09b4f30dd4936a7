package retrieval

// SearchInput 语义召回输入。
type SearchInput struct {
	NovelID string
	Query   string

	// MaxSeqNum 仅召回序号严格小于该值的章节片段；<=0 表示不限制。
	MaxSeqNum int64
	TopK      int
}

type Segment struct {
	ID        string
	Text      string
	Score     float64
	ChapterID string
	SeqNum    int64
}

type SearchOutput struct {
	Segments []Segment

	// DisabledReason 非空表示本次向量召回被降级跳过，调用方应继续执行。
	DisabledReason string
}
