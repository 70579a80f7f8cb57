package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/pkg/logger"

	"go.uber.org/zap"
)

const enrichBatchSize = 20

// EnrichmentService 后台补全服务：定时扫描缺向量的题目和资料切片
// 补算embedding，给新题跑查重，再给缺语义标注的题目补概念标签。
// 题目上传路径不等这些结果，全部异步完成。
type EnrichmentService struct {
	questionRepo *repository.QuestionRepository
	chunkRepo    *repository.MaterialChunkRepository
	ai           *AIService
	dupSvc       *DuplicateService

	embeddingModel string
	interval       time.Duration
}

func NewEnrichmentService(
	questionRepo *repository.QuestionRepository,
	chunkRepo *repository.MaterialChunkRepository,
	ai *AIService,
	dupSvc *DuplicateService,
	embeddingModel string,
	intervalMin int,
) *EnrichmentService {
	if intervalMin <= 0 {
		intervalMin = 10
	}
	return &EnrichmentService{
		questionRepo:   questionRepo,
		chunkRepo:      chunkRepo,
		ai:             ai,
		dupSvc:         dupSvc,
		embeddingModel: embeddingModel,
		interval:       time.Duration(intervalMin) * time.Minute,
	}
}

// Start 阻塞运行直到ctx取消，应在独立goroutine里调用
func (s *EnrichmentService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Log.Info("enrichment worker started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("enrichment worker stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 单轮补全，测试和手动触发共用
func (s *EnrichmentService) RunOnce(ctx context.Context) {
	s.embedQuestions(ctx)
	s.embedChunks(ctx)
	s.annotateQuestions(ctx)
}

// embedQuestions 查重在embedding落库后立即做，题目第一次被看到
// 就带上duplicate_warning标记
func (s *EnrichmentService) embedQuestions(ctx context.Context) {
	questions, err := s.questionRepo.FindMissingEmbedding(enrichBatchSize)
	if err != nil {
		logger.Log.Error("failed to scan unembedded questions", zap.Error(err))
		return
	}

	for i := range questions {
		if ctx.Err() != nil {
			return
		}
		q := &questions[i]
		if err := s.dupSvc.Check(ctx, q, s.embeddingModel); err != nil {
			logger.Log.Warn("duplicate check failed",
				zap.String("question_id", q.ID), zap.Error(err))
		}
	}
	if len(questions) > 0 {
		logger.Log.Info("question embeddings backfilled", zap.Int("count", len(questions)))
	}
}

func (s *EnrichmentService) embedChunks(ctx context.Context) {
	chunks, err := s.chunkRepo.FindMissingEmbedding(enrichBatchSize)
	if err != nil {
		logger.Log.Error("failed to scan unembedded chunks", zap.Error(err))
		return
	}

	embedded := 0
	for _, c := range chunks {
		if ctx.Err() != nil {
			return
		}
		vec, err := s.ai.Embed(ctx, c.Text)
		if err != nil {
			logger.Log.Warn("chunk embedding failed", zap.Uint("chunk_id", c.ID), zap.Error(err))
			continue
		}
		if vec == nil {
			return // embedding未配置，本轮放弃
		}
		if err := s.chunkRepo.UpdateEmbedding(c.ID, model.Vector(vec), s.embeddingModel); err != nil {
			logger.Log.Warn("failed to store chunk embedding", zap.Uint("chunk_id", c.ID), zap.Error(err))
			continue
		}
		embedded++
	}
	if embedded > 0 {
		logger.Log.Info("chunk embeddings backfilled", zap.Int("count", embedded))
	}
}

// semanticAnnotation 语义标注的期望输出结构。
// abstraction_level 1=事实 2=概念 3=程序 4=元认知
type semanticAnnotation struct {
	Concepts         []string `json:"concepts"`
	AbstractionLevel int      `json:"abstraction_level"`
	ReasoningSteps   int      `json:"reasoning_steps"`
}

// annotateQuestions 给题目补概念列表、抽象层级和推理步数，
// 供后续的相似度解释和难度校准用
func (s *EnrichmentService) annotateQuestions(ctx context.Context) {
	questions, err := s.questionRepo.FindMissingAnnotation(enrichBatchSize)
	if err != nil {
		logger.Log.Error("failed to scan unannotated questions", zap.Error(err))
		return
	}

	annotated := 0
	for i := range questions {
		if ctx.Err() != nil {
			return
		}
		q := &questions[i]
		ann, err := s.annotateOne(ctx, q)
		if err != nil {
			logger.Log.Warn("annotation failed", zap.String("question_id", q.ID), zap.Error(err))
			continue
		}
		if ann == nil {
			return // AI未配置
		}

		updates := map[string]interface{}{
			"concepts":          model.StringList(ann.Concepts),
			"abstraction_level": ann.AbstractionLevel,
			"reasoning_steps":   ann.ReasoningSteps,
		}
		if err := s.questionRepo.UpdateColumns(q.ID, updates); err != nil {
			logger.Log.Warn("failed to store annotation", zap.String("question_id", q.ID), zap.Error(err))
			continue
		}
		annotated++
	}
	if annotated > 0 {
		logger.Log.Info("questions annotated", zap.Int("count", annotated))
	}
}

func (s *EnrichmentService) annotateOne(ctx context.Context, q *model.Question) (*semanticAnnotation, error) {
	prompt := fmt.Sprintf(`Analyze this exam question and return JSON only:
{"concepts":["..."],"abstraction_level":1,"reasoning_steps":1}
abstraction_level: 1=factual 2=conceptual 3=procedural 4=metacognitive

Question: %s`, q.QuestionText)

	raw, err := s.ai.Complete(ctx, prompt, "You are a curriculum analyst. Answer with a single JSON object.")
	if err != nil {
		if errors.Is(err, ErrAINotConfigured) {
			return nil, nil
		}
		return nil, err
	}

	parsed, ok := ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("annotation output is not valid JSON")
	}
	var ann semanticAnnotation
	if err := json.Unmarshal(parsed, &ann); err != nil {
		return nil, err
	}
	if ann.ReasoningSteps < 1 {
		ann.ReasoningSteps = 1
	}
	if ann.AbstractionLevel < 1 {
		ann.AbstractionLevel = 1
	}
	if ann.AbstractionLevel > 4 {
		ann.AbstractionLevel = 4
	}
	return &ann, nil
}
