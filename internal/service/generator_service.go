package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"qbank_backend/internal/config"
	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/pkg/logger"
	"qbank_backend/pkg/monitoring"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// completionClient 出题需要的文本生成能力，便于测试注入假实现
type completionClient interface {
	Complete(ctx context.Context, prompt, system string) (string, error)
	RepairJSON(ctx context.Context, malformed string) (json.RawMessage, error)
}

// contextProvider 出题需要的资料检索能力
type contextProvider interface {
	FindSimilarChunks(ctx context.Context, query, courseCode string, limit int) ([]model.MaterialChunk, error)
}

// GeneratorService 出卷规划器：按蓝图的三个维度配额（课程目标/学习目标/难度）
// 生成指定数量的题目。缺口通过AI生成补齐，外层最多重试3轮吸收模型输出的损耗。
// 设计上每次都全量生成，不先从已审核题库抽题（可见仓库历史上的策略演进）。
type GeneratorService struct {
	questionRepo *repository.QuestionRepository
	courseRepo   *repository.CourseRepository
	batchRepo    *repository.UploadBatchRepository
	ctxProvider  contextProvider
	ai           completionClient

	maxAttempts   atomic.Int32
	contextWindow int
	fetchFactor   int
}

func NewGeneratorService(
	questionRepo *repository.QuestionRepository,
	courseRepo *repository.CourseRepository,
	batchRepo *repository.UploadBatchRepository,
	ctxProvider contextProvider,
	ai completionClient,
	cfg config.GenerationConfig,
) *GeneratorService {
	s := &GeneratorService{
		questionRepo:  questionRepo,
		courseRepo:    courseRepo,
		batchRepo:     batchRepo,
		ctxProvider:   ctxProvider,
		ai:            ai,
		contextWindow: cfg.ContextWindow,
		fetchFactor:   cfg.ContextFetchFactor,
	}
	s.maxAttempts.Store(int32(cfg.MaxAttempts))
	return s
}

// SetMaxAttempts 配置热更新入口
func (s *GeneratorService) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts.Store(int32(n))
	}
}

// Blueprint 一次出卷调用的输入。三个分布各自的计数之和必须等于total。
type Blueprint struct {
	CourseCode             string         `json:"course_code" binding:"required"`
	Topics                 []string       `json:"topics"`
	Marks                  float64        `json:"marks"`
	Total                  int            `json:"total" binding:"required,gt=0"`
	CODistribution         map[string]int `json:"co_distribution" binding:"required"`
	LODistribution         map[string]int `json:"lo_distribution" binding:"required"`
	DifficultyDistribution map[string]int `json:"difficulty_distribution" binding:"required"`
	Style                  string         `json:"style"` // Analytical | Theory | Hybrid
}

func validateBlueprint(bp *Blueprint) error {
	if bp.Total <= 0 {
		return fmt.Errorf("total must be positive, got %d", bp.Total)
	}
	if sum := sumCounts(bp.CODistribution); sum != bp.Total {
		return fmt.Errorf("co_distribution sums to %d but total is %d", sum, bp.Total)
	}
	if sum := sumCounts(bp.LODistribution); sum != bp.Total {
		return fmt.Errorf("lo_distribution sums to %d but total is %d", sum, bp.Total)
	}
	if sum := sumCounts(bp.DifficultyDistribution); sum != bp.Total {
		return fmt.Errorf("difficulty_distribution sums to %d but total is %d", sum, bp.Total)
	}
	if bp.Marks <= 0 {
		bp.Marks = 1
	}
	return nil
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// gapSet 三个维度各自的剩余缺口
type gapSet struct {
	CO         map[string]int
	LO         map[string]int
	Difficulty map[string]int
}

func (g gapSet) empty() bool {
	return sumCounts(g.CO) == 0
}

// primaryCO 取权重最高的课程目标；权重并列时编号小的优先（CO1先于CO2）
func primaryCO(co model.COMap) string {
	keys := make([]string, 0, len(co))
	for k := range co {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := ""
	bestWeight := -1.0
	for _, k := range keys {
		if co[k] > bestWeight {
			best = k
			bestWeight = co[k]
		}
	}
	return best
}

// computeGaps 纯函数：用已产出的题目抵扣蓝图配额。
// 每道题抵扣一个主CO、一个难度，以及其LO列表中第一个仍有余额的LO。
// 超量生产时截断在0，不会出现负缺口。
func computeGaps(bp *Blueprint, produced []model.Question) gapSet {
	gaps := gapSet{
		CO:         copyCounts(bp.CODistribution),
		LO:         copyCounts(bp.LODistribution),
		Difficulty: copyCounts(bp.DifficultyDistribution),
	}

	for _, q := range produced {
		decrement(gaps.CO, primaryCO(q.COMap))
		decrement(gaps.Difficulty, q.Difficulty)
		for _, lo := range q.LOList {
			if gaps.LO[lo] > 0 {
				decrement(gaps.LO, lo)
				break
			}
		}
	}
	return gaps
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

func decrement(m map[string]int, key string) {
	if key == "" {
		return
	}
	if n, ok := m[key]; ok {
		if n <= 1 {
			delete(m, key)
		} else {
			m[key] = n - 1
		}
	}
}

// slot 一个还未满足的出题位：目标CO、难度，以及本轮仍有余额的LO快照。
// LO余额在槽位创建时不扣减，只在最终缺口重算时结算——同轮多个槽位
// 可能被告知同一个LO有余额，浪费的部分由外层重试吸收（策略如此，不是bug）。
type slot struct {
	CO         string
	Difficulty string
	Topic      string
	LOs        []string
}

// flattenSlots 把缺口摊平成槽位序列：每次取一个有余额的CO和一个有余额的
// 难度同时扣减。任一维度先耗尽就提前停，欠产留给下一轮。
func flattenSlots(gaps gapSet) []slot {
	co := copyCounts(gaps.CO)
	difficulty := copyCounts(gaps.Difficulty)

	var slots []slot
	for {
		c := firstWithBudget(co)
		d := firstWithBudget(difficulty)
		if c == "" || d == "" {
			break
		}
		decrement(co, c)
		decrement(difficulty, d)
		slots = append(slots, slot{
			CO:         c,
			Difficulty: d,
			LOs:        sortedKeys(gaps.LO),
		})
	}
	return slots
}

func firstWithBudget(m map[string]int) string {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// PaperStats 出卷结果的汇总
type PaperStats struct {
	Requested    int            `json:"requested"`
	Produced     int            `json:"produced"`
	TotalMarks   float64        `json:"total_marks"`
	ByCO         map[string]int `json:"by_co"`
	ByLO         map[string]int `json:"by_lo"`
	ByDifficulty map[string]int `json:"by_difficulty"`
}

type PaperResult struct {
	BatchID string           `json:"batch_id"`
	Paper   []model.Question `json:"paper"`
	Stats   PaperStats       `json:"stats"`
}

// GeneratePaper 出卷入口。校验蓝图后把全量需求当作缺口，最多跑
// maxAttempts轮生成，每轮后重算缺口，CO缺口清零即提前结束。
// 欠产不报错：调用方通过Stats判断是否补齐。
func (s *GeneratorService) GeneratePaper(ctx context.Context, uploaderID uint, bp *Blueprint) (*PaperResult, error) {
	if err := validateBlueprint(bp); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		monitoring.GenerationDuration.Observe(time.Since(start).Seconds())
	}()

	batch := &model.UploadBatch{
		UUIDBase:   model.UUIDBase{ID: model.GenerateUUID()},
		Source:     model.SourceAI,
		CourseCode: bp.CourseCode,
		UploaderID: uploaderID,
		Total:      bp.Total,
	}
	if err := s.batchRepo.Create(batch); err != nil {
		return nil, err
	}

	var produced []model.Question
	gaps := computeGaps(bp, nil)
	maxAttempts := int(s.maxAttempts.Load())

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if gaps.empty() {
			break
		}
		logger.Log.Info("generation round started",
			zap.String("batch_id", batch.ID),
			zap.Int("attempt", attempt),
			zap.Int("co_gap", sumCounts(gaps.CO)))

		round := s.ragGenerate(ctx, bp, gaps, uploaderID, batch.ID)
		produced = append(produced, round...)
		gaps = computeGaps(bp, produced)
	}

	batch.Inserted = len(produced)
	batch.Failed = bp.Total - len(produced)
	if batch.Failed < 0 {
		batch.Failed = 0
	}
	if err := s.batchRepo.Update(batch); err != nil {
		logger.Log.Warn("failed to update generation batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}

	return &PaperResult{
		BatchID: batch.ID,
		Paper:   produced,
		Stats:   s.summarize(bp, produced),
	}, nil
}

func (s *GeneratorService) summarize(bp *Blueprint, produced []model.Question) PaperStats {
	stats := PaperStats{
		Requested:    bp.Total,
		Produced:     len(produced),
		ByCO:         map[string]int{},
		ByLO:         map[string]int{},
		ByDifficulty: map[string]int{},
	}

	loBudget := copyCounts(bp.LODistribution)
	for _, q := range produced {
		if co := primaryCO(q.COMap); co != "" {
			stats.ByCO[co]++
		}
		if q.Difficulty != "" {
			stats.ByDifficulty[q.Difficulty]++
		}
		for _, lo := range q.LOList {
			if loBudget[lo] > 0 {
				decrement(loBudget, lo)
				stats.ByLO[lo]++
				break
			}
		}
		stats.TotalMarks += q.Marks
	}
	return stats
}

// ragGenerate 一轮生成：摊平槽位、按主题轮转分配、逐主题检索上下文并出题。
// 主题组之间互不共享可变状态，可以并行；单个槽位失败只损失那一道题。
func (s *GeneratorService) ragGenerate(ctx context.Context, bp *Blueprint, gaps gapSet, uploaderID uint, batchID string) []model.Question {
	topics := s.topicPool(bp)

	slots := flattenSlots(gaps)
	if len(slots) == 0 {
		return nil
	}
	for i := range slots {
		slots[i].Topic = topics[i%len(topics)]
	}

	// 按主题分组，保持首次出现的顺序
	groups := make(map[string][]slot)
	var order []string
	for _, sl := range slots {
		if _, seen := groups[sl.Topic]; !seen {
			order = append(order, sl.Topic)
		}
		groups[sl.Topic] = append(groups[sl.Topic], sl)
	}

	var mu sync.Mutex
	var produced []model.Question

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range order {
		topic := topic
		group := groups[topic]
		g.Go(func() error {
			qs := s.generateForTopic(gctx, bp, topic, group, uploaderID, batchID)
			mu.Lock()
			produced = append(produced, qs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Log.Error("topic generation round aborted",
			zap.String("batch_id", batchID), zap.Error(err))
		return nil
	}

	if err := s.questionRepo.CreateBatch(produced); err != nil {
		logger.Log.Error("failed to insert generated batch",
			zap.String("batch_id", batchID), zap.Error(err))
		return nil
	}
	return produced
}

func (s *GeneratorService) topicPool(bp *Blueprint) []string {
	if len(bp.Topics) > 0 {
		return bp.Topics
	}
	topics, err := s.courseRepo.GetTopics(bp.CourseCode)
	if err != nil {
		logger.Log.Warn("topic lookup failed", zap.String("course", bp.CourseCode), zap.Error(err))
	}
	if len(topics) == 0 {
		return []string{"General"}
	}
	return topics
}

// generateForTopic 同一主题的槽位共用一次上下文检索（超量拉取），
// 每个槽位取一个滑动窗口，保证同主题的题目用到不同的资料片段。
func (s *GeneratorService) generateForTopic(ctx context.Context, bp *Blueprint, topic string, group []slot, uploaderID uint, batchID string) []model.Question {
	fetch := s.contextWindow * s.fetchFactor * len(group)
	chunks, err := s.ctxProvider.FindSimilarChunks(ctx, bp.CourseCode+" "+topic, bp.CourseCode, fetch)
	if err != nil {
		logger.Log.Warn("context retrieval failed, generating without context",
			zap.String("topic", topic), zap.Error(err))
		chunks = nil
	}

	var out []model.Question
	for i, sl := range group {
		contextText := s.sliceContext(chunks, i)

		q, err := s.generateOne(ctx, bp, sl, contextText)
		if err != nil {
			logger.Log.Warn("slot generation failed",
				zap.String("topic", topic),
				zap.String("co", sl.CO),
				zap.String("difficulty", sl.Difficulty),
				zap.Error(err))
			monitoring.GeneratedCounter.WithLabelValues("failed").Inc()
			continue
		}

		q.Source = model.SourceAI
		q.VettingStatus = model.StatusPending
		q.Weight = model.InitialWeight
		q.Marks = bp.Marks
		q.CourseCode = bp.CourseCode
		q.Topic = topic
		q.UploaderID = uploaderID
		q.UploadBatchID = batchID

		monitoring.GeneratedCounter.WithLabelValues("produced").Inc()
		out = append(out, *q)
	}
	return out
}

// sliceContext 按槽位序号滑动取窗口，模取环绕
func (s *GeneratorService) sliceContext(chunks []model.MaterialChunk, slotIndex int) string {
	if len(chunks) == 0 {
		return ""
	}

	var sb strings.Builder
	offset := (slotIndex * s.contextWindow) % len(chunks)
	for i := 0; i < s.contextWindow && i < len(chunks); i++ {
		c := chunks[(offset+i)%len(chunks)]
		sb.WriteString(stripCitations(c.Text))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// citationRe 匹配"如图3所示/refer to table 2"一类指向原文的引用，
// 生成的题目里不能带无法解析的引用
var citationRe = regexp.MustCompile(`(?i)\(?\b(?:as\s+(?:shown|seen|illustrated|described)\s+in|refer(?:ring)?\s+to|see|according\s+to)\s+(?:figure|fig\.?|table|equation|eq\.?|diagram|section|chapter)\s*\d+(?:\.\d+)*\)?`)

var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

func stripCitations(text string) string {
	text = citationRe.ReplaceAllString(text, "")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// generatedQuestion 模型返回的原始结构，带宽松字段
type generatedQuestion struct {
	QuestionType  string             `json:"question_type"`
	QuestionText  string             `json:"question_text"`
	Options       json.RawMessage    `json:"options"`
	CorrectAnswer json.RawMessage    `json:"correct_answer"`
	COMap         map[string]float64 `json:"co_map"`
	LOList        []string           `json:"lo_list"`
}

func (s *GeneratorService) generateOne(ctx context.Context, bp *Blueprint, sl slot, contextText string) (*model.Question, error) {
	prompt := buildPrompt(bp, sl, contextText)

	raw, err := s.ai.Complete(ctx, prompt, generationSystemPrompt)
	if err != nil {
		return nil, err
	}

	parsed, ok := ExtractJSON(raw)
	if !ok {
		// 修复只尝试一次，失败就放弃这个槽位
		repaired, rerr := s.ai.RepairJSON(ctx, raw)
		if rerr != nil {
			return nil, fmt.Errorf("unparseable model output: %w", rerr)
		}
		parsed = repaired
	}

	var gq generatedQuestion
	if err := json.Unmarshal(parsed, &gq); err != nil {
		return nil, fmt.Errorf("model output does not match question schema: %w", err)
	}
	if strings.TrimSpace(gq.QuestionText) == "" {
		return nil, fmt.Errorf("model output has empty question_text")
	}

	return normalizeGenerated(&gq, sl), nil
}

const generationSystemPrompt = "You are an exam question author for university courses. " +
	"Always answer with a single JSON object and nothing else."

func buildPrompt(bp *Blueprint, sl slot, contextText string) string {
	var sb strings.Builder

	sb.WriteString("Write one multiple choice exam question.\n")
	sb.WriteString(fmt.Sprintf("Course: %s, Topic: %s\n", bp.CourseCode, sl.Topic))
	sb.WriteString(fmt.Sprintf("Course outcome: %s\n", sl.CO))
	if len(sl.LOs) > 0 {
		sb.WriteString(fmt.Sprintf("Learning outcomes to target (pick the most fitting): %s\n", strings.Join(sl.LOs, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Difficulty: %s — %s\n", sl.Difficulty, difficultyInstruction(sl.Difficulty)))
	if style := styleInstruction(bp.Style); style != "" {
		sb.WriteString("Style: " + style + "\n")
	}
	if contextText != "" {
		sb.WriteString("\nBase the question on this course material:\n")
		sb.WriteString(contextText)
		sb.WriteString("\n")
	}
	sb.WriteString("\nReturn JSON with exactly these fields: " +
		`{"question_type":"multiple_choice","question_text":"...",` +
		`"options":{"a":"...","b":"...","c":"...","d":"..."},` +
		`"correct_answer":"A",` +
		fmt.Sprintf(`"co_map":{"%s":1},"lo_list":["..."]}`, sl.CO))
	return sb.String()
}

func difficultyInstruction(difficulty string) string {
	switch difficulty {
	case "Hard":
		return "requires multi-step reasoning or computation"
	case "Easy":
		return "tests direct recall of a single fact or definition"
	default:
		return "tests applied understanding of one concept"
	}
}

func styleInstruction(style string) string {
	switch style {
	case "Analytical":
		return "the question should demand calculation or derivation"
	case "Theory":
		return "the question should test definitions and conceptual understanding"
	case "Hybrid":
		return "mix conceptual understanding with a small computation"
	}
	return ""
}

// normalizeGenerated 防御性归一化：选项键折算到a-d，正确答案折算到A-D，
// 模型漏掉CO/LO时回落到槽位分配的目标。难度始终用槽位的目标值，保证配额成立。
func normalizeGenerated(gq *generatedQuestion, sl slot) *model.Question {
	q := &model.Question{
		QuestionType: model.MultipleChoice,
		QuestionText: strings.TrimSpace(gq.QuestionText),
		Difficulty:   sl.Difficulty,
	}

	q.Options = normalizeOptions(gq.Options)
	q.CorrectAnswer = normalizeCorrectAnswer(gq.CorrectAnswer, q.Options)

	if len(gq.COMap) > 0 {
		q.COMap = model.COMap(gq.COMap)
	} else {
		q.COMap = model.COMap{sl.CO: 1}
	}

	if len(gq.LOList) > 0 {
		q.LOList = model.StringList(gq.LOList)
	} else if len(sl.LOs) > 0 {
		q.LOList = model.StringList(sl.LOs[:1])
	}

	return q
}

var optionLetters = []string{"a", "b", "c", "d"}

// normalizeOptions 接受数组或对象两种形态；对象键可以是a-d、A-D、1-4
// 或option_a一类的变体
func normalizeOptions(raw json.RawMessage) model.OptionMap {
	if len(raw) == 0 {
		return nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		out := model.OptionMap{}
		for i, v := range arr {
			if i >= len(optionLetters) {
				break
			}
			out[optionLetters[i]] = v
		}
		return out
	}

	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	out := model.OptionMap{}
	for k, v := range obj {
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.TrimPrefix(key, "option_")
		key = strings.TrimPrefix(key, "option")
		key = strings.TrimSpace(key)
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(optionLetters) {
			out[optionLetters[n-1]] = v
			continue
		}
		if len(key) == 1 && key >= "a" && key <= "d" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeCorrectAnswer 顺序：数字1-4折算A-D；单字母直接用；
// 否则拿答案文本和选项比对；都失败时回落到"A"并记警告，不因此丢题
func normalizeCorrectAnswer(raw json.RawMessage, options model.OptionMap) string {
	if len(raw) == 0 {
		return fallbackAnswer(raw)
	}

	var num int
	if err := json.Unmarshal(raw, &num); err == nil {
		if num >= 1 && num <= len(optionLetters) {
			return strings.ToUpper(optionLetters[num-1])
		}
		return fallbackAnswer(raw)
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return fallbackAnswer(raw)
	}
	str = strings.TrimSpace(str)

	if n, err := strconv.Atoi(str); err == nil && n >= 1 && n <= len(optionLetters) {
		return strings.ToUpper(optionLetters[n-1])
	}

	// 剥掉"(a)"、"b."、"c:"一类包装再按字母匹配
	lower := strings.ToLower(strings.Trim(str, "().:"))
	if len(lower) == 1 && lower >= "a" && lower <= "d" {
		return strings.ToUpper(lower)
	}

	// 按选项文本反查字母
	for key, text := range options {
		if strings.EqualFold(strings.TrimSpace(text), str) {
			return strings.ToUpper(key)
		}
	}

	return fallbackAnswer(raw)
}

func fallbackAnswer(raw json.RawMessage) string {
	logger.Log.Warn("could not resolve correct_answer, defaulting to A",
		zap.String("raw", string(raw)))
	return "A"
}
