package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"qbank_backend/internal/config"
	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCompleter 从提示词里抠出目标CO，返回一道结构合法的题
type fakeCompleter struct {
	calls int
	fail  bool
}

var coPromptRe = regexp.MustCompile(`Course outcome: (\S+)`)

func (f *fakeCompleter) Complete(ctx context.Context, prompt, system string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("model unavailable")
	}
	co := "CO1"
	if m := coPromptRe.FindStringSubmatch(prompt); m != nil {
		co = m[1]
	}
	return fmt.Sprintf(`{"question_type":"multiple_choice",
		"question_text":"Generated question %d?",
		"options":{"a":"w","b":"x","c":"y","d":"z"},
		"correct_answer":"B",
		"co_map":{"%s":1},
		"lo_list":["LO1"]}`, f.calls, co), nil
}

func (f *fakeCompleter) RepairJSON(ctx context.Context, malformed string) (json.RawMessage, error) {
	return nil, errors.New("unrepairable")
}

// fakeContext 不依赖嵌入服务的上下文提供者
type fakeContext struct {
	chunks []model.MaterialChunk
}

func (f *fakeContext) FindSimilarChunks(ctx context.Context, query, courseCode string, limit int) ([]model.MaterialChunk, error) {
	return f.chunks, nil
}

func newGeneratorService(t *testing.T, db *gorm.DB, ai completionClient) *GeneratorService {
	t.Helper()
	return NewGeneratorService(
		repository.NewQuestionRepository(db),
		repository.NewCourseRepository(db, nil),
		repository.NewUploadBatchRepository(db),
		&fakeContext{},
		ai,
		config.GenerationConfig{MaxAttempts: 3, ContextWindow: 3, ContextFetchFactor: 2},
	)
}

func validTestBlueprint() *Blueprint {
	return &Blueprint{
		CourseCode:             "PYTHON",
		Total:                  2,
		Marks:                  2,
		Topics:                 []string{"Loops"},
		CODistribution:         map[string]int{"CO1": 1, "CO2": 1},
		LODistribution:         map[string]int{"LO1": 2},
		DifficultyDistribution: map[string]int{"Easy": 1, "Hard": 1},
	}
}

func TestValidateBlueprint(t *testing.T) {
	bp := validTestBlueprint()
	require.NoError(t, validateBlueprint(bp))

	bp = validTestBlueprint()
	bp.CODistribution = map[string]int{"CO1": 3}
	err := validateBlueprint(bp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "co_distribution sums to 3 but total is 2")

	bp = validTestBlueprint()
	bp.LODistribution = map[string]int{"LO1": 1}
	err = validateBlueprint(bp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lo_distribution")

	bp = validTestBlueprint()
	bp.DifficultyDistribution = map[string]int{"Easy": 2, "Hard": 1}
	err = validateBlueprint(bp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "difficulty_distribution")

	bp = validTestBlueprint()
	bp.Total = 0
	assert.Error(t, validateBlueprint(bp))
}

func TestPrimaryCO(t *testing.T) {
	assert.Equal(t, "CO2", primaryCO(model.COMap{"CO1": 0.3, "CO2": 0.7}))
	// 权重并列时取编号小的
	assert.Equal(t, "CO1", primaryCO(model.COMap{"CO2": 0.5, "CO1": 0.5}))
	assert.Equal(t, "CO3", primaryCO(model.COMap{"CO3": 1}))
	assert.Equal(t, "", primaryCO(model.COMap{}))
}

func TestComputeGaps(t *testing.T) {
	bp := validTestBlueprint()

	gaps := computeGaps(bp, nil)
	assert.Equal(t, 2, sumCounts(gaps.CO))
	assert.False(t, gaps.empty())

	produced := []model.Question{
		{COMap: model.COMap{"CO1": 1}, LOList: model.StringList{"LO1"}, Difficulty: "Easy"},
	}
	gaps = computeGaps(bp, produced)
	assert.Equal(t, map[string]int{"CO2": 1}, gaps.CO)
	assert.Equal(t, map[string]int{"LO1": 1}, gaps.LO)
	assert.Equal(t, map[string]int{"Hard": 1}, gaps.Difficulty)

	// 超量生产也不会出现负缺口
	over := []model.Question{
		{COMap: model.COMap{"CO1": 1}, LOList: model.StringList{"LO1"}, Difficulty: "Easy"},
		{COMap: model.COMap{"CO1": 1}, LOList: model.StringList{"LO1"}, Difficulty: "Easy"},
		{COMap: model.COMap{"CO1": 1}, LOList: model.StringList{"LO1"}, Difficulty: "Easy"},
	}
	gaps = computeGaps(bp, over)
	assert.Equal(t, map[string]int{"CO2": 1}, gaps.CO)
	assert.Equal(t, map[string]int{"Hard": 1}, gaps.Difficulty)
	for _, n := range gaps.LO {
		assert.GreaterOrEqual(t, n, 0)
	}
}

func TestFlattenSlots(t *testing.T) {
	gaps := gapSet{
		CO:         map[string]int{"CO1": 2, "CO2": 1},
		LO:         map[string]int{"LO1": 2, "LO2": 1},
		Difficulty: map[string]int{"Easy": 1, "Hard": 2},
	}
	slots := flattenSlots(gaps)
	require.Len(t, slots, 3)

	coSeen := map[string]int{}
	diffSeen := map[string]int{}
	for _, sl := range slots {
		coSeen[sl.CO]++
		diffSeen[sl.Difficulty]++
		assert.NotEmpty(t, sl.LOs)
	}
	assert.Equal(t, map[string]int{"CO1": 2, "CO2": 1}, coSeen)
	assert.Equal(t, map[string]int{"Easy": 1, "Hard": 2}, diffSeen)
}

func TestFlattenSlotsUnevenDimensions(t *testing.T) {
	// CO缺口3个但难度缺口只剩1个：只能产出1个槽位
	gaps := gapSet{
		CO:         map[string]int{"CO1": 3},
		LO:         map[string]int{"LO1": 3},
		Difficulty: map[string]int{"Medium": 1},
	}
	slots := flattenSlots(gaps)
	assert.Len(t, slots, 1)
}

func TestStripCitations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The stack grows downward as shown in figure 3 on most systems.", "The stack grows downward on most systems."},
		{"Refer to table 2 for the opcode list.", "for the opcode list."},
		{"(see figure 1.2) The heap is managed separately.", "The heap is managed separately."},
		{"No citations here.", "No citations here."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCitations(tt.in))
	}
}

func TestNormalizeOptions(t *testing.T) {
	arr := json.RawMessage(`["w","x","y","z"]`)
	assert.Equal(t, model.OptionMap{"a": "w", "b": "x", "c": "y", "d": "z"}, normalizeOptions(arr))

	numeric := json.RawMessage(`{"1":"w","2":"x","3":"y","4":"z"}`)
	assert.Equal(t, model.OptionMap{"a": "w", "b": "x", "c": "y", "d": "z"}, normalizeOptions(numeric))

	upper := json.RawMessage(`{"A":"w","B":"x"}`)
	assert.Equal(t, model.OptionMap{"a": "w", "b": "x"}, normalizeOptions(upper))

	prefixed := json.RawMessage(`{"option_a":"w","option_b":"x"}`)
	assert.Equal(t, model.OptionMap{"a": "w", "b": "x"}, normalizeOptions(prefixed))

	assert.Nil(t, normalizeOptions(json.RawMessage(`"not options"`)))
	assert.Nil(t, normalizeOptions(nil))
}

func TestNormalizeCorrectAnswer(t *testing.T) {
	options := model.OptionMap{"a": "alpha", "b": "beta", "c": "gamma", "d": "delta"}

	assert.Equal(t, "B", normalizeCorrectAnswer(json.RawMessage(`2`), options))
	assert.Equal(t, "C", normalizeCorrectAnswer(json.RawMessage(`"3"`), options))
	assert.Equal(t, "D", normalizeCorrectAnswer(json.RawMessage(`"d"`), options))
	assert.Equal(t, "A", normalizeCorrectAnswer(json.RawMessage(`"A)"`), options))
	assert.Equal(t, "A", normalizeCorrectAnswer(json.RawMessage(`"(a"`), options))
	assert.Equal(t, "B", normalizeCorrectAnswer(json.RawMessage(`"b."`), options))
	assert.Equal(t, "C", normalizeCorrectAnswer(json.RawMessage(`"(c)"`), options))
	// 按选项文本反查
	assert.Equal(t, "C", normalizeCorrectAnswer(json.RawMessage(`"gamma"`), options))
	assert.Equal(t, "B", normalizeCorrectAnswer(json.RawMessage(`" Beta "`), options))
	// 解析不出来时回落
	assert.Equal(t, "A", normalizeCorrectAnswer(json.RawMessage(`"omega"`), options))
	assert.Equal(t, "A", normalizeCorrectAnswer(json.RawMessage(`7`), options))
	assert.Equal(t, "A", normalizeCorrectAnswer(nil, options))
}

func TestNormalizeGeneratedFallbacks(t *testing.T) {
	sl := slot{CO: "CO2", Difficulty: "Hard", LOs: []string{"LO3", "LO4"}}
	gq := &generatedQuestion{QuestionText: "What is tail recursion?"}

	q := normalizeGenerated(gq, sl)
	assert.Equal(t, model.COMap{"CO2": 1}, q.COMap)
	assert.Equal(t, model.StringList{"LO3"}, q.LOList)
	assert.Equal(t, "Hard", q.Difficulty)
	assert.Equal(t, model.MultipleChoice, q.QuestionType)
}

func TestGeneratePaper(t *testing.T) {
	db := newTestDB(t)
	ai := &fakeCompleter{}
	svc := newGeneratorService(t, db, ai)

	result, err := svc.GeneratePaper(context.Background(), 7, validTestBlueprint())
	require.NoError(t, err)
	require.NotEmpty(t, result.BatchID)

	assert.Equal(t, 2, result.Stats.Requested)
	assert.Equal(t, 2, result.Stats.Produced)
	assert.Len(t, result.Paper, 2)
	assert.InDelta(t, 4.0, result.Stats.TotalMarks, 1e-9)
	assert.Equal(t, map[string]int{"CO1": 1, "CO2": 1}, result.Stats.ByCO)
	assert.Equal(t, map[string]int{"Easy": 1, "Hard": 1}, result.Stats.ByDifficulty)

	for _, q := range result.Paper {
		assert.Equal(t, model.SourceAI, q.Source)
		assert.Equal(t, model.StatusPending, q.VettingStatus)
		assert.InDelta(t, model.InitialWeight, q.Weight, 1e-9)
		assert.Equal(t, result.BatchID, q.UploadBatchID)
		assert.EqualValues(t, 7, q.UploaderID)
		assert.Equal(t, "Loops", q.Topic)
	}

	// 生成的题必须落库，之后走正常评审流程
	var stored int64
	require.NoError(t, db.Model(&model.Question{}).
		Where("upload_batch_id = ?", result.BatchID).Count(&stored).Error)
	assert.EqualValues(t, 2, stored)

	// 缺口满足后不应继续重试
	assert.Equal(t, 2, ai.calls)

	var batch model.UploadBatch
	require.NoError(t, db.First(&batch, "id = ?", result.BatchID).Error)
	assert.Equal(t, model.SourceAI, batch.Source)
	assert.Equal(t, 2, batch.Inserted)
}

func TestGeneratePaperModelFailure(t *testing.T) {
	db := newTestDB(t)
	ai := &fakeCompleter{fail: true}
	svc := newGeneratorService(t, db, ai)

	// 模型全挂时欠产不报错，由调用方看stats判断
	result, err := svc.GeneratePaper(context.Background(), 7, validTestBlueprint())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stats.Produced)
	assert.Empty(t, result.Paper)

	// 3轮重试，每轮2个槽位
	assert.Equal(t, 6, ai.calls)
}

func TestGeneratePaperInvalidBlueprint(t *testing.T) {
	db := newTestDB(t)
	svc := newGeneratorService(t, db, &fakeCompleter{})

	bp := validTestBlueprint()
	bp.CODistribution = map[string]int{"CO1": 5}
	_, err := svc.GeneratePaper(context.Background(), 7, bp)
	assert.Error(t, err)
}
