package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/internal/util"
	"qbank_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// csvHeaders CSV模板的固定列，顺序必须一致
var csvHeaders = []string{
	"question",
	"option_a",
	"option_b",
	"option_c",
	"option_d",
	"option_correct",
	"co",
	"lo mapping",
	"difficulty",
	"marks",
}

var validDifficulties = map[string]bool{
	"Easy":   true,
	"Medium": true,
	"Hard":   true,
}

// RowError 单行失败的定位信息，行号从2起算（1是表头）
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// UploadReport 部分失败语义：坏行跳过并报告，好行照常入库
type UploadReport struct {
	BatchID   string     `json:"batch_id"`
	Total     int        `json:"total"`
	Inserted  int        `json:"inserted"`
	Failed    int        `json:"failed"`
	RowErrors []RowError `json:"row_errors,omitempty"`
}

// IngestService 处理CSV批量导入：校验表头和逐行内容，合法行以
// pending状态入库等待评审，原始文件归档到对象存储
type IngestService struct {
	questionRepo *repository.QuestionRepository
	courseRepo   *repository.CourseRepository
	batchRepo    *repository.UploadBatchRepository
	storage      *StorageService
}

func NewIngestService(
	questionRepo *repository.QuestionRepository,
	courseRepo *repository.CourseRepository,
	batchRepo *repository.UploadBatchRepository,
	storage *StorageService,
) *IngestService {
	return &IngestService{
		questionRepo: questionRepo,
		courseRepo:   courseRepo,
		batchRepo:    batchRepo,
		storage:      storage,
	}
}

// IngestCSV 解析并入库一个CSV文件。表头不合法整体拒绝；
// 行级错误只跳过该行。返回的报告含每个坏行的行号和原因。
func (s *IngestService) IngestCSV(ctx context.Context, uploaderID uint, courseCode, topic, fileName string, r io.Reader) (*UploadReport, error) {
	if _, err := s.courseRepo.FindByCode(courseCode); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrCourseNotFound
		}
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // 行级校验自己做，报告里带行号

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	batch := &model.UploadBatch{
		UUIDBase:   model.UUIDBase{ID: model.GenerateUUID()},
		Source:     model.SourceCSV,
		CourseCode: courseCode,
		Topic:      topic,
		UploaderID: uploaderID,
		FileName:   fileName,
	}
	if err := s.batchRepo.Create(batch); err != nil {
		return nil, err
	}

	report := &UploadReport{BatchID: batch.ID}
	var questions []model.Question

	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Total++
			report.Failed++
			report.RowErrors = append(report.RowErrors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}

		report.Total++
		q, err := parseRow(record)
		if err != nil {
			report.Failed++
			report.RowErrors = append(report.RowErrors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}

		q.Source = model.SourceCSV
		q.VettingStatus = model.StatusPending
		q.Weight = model.InitialWeight
		q.CourseCode = courseCode
		q.Topic = topic
		q.UploaderID = uploaderID
		q.UploadBatchID = batch.ID
		questions = append(questions, *q)
	}

	if err := s.questionRepo.CreateBatch(questions); err != nil {
		return nil, err
	}
	report.Inserted = len(questions)

	s.archiveFile(ctx, batch, fileName, data)

	batch.Total = report.Total
	batch.Inserted = report.Inserted
	batch.Failed = report.Failed
	if err := s.batchRepo.Update(batch); err != nil {
		logger.Log.Warn("failed to update upload batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}

	logger.Log.Info("CSV batch ingested",
		zap.String("batch_id", batch.ID),
		zap.String("course", courseCode),
		zap.Int("total", report.Total),
		zap.Int("inserted", report.Inserted),
		zap.Int("failed", report.Failed))
	return report, nil
}

// archiveFile 原始文件归档失败不影响导入结果
func (s *IngestService) archiveFile(ctx context.Context, batch *model.UploadBatch, fileName string, data []byte) {
	objectName := fmt.Sprintf("uploads/%s_%d_%s", batch.ID, time.Now().Unix(), fileName)
	url, err := s.storage.Upload(ctx, objectName, bytes.NewReader(data), int64(len(data)), "text/csv")
	if err != nil {
		logger.Log.Warn("failed to archive CSV file", zap.String("batch_id", batch.ID), zap.Error(err))
		return
	}
	batch.FileURL = url
}

func validateHeader(header []string) error {
	if len(header) != len(csvHeaders) {
		return fmt.Errorf("expected %d columns, got %d", len(csvHeaders), len(header))
	}
	for i, want := range csvHeaders {
		got := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
		if got != want {
			return fmt.Errorf("column %d must be %q, got %q", i+1, want, header[i])
		}
	}
	return nil
}

// parseRow 一行转一道题。所有必填列非空、难度在枚举内、分值为正数、
// 正确答案是A-D之一，任一条不满足即整行拒绝。
func parseRow(record []string) (*model.Question, error) {
	if len(record) != len(csvHeaders) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(csvHeaders), len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	text := record[0]
	if text == "" {
		return nil, fmt.Errorf("question text is empty")
	}

	options := model.OptionMap{}
	for i, letter := range optionLetters {
		if record[1+i] == "" {
			return nil, fmt.Errorf("option_%s is empty", letter)
		}
		options[letter] = record[1+i]
	}

	correct := strings.ToUpper(strings.TrimSuffix(record[5], ")"))
	if len(correct) != 1 || correct < "A" || correct > "D" {
		return nil, fmt.Errorf("option_correct must be one of A-D, got %q", record[5])
	}

	coMap, err := parseCOCell(record[6])
	if err != nil {
		return nil, err
	}

	loList := parseLOCell(record[7])
	if len(loList) == 0 {
		return nil, fmt.Errorf("lo mapping is empty")
	}

	difficulty := normalizeDifficulty(record[8])
	if !validDifficulties[difficulty] {
		return nil, fmt.Errorf("difficulty must be Easy, Medium or Hard, got %q", record[8])
	}

	marks, err := strconv.ParseFloat(record[9], 64)
	if err != nil || marks <= 0 {
		return nil, fmt.Errorf("marks must be a positive number, got %q", record[9])
	}

	return &model.Question{
		QuestionType:  model.MultipleChoice,
		QuestionText:  text,
		Options:       options,
		CorrectAnswer: correct,
		COMap:         coMap,
		LOList:        loList,
		Difficulty:    difficulty,
		Marks:         marks,
	}, nil
}

// parseCOCell 支持"CO1"或"CO1:0.7;CO2:0.3"两种写法，裸CO默认权重1
func parseCOCell(cell string) (model.COMap, error) {
	if cell == "" {
		return nil, fmt.Errorf("co is empty")
	}

	out := model.COMap{}
	for _, part := range strings.FieldsFunc(cell, func(r rune) bool { return r == ';' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weightStr, found := strings.Cut(part, ":")
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("invalid co entry %q", part)
		}
		weight := 1.0
		if found {
			w, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("invalid co weight in %q", part)
			}
			weight = w
		}
		out[name] = weight
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("co is empty")
	}
	return out, nil
}

func normalizeDifficulty(cell string) string {
	lower := strings.ToLower(strings.TrimSpace(cell))
	if lower == "" {
		return ""
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func parseLOCell(cell string) model.StringList {
	var out model.StringList
	for _, part := range strings.FieldsFunc(cell, func(r rune) bool { return r == ';' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
