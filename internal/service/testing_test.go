package service

import (
	"fmt"
	"testing"

	"qbank_backend/internal/model"
	"qbank_backend/pkg/logger"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

// newTestDB 每个测试独立的内存库。cache=shared让gorm连接池的
// 多个连接指向同一份数据。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Course{},
		&model.CourseTopic{},
		&model.Question{},
		&model.VoteEvent{},
		&model.MaterialChunk{},
		&model.UploadBatch{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) *model.User {
	t.Helper()
	user := &model.User{
		Name:     name,
		Email:    name + "@example.com",
		Password: "hashed",
		Role:     model.Student,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedQuestion(t *testing.T, db *gorm.DB, mutate func(*model.Question)) *model.Question {
	t.Helper()
	q := &model.Question{
		UUIDBase:      model.UUIDBase{ID: model.GenerateUUID()},
		QuestionType:  model.MultipleChoice,
		QuestionText:  "What does a binary semaphore guard?",
		Options:       model.OptionMap{"a": "one", "b": "two", "c": "three", "d": "four"},
		CorrectAnswer: "A",
		COMap:         model.COMap{"CO1": 1},
		LOList:        model.StringList{"LO1"},
		Difficulty:    "Medium",
		Marks:         1,
		Source:        model.SourceCSV,
		Weight:        model.InitialWeight,
		VettingStatus: model.StatusPending,
	}
	if mutate != nil {
		mutate(q)
	}
	require.NoError(t, db.Create(q).Error)
	return q
}
