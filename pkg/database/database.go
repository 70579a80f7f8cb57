package database

import (
	"fmt"
	"log"

	"qbank_backend/internal/config"
	"qbank_backend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	seedDefaults(db)

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Question{},
		&model.VoteEvent{},
		&model.Course{},
		&model.CourseTopic{},
		&model.MaterialChunk{},
		&model.UploadBatch{},
	)
}

// seedDefaults 空库时插入演示课程，方便联调
func seedDefaults(db *gorm.DB) {
	var count int64
	db.Model(&model.Course{}).Count(&count)
	if count > 0 {
		return
	}

	course := &model.Course{Code: "PYTHON", Name: "Python Programming"}
	if err := db.Create(course).Error; err != nil {
		return
	}
	defaultTopics := []string{"Basics", "Recursion", "Data Structures", "File Handling"}
	for i, name := range defaultTopics {
		db.Create(&model.CourseTopic{
			CourseCode: course.Code,
			Name:       name,
			Position:   i,
		})
	}
}
