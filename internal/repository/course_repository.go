package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qbank_backend/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const topicCacheTTL = 5 * time.Minute

type CourseRepository struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewCourseRepository(db *gorm.DB, rdb *redis.Client) *CourseRepository {
	return &CourseRepository{DB: db, RDB: rdb}
}

func (r *CourseRepository) Create(course *model.Course) error {
	return r.DB.Create(course).Error
}

func (r *CourseRepository) FindByCode(code string) (*model.Course, error) {
	var course model.Course
	err := r.DB.Preload("Topics", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where("code = ?", code).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) List(page, limit int) ([]model.Course, int64, error) {
	var total int64
	if err := r.DB.Model(&model.Course{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var courses []model.Course
	offset := (page - 1) * limit
	err := r.DB.Order("code ASC").Offset(offset).Limit(limit).Find(&courses).Error
	return courses, total, err
}

func (r *CourseRepository) AddTopics(courseCode string, names []string) error {
	var maxPos int
	r.DB.Model(&model.CourseTopic{}).
		Where("course_code = ?", courseCode).
		Select("COALESCE(MAX(position), -1)").
		Scan(&maxPos)

	topics := make([]model.CourseTopic, 0, len(names))
	for i, name := range names {
		topics = append(topics, model.CourseTopic{
			CourseCode: courseCode,
			Name:       name,
			Position:   maxPos + 1 + i,
		})
	}
	if err := r.DB.Create(&topics).Error; err != nil {
		return err
	}
	r.invalidateTopicCache(courseCode)
	return nil
}

// GetTopics 课程主题列表，redis缓存5分钟。空列表合法。
func (r *CourseRepository) GetTopics(code string) ([]string, error) {
	ctx := context.Background()
	key := topicCacheKey(code)

	if r.RDB != nil {
		if cached, err := r.RDB.Get(ctx, key).Result(); err == nil {
			var names []string
			if json.Unmarshal([]byte(cached), &names) == nil {
				return names, nil
			}
		}
	}

	var topics []model.CourseTopic
	err := r.DB.Where("course_code = ?", code).Order("position ASC").Find(&topics).Error
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}

	if r.RDB != nil {
		if data, err := json.Marshal(names); err == nil {
			r.RDB.Set(ctx, key, data, topicCacheTTL)
		}
	}

	return names, nil
}

func (r *CourseRepository) invalidateTopicCache(code string) {
	if r.RDB != nil {
		r.RDB.Del(context.Background(), topicCacheKey(code))
	}
}

func topicCacheKey(code string) string {
	return fmt.Sprintf("qbank:topics:%s", code)
}
