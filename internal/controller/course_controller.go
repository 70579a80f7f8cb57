package controller

import (
	"errors"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CourseController 课程目录和课程资料的API请求

type CourseController struct {
	CourseRepo *repository.CourseRepository
	ChunkRepo  *repository.MaterialChunkRepository
}

func NewCourseController(courseRepo *repository.CourseRepository, chunkRepo *repository.MaterialChunkRepository) *CourseController {
	return &CourseController{CourseRepo: courseRepo, ChunkRepo: chunkRepo}
}

type CreateCourseRequest struct {
	Code   string   `json:"code" binding:"required"`
	Name   string   `json:"name" binding:"required"`
	Topics []string `json:"topics"`
}

// @Summary 创建课程
// @Tags 课程
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param course body CreateCourseRequest true "课程信息"
// @Success 201 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/courses [post]
func (c *CourseController) Create(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CreateCourseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if _, err := c.CourseRepo.FindByCode(req.Code); err == nil {
		util.Conflict(ctx, util.ErrCourseExists.Error())
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		util.LogInternalError(ctx, err)
		return
	}

	course := &model.Course{
		Code:      req.Code,
		Name:      req.Name,
		CreatedBy: claims.UserID,
	}
	if err := c.CourseRepo.Create(course); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	if len(req.Topics) > 0 {
		if err := c.CourseRepo.AddTopics(course.Code, req.Topics); err != nil {
			util.LogInternalError(ctx, err)
			return
		}
	}

	util.Created(ctx, course)
}

// @Summary 课程列表
// @Tags 课程
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param limit query int false "每页条数"
// @Success 200 {object} util.Response
// @Router /api/courses [get]
func (c *CourseController) List(ctx *gin.Context) {
	page := util.ParsePositiveInt(ctx.Query("page"), 1, 10000)
	limit := util.ParsePositiveInt(ctx.Query("limit"), 20, 100)

	courses, total, err := c.CourseRepo.List(page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"courses": courses, "total": total, "page": page, "limit": limit})
}

// @Summary 课程主题列表
// @Tags 课程
// @Produce json
// @Security BearerAuth
// @Param code path string true "课程代码"
// @Success 200 {object} util.Response
// @Router /api/courses/{code}/topics [get]
func (c *CourseController) GetTopics(ctx *gin.Context) {
	code := ctx.Param("code")
	if _, err := c.CourseRepo.FindByCode(code); err != nil {
		util.NotFound(ctx)
		return
	}

	topics, err := c.CourseRepo.GetTopics(code)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"course_code": code, "topics": topics})
}

type AddTopicsRequest struct {
	Topics []string `json:"topics" binding:"required,min=1"`
}

// @Summary 添加课程主题
// @Tags 课程
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "课程代码"
// @Param topics body AddTopicsRequest true "主题列表"
// @Success 200 {object} util.Response
// @Router /api/courses/{code}/topics [post]
func (c *CourseController) AddTopics(ctx *gin.Context) {
	code := ctx.Param("code")
	if _, err := c.CourseRepo.FindByCode(code); err != nil {
		util.NotFound(ctx)
		return
	}

	var req AddTopicsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.CourseRepo.AddTopics(code, req.Topics); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	topics, err := c.CourseRepo.GetTopics(code)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"course_code": code, "topics": topics})
}

type MaterialChunkInput struct {
	MaterialName string `json:"material_name"`
	PageRef      string `json:"page_ref"`
	Text         string `json:"text" binding:"required"`
}

type AddChunksRequest struct {
	Chunks []MaterialChunkInput `json:"chunks" binding:"required,min=1"`
}

// @Summary 上传课程资料切片
// @Description 切片入库后由后台任务补算嵌入向量，之后才参与出题检索
// @Tags 课程
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "课程代码"
// @Param chunks body AddChunksRequest true "资料切片"
// @Success 201 {object} util.Response
// @Router /api/courses/{code}/materials [post]
func (c *CourseController) AddMaterialChunks(ctx *gin.Context) {
	code := ctx.Param("code")
	if _, err := c.CourseRepo.FindByCode(code); err != nil {
		util.NotFound(ctx)
		return
	}

	var req AddChunksRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	chunks := make([]model.MaterialChunk, 0, len(req.Chunks))
	for _, in := range req.Chunks {
		chunks = append(chunks, model.MaterialChunk{
			CourseCode:   code,
			MaterialName: in.MaterialName,
			PageRef:      in.PageRef,
			Text:         in.Text,
		})
	}
	if err := c.ChunkRepo.CreateBatch(chunks); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Created(ctx, gin.H{"inserted": len(chunks)})
}
