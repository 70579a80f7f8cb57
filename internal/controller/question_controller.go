package controller

import (
	"errors"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/internal/service"
	"qbank_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// QuestionController 题库管理相关的API请求：上传、查询、社区评审

type QuestionController struct {
	IngestService  *service.IngestService
	VettingService *service.VettingService
	QuestionRepo   *repository.QuestionRepository
}

func NewQuestionController(
	ingestService *service.IngestService,
	vettingService *service.VettingService,
	questionRepo *repository.QuestionRepository,
) *QuestionController {
	return &QuestionController{
		IngestService:  ingestService,
		VettingService: vettingService,
		QuestionRepo:   questionRepo,
	}
}

// @Summary 上传题目CSV
// @Description 按固定模板批量导入题目，坏行跳过并在响应中汇报
// @Tags 题库
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV文件"
// @Param course_code formData string true "课程代码"
// @Param topic formData string false "主题"
// @Success 201 {object} util.Response
// @Router /api/questions/upload [post]
func (c *QuestionController) Upload(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	courseCode := ctx.PostForm("course_code")
	if courseCode == "" {
		util.BadRequest(ctx, "course_code is required")
		return
	}
	topic := ctx.PostForm("topic")

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	report, err := c.IngestService.IngestCSV(ctx.Request.Context(), claims.UserID, courseCode, topic, fileHeader.Filename, file)
	if err != nil {
		if errors.Is(err, util.ErrCourseNotFound) {
			util.NotFound(ctx)
			return
		}
		util.BadRequest(ctx, err.Error())
		return
	}

	util.Created(ctx, report)
}

// @Summary 题目列表
// @Tags 题库
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending|approved|rejected"
// @Param course_code query string false "课程代码"
// @Param topic query string false "主题"
// @Param page query int false "页码"
// @Param limit query int false "每页条数"
// @Success 200 {object} util.Response
// @Router /api/questions [get]
func (c *QuestionController) List(ctx *gin.Context) {
	f := repository.VettingFilters{
		Status:     ctx.Query("status"),
		CourseCode: ctx.Query("course_code"),
		Topic:      ctx.Query("topic"),
	}
	page := util.ParsePositiveInt(ctx.Query("page"), 1, 10000)
	limit := util.ParsePositiveInt(ctx.Query("limit"), 20, 100)

	questions, total, err := c.QuestionRepo.List(f, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"questions": questions,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// @Summary 题目详情
// @Tags 题库
// @Produce json
// @Security BearerAuth
// @Param id path string true "题目ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/questions/{id} [get]
func (c *QuestionController) Get(ctx *gin.Context) {
	q, err := c.QuestionRepo.FindByID(ctx.Param("id"))
	if err != nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, q)
}

// @Summary 获取待评审题目
// @Description 默认返回今日已投过的题加未投的pending题，总量不超过每日配额。
// @Description status=approved或rejected时返回按个人投票方向过滤的历史视图。
// @Tags 评审
// @Produce json
// @Security BearerAuth
// @Param status query string false "approved|rejected"
// @Param course_code query string false "课程代码"
// @Param topic query string false "主题"
// @Param duplicates query bool false "只看有重复警告的"
// @Param limit query int false "条数"
// @Param skip query int false "偏移"
// @Success 200 {object} util.Response
// @Router /api/questions/vetting [get]
func (c *QuestionController) GetVetting(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	f := repository.VettingFilters{
		Status:         ctx.Query("status"),
		CourseCode:     ctx.Query("course_code"),
		Topic:          ctx.Query("topic"),
		DuplicatesOnly: ctx.Query("duplicates") == "true",
	}
	limit := util.ParsePositiveInt(ctx.Query("limit"), 20, 100)
	skip := util.ParsePositiveInt(ctx.Query("skip"), 0, 100000)

	page, err := c.VettingService.GetQuestionsForVetting(claims.UserID, f, limit, skip)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, page)
}

type VoteRequest struct {
	Action model.VoteAction `json:"action" binding:"required"`
	Reason string           `json:"reason"`
}

// @Summary 对题目投票
// @Description accept/reject/skip。每人每题一票，每日有配额。
// @Tags 评审
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "题目ID"
// @Param vote body VoteRequest true "投票动作"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response
// @Failure 429 {object} util.Response
// @Router /api/questions/{id}/vet [post]
func (c *QuestionController) Vet(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req VoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.VettingService.Vet(ctx.Param("id"), claims.UserID, req.Action, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrInvalidVoteAction):
			util.BadRequest(ctx, err.Error())
		case errors.Is(err, util.ErrQuestionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrAlreadyVoted):
			util.Conflict(ctx, err.Error())
		case errors.Is(err, util.ErrDailyQuotaExceeded):
			util.TooManyRequests(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, result)
}

// @Summary 个人评审统计
// @Tags 评审
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/questions/vetting/stats [get]
func (c *QuestionController) VettingStats(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	stats, err := c.VettingService.GetUserVettingStats(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}
