package controller

import (
	"qbank_backend/internal/service"
	"qbank_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// GenerationController 出卷接口

type GenerationController struct {
	GeneratorService *service.GeneratorService
}

func NewGenerationController(generatorService *service.GeneratorService) *GenerationController {
	return &GenerationController{GeneratorService: generatorService}
}

// @Summary 按蓝图生成试卷
// @Description 蓝图的三个分布之和必须等于total。生成可能欠产，
// @Description 调用方通过stats.produced判断是否补齐。
// @Tags 出卷
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param blueprint body service.Blueprint true "出卷蓝图"
// @Success 201 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/questions/generate [post]
func (c *GenerationController) Generate(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var bp service.Blueprint
	if err := ctx.ShouldBindJSON(&bp); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.GeneratorService.GeneratePaper(ctx.Request.Context(), claims.UserID, &bp)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	util.Created(ctx, result)
}
