package handler

import (
	"net/http"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/logger"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应, 只返回错误码和面向用户的信息
func ErrorResponse(c *gin.Context, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.KindUnexpected {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(e.HTTPStatus(), Response{
		Success: false,
		Code:    string(e.Code),
		Message: e.Message,
		Data:    nil,
	})
}

// BadRequest 请求格式错误
func BadRequest(c *gin.Context, message string) {
	ErrorResponse(c, apperr.Validation(apperr.CodeInvalidInput, message))
}

// NotFoundResponse 未匹配的路由
func NotFoundResponse(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{Success: false, Code: "ROUTE_NOT_FOUND", Message: "接口不存在"})
}
