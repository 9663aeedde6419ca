package httptransport

import "github.com/gin-gonic/gin"

// APIResponse 状态、文档等辅助接口使用的信封；分析接口直接返回诊断结果
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}
	c.JSON(httpStatus, APIResponse{Success: true, Message: message, Code: httpStatus, Data: data})
}

// RespondError writes the envelope and stops the remaining handlers.
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.AbortWithStatusJSON(httpStatus, APIResponse{Success: false, Message: message, Code: httpStatus, Data: data})
}
