package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	Code    int         `json:"code"`    // 错误码 0表示无错误
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 响应数据，前端从这个里面取出数据展示
}

// 请求过于频繁，返回429
func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, ApiResponse{
		Code:    1,
		Message: "too many requests",
	})
}

// 发送json格式数据
func JSON(c *gin.Context, err error, data interface{}) {
	if err != nil {
		// 失败的话返回http状态码400，比全部返回200更严谨一些
		c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    1,
			Message: err.Error(),
			Data:    data,
		})
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}
