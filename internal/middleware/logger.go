package middleware

import (
	"time"

	"alertflow/internal/consts"
	"alertflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Logger 访问日志，请求前后各打一条
func Logger(c *gin.Context) {
	t := time.Now()
	reqPath := c.Request.URL.Path
	reqId := c.GetString(consts.RequestId)
	method := c.Request.Method
	ip := c.ClientIP()

	logger.Infof("[Request Start] id=%s host=%s method=%s path=%s", reqId, ip, method, reqPath)

	c.Next()

	latency := time.Since(t)
	logger.Infof("[Request End] id=%s host=%s path=%s status=%d cost=%s",
		reqId, ip, reqPath, c.Writer.Status(), latency)
}
