package proxy

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the proxy's wire surface under r. Call once per
// gin.Engine or RouterGroup during startup wiring.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.POST("/tools/list", gin.WrapF(s.ListTools))
	r.POST("/tools/call", gin.WrapF(s.CallTool))
}
