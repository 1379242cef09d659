package server

import (
	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/server/handlers"
)

// setupAPIRoutes registers the /api/v1 surface.
func (s *Server) setupAPIRoutes(v1 *gin.RouterGroup) {
	sessions := handlers.NewSessionHandler(s.deps.Manager)
	conversations := handlers.NewConversationHandler(s.deps.Store)
	turns := handlers.NewTurnHandler(s.deps.Manager, s.metrics)
	approvals := handlers.NewApprovalHandler(s.deps.Manager, s.metrics)
	checkpoints := handlers.NewCheckpointHandler(s.deps.Checkpoints, s.deps.Store)
	events := handlers.NewEventsHandler(s.deps.Bus)

	ws := v1.Group("/workspaces/:workspace")
	{
		ws.POST("/agents", sessions.Deploy)
		ws.GET("/agents", sessions.List)
		ws.GET("/events", events.WatchFiles)

		agent := ws.Group("/agents/:agent")
		{
			agent.GET("", sessions.Status)
			agent.DELETE("", sessions.Close)

			agent.POST("/turn", turns.Start)
			agent.POST("/interrupt", turns.Interrupt)

			agent.GET("/messages", conversations.GetMessages)
			agent.POST("/messages", conversations.SaveMessage)
			agent.DELETE("/messages", conversations.DeleteConversation)

			agent.POST("/approval", approvals.Resolve)
			agent.GET("/approval", approvals.Pending)

			agent.POST("/session/restore", sessions.Resume)

			agent.POST("/command", events.Inject)
			agent.GET("/commands", events.WatchCommands)
		}
	}

	ckpt := v1.Group("/checkpoints")
	{
		ckpt.POST("", checkpoints.Create)
		ckpt.GET("", checkpoints.List)
		ckpt.GET("/:id", checkpoints.Get)
		ckpt.POST("/:id/restore", checkpoints.Restore)
		ckpt.DELETE("/:id", checkpoints.Delete)
	}
}
