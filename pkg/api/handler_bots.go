package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vexa-ai/vexa/pkg/bots"
	"github.com/vexa-ai/vexa/pkg/models"
)

// handleRequestBot launches a bot for the caller's meeting.
func (s *Server) handleRequestBot(c *gin.Context) {
	var req RequestBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	user := currentUser(c)
	meeting, err := s.bots.RequestBot(c.Request.Context(), user, bots.RequestBotInput{
		Platform:        platform,
		NativeMeetingID: req.NativeMeetingID,
		BotName:         req.BotName,
		Language:        req.Language,
		Task:            req.Task,
		Token:           c.GetHeader(headerAPIKey),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewMeetingResponse(meeting))
}

// handleStopBot asks the bot to leave and schedules the container stop.
func (s *Server) handleStopBot(c *gin.Context) {
	platform, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	user := currentUser(c)
	if err := s.bots.StopBot(c.Request.Context(), user.ID, platform, c.Param("native_meeting_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "stop request accepted, bot is being removed"})
}

// handleReconfigureBot forwards new language/task settings to a live bot.
func (s *Server) handleReconfigureBot(c *gin.Context) {
	platform, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	var req ReconfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	user := currentUser(c)
	if err := s.bots.Reconfigure(c.Request.Context(), user.ID, platform, c.Param("native_meeting_id"), req.Language, req.Task); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "reconfigure request accepted"})
}

// handleBotStatus lists the bot containers currently running on this node.
func (s *Server) handleBotStatus(c *gin.Context) {
	infos, err := s.bots.Status(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := RunningBotsResponse{RunningBots: make([]RunningBot, 0, len(infos))}
	for _, info := range infos {
		out.RunningBots = append(out.RunningBots, RunningBot{
			ContainerID:   info.ID,
			ContainerName: info.Name,
			Labels:        info.Labels,
			Status:        info.Status,
			CreatedAt:     info.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleExitCallback processes a bot's self-reported exit.
func (s *Server) handleExitCallback(c *gin.Context) {
	var req ExitCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	if err := s.bots.HandleExit(c.Request.Context(), req.ConnectionID, *req.ExitCode, req.Reason); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "exit recorded"})
}
