package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vexa-ai/vexa/pkg/services"
)

// handleCreateUser provisions a new user.
func (s *Server) handleCreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	user, err := s.users.CreateUser(c.Request.Context(), services.CreateUserInput{
		Email:             req.Email,
		Name:              req.Name,
		ImageURL:          req.ImageURL,
		MaxConcurrentBots: req.MaxConcurrentBots,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(user))
}

// handleListUsers pages through users with skip/limit query parameters.
func (s *Server) handleListUsers(c *gin.Context) {
	skip, err := intQuery(c, "skip", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	users, err := s.users.ListUsers(c.Request.Context(), skip, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetUser(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	user, err := s.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (s *Server) handleGetUserByEmail(c *gin.Context) {
	user, err := s.users.GetUserByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

// handleUpdateUser patches a user; absent fields keep their values.
func (s *Server) handleUpdateUser(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	user, err := s.users.UpdateUser(c.Request.Context(), userID, services.UpdateUserInput{
		Name:              req.Name,
		ImageURL:          req.ImageURL,
		MaxConcurrentBots: req.MaxConcurrentBots,
		WebhookURL:        req.WebhookURL,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

// handleCreateToken mints a fresh API token for a user.
func (s *Server) handleCreateToken(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	token, err := s.users.CreateToken(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTokenResponse(token))
}

func (s *Server) handleListTokens(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	tokens, err := s.users.ListTokens(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenResponse(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteToken(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	tokenID, err := pathID(c, "token_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	if err := s.users.DeleteToken(c.Request.Context(), userID, tokenID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "token deleted"})
}

func pathID(c *gin.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
