package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vexa-ai/vexa/pkg/models"
)

// handleGetTranscript returns the merged transcript for the latest meeting
// with the given platform and native id.
func (s *Server) handleGetTranscript(c *gin.Context) {
	platform, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	user := currentUser(c)
	transcript, err := s.transcripts.GetTranscript(c.Request.Context(), user.ID, platform, c.Param("native_meeting_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TranscriptResponse{
		MeetingResponse: models.NewMeetingResponse(transcript.Meeting),
		Segments:        transcript.Segments,
	})
}

// handleListMeetings returns the caller's meetings, newest first.
func (s *Server) handleListMeetings(c *gin.Context) {
	user := currentUser(c)
	meetings, err := s.meetings.ListMeetings(c.Request.Context(), user.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := MeetingListResponse{Meetings: make([]models.MeetingResponse, 0, len(meetings))}
	for _, m := range meetings {
		out.Meetings = append(out.Meetings, models.NewMeetingResponse(m))
	}
	c.JSON(http.StatusOK, out)
}
