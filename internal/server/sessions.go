package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
)

type startSessionRequest struct {
	MemberID string `json:"member_id"`
	SeatID   string `json:"seat_id"`
}

type endSessionRequest struct {
	SessionID string `json:"session_id"`
	SeatID    string `json:"seat_id"`
}

func (s *Server) ListSeats(c *gin.Context) {
	seats, err := s.sessionSvc.ListSeats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "seats": seats})
}

func (s *Server) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.MemberID) == "" {
		AbortWithError(c, newValidationError("member_id", "required", "member_id is required"))
		return
	}
	if strings.TrimSpace(req.SeatID) == "" {
		AbortWithError(c, newValidationError("seat_id", "required", "seat_id is required"))
		return
	}

	session, err := s.sessionSvc.StartSession(c.Request.Context(), req.MemberID, req.SeatID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "session": session})
}

func (s *Server) EndSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" && strings.TrimSpace(req.SeatID) == "" {
		AbortWithError(c, newValidationError("session_id", "required", "session_id or seat_id is required"))
		return
	}

	session, err := s.sessionSvc.EndSession(c.Request.Context(), sessiondomain.EndSessionRequest{
		SessionID: req.SessionID,
		SeatID:    req.SeatID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (s *Server) GetSession(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, newValidationError("id", "required", "id is required"))
		return
	}

	session, err := s.sessionSvc.GetSession(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (s *Server) GetSessionProof(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, newValidationError("id", "required", "id is required"))
		return
	}

	proof, err := s.proofSvc.GetBySessionID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "proof": proof})
}
