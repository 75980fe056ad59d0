package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classdeck/livequiz/backend/internal/session"
)

type joinPayload struct {
	Name   string `json:"name"`
	RollID string `json:"roll_id"`
}

type joinResponse struct {
	ParticipantID string `json:"participant_id"`
	Redirect      string `json:"redirect"`
}

func (h *httpHandler) handleJoin(c *gin.Context) {
	var payload joinPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	code := c.Param("code")
	participant, err := h.sessions.Join(c.Request.Context(), code, payload.Name, payload.RollID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	redirect := fmt.Sprintf("/quiz/%s/lobby", code)
	if participant.Status == session.StatusActive {
		// Late joiners skip the lobby.
		redirect = fmt.Sprintf("/quiz/%s/play", code)
	}
	c.JSON(http.StatusCreated, joinResponse{ParticipantID: participant.ID, Redirect: redirect})
}

func (h *httpHandler) handleLobby(c *gin.Context) {
	status, err := h.live.Lobby(c.Request.Context(), c.Param("code"), c.Query("participant_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handleQuizStatus(c *gin.Context) {
	status, err := h.live.Status(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type questionPayload struct {
	ID       uint      `json:"id"`
	Text     string    `json:"text"`
	Options  [4]string `json:"options"`
	Position int       `json:"position"`
}

// handleQuestions serves the room's frozen question set to an active
// participant. Lobby participants are refused until the host starts the
// quiz, and the correct-answer text never leaves the server.
func (h *httpHandler) handleQuestions(c *gin.Context) {
	participantID := c.Query("participant_id")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	target, err := h.rooms.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	participant, err := h.sessions.Get(c.Request.Context(), participantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if participant.RoomID != target.ID {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "participant belongs to a different room"})
		return
	}
	if participant.Status != session.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "quiz has not started"})
		return
	}

	snapshot, err := h.rooms.Snapshot(c.Request.Context(), target.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	questions := make([]questionPayload, 0, len(snapshot))
	for _, question := range snapshot {
		questions = append(questions, questionPayload{
			ID:       question.ID,
			Text:     question.Text,
			Options:  question.Options(),
			Position: question.Position,
		})
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

type answerPayload struct {
	QuestionID uint   `json:"question_id"`
	Letter     string `json:"letter"`
}

func (h *httpHandler) handleSubmitAnswer(c *gin.Context) {
	var payload answerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	isCorrect, err := h.sessions.SubmitAnswer(c.Request.Context(), c.Param("id"), payload.QuestionID, payload.Letter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_correct": isCorrect})
}

type finishPayload struct {
	RoomCode string          `json:"room_code"`
	Score    int             `json:"score"`
	Total    int             `json:"total"`
	Answers  []answerPayload `json:"answers"`
}

func (h *httpHandler) handleFinish(c *gin.Context) {
	var payload finishPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.RoomCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	answers := make([]session.AnswerSubmission, 0, len(payload.Answers))
	for _, answer := range payload.Answers {
		answers = append(answers, session.AnswerSubmission{
			QuestionID: answer.QuestionID,
			Letter:     answer.Letter,
		})
	}

	finished, err := h.sessions.Finish(c.Request.Context(), c.Param("id"), payload.RoomCode, payload.Score, payload.Total, answers)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": finished.Status,
		"score":  finished.Score,
		"total":  finished.TotalQuestions,
	})
}

func (h *httpHandler) handleActivity(c *gin.Context) {
	if err := h.sessions.Heartbeat(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type leavePayload struct {
	RoomCode string `json:"room_code"`
}

func (h *httpHandler) handleLeave(c *gin.Context) {
	var payload leavePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.RoomCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.sessions.Leave(c.Request.Context(), c.Param("id"), payload.RoomCode); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
