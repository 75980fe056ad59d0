package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classdeck/livequiz/backend/internal/provision"
	"github.com/classdeck/livequiz/backend/internal/room"
)

type customQuestionPayload struct {
	Text          string    `json:"text"`
	Options       [4]string `json:"options"`
	CorrectLetter string    `json:"correct_letter"`
}

type createRoomPayload struct {
	QuestionCount   int                     `json:"question_count"`
	DurationSeconds int                     `json:"duration_s"`
	SelectedIDs     []uint                  `json:"selected_ids"`
	Custom          []customQuestionPayload `json:"custom_questions"`
	Class           string                  `json:"class"`
	Book            string                  `json:"book"`
	Chapters        []string                `json:"chapters"`
	Topics          []string                `json:"topics"`
}

type createRoomResponse struct {
	RoomCode         string `json:"room_code"`
	QuestionCount    int    `json:"question_count"`
	MissingQuestions int    `json:"missing_questions"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var payload createRoomPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	custom := make([]provision.CustomQuestion, 0, len(payload.Custom))
	for _, question := range payload.Custom {
		custom = append(custom, provision.CustomQuestion{
			Text:          question.Text,
			Options:       question.Options,
			CorrectLetter: question.CorrectLetter,
		})
	}

	result, err := h.pipeline.Build(c.Request.Context(), provision.Request{
		Target:      payload.QuestionCount,
		SelectedIDs: payload.SelectedIDs,
		Custom:      custom,
		Class:       payload.Class,
		Book:        payload.Book,
		Chapters:    payload.Chapters,
		Topics:      payload.Topics,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	created, err := h.rooms.Create(c.Request.Context(), room.CreateRequest{
		OwnerID:         h.ownerID(c),
		QuestionCount:   payload.QuestionCount,
		DurationSeconds: payload.DurationSeconds,
		Questions:       result.Questions,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createRoomResponse{
		RoomCode:         created.Code,
		QuestionCount:    len(result.Questions),
		MissingQuestions: result.Shortfall,
	})
}

type roomSummary struct {
	Code             string    `json:"code"`
	QuestionCount    int       `json:"question_count"`
	DurationSeconds  int       `json:"duration_s"`
	Started          bool      `json:"started"`
	StartedAtSeconds *int64    `json:"started_at_s,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListByOwner(c.Request.Context(), h.ownerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	summaries := make([]roomSummary, 0, len(rooms))
	for _, item := range rooms {
		summary := roomSummary{
			Code:            item.Code,
			QuestionCount:   item.QuestionCount,
			DurationSeconds: item.DurationSeconds,
			Started:         item.Started,
			Status:          item.Status,
			CreatedAt:       item.CreatedAt,
		}
		if item.StartedAt != nil {
			seconds := item.StartedAt.Unix()
			summary.StartedAtSeconds = &seconds
		}
		summaries = append(summaries, summary)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

func (h *httpHandler) handleStart(c *gin.Context) {
	moved, err := h.sessions.Start(c.Request.Context(), c.Param("code"), h.ownerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants_moved": moved})
}

func (h *httpHandler) handleClose(c *gin.Context) {
	updated, err := h.rooms.Close(c.Request.Context(), c.Param("code"), h.ownerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": updated.Status})
}

func (h *httpHandler) handleOpen(c *gin.Context) {
	updated, err := h.rooms.Open(c.Request.Context(), c.Param("code"), h.ownerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": updated.Status})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	if err := h.rooms.Delete(c.Request.Context(), c.Param("code"), h.ownerID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type refillPayload struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

func (h *httpHandler) handleRefill(c *gin.Context) {
	var payload refillPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	target, err := h.rooms.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if target.OwnerID != h.ownerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	snapshot, err := h.rooms.Snapshot(c.Request.Context(), target.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	existingTexts := make([]string, 0, len(snapshot))
	for _, question := range snapshot {
		existingTexts = append(existingTexts, question.Text)
	}

	result, err := h.pipeline.Refill(c.Request.Context(), payload.Topic, payload.Count, existingTexts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.rooms.AppendSnapshot(c.Request.Context(), target.ID, result.Questions); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"added":             len(result.Questions),
		"missing_questions": result.Shortfall,
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	entries, err := h.live.Stats(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": entries})
}

func (h *httpHandler) handleExport(c *gin.Context) {
	code := c.Param("code")
	target, err := h.rooms.GetByCode(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if target.OwnerID != h.ownerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	entries, err := h.live.Stats(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-results.csv", strings.ToLower(code)))
	writer := csv.NewWriter(c.Writer)
	_ = writer.Write([]string{"name", "roll_id", "status", "score", "total_questions", "elapsed_s"})
	for _, entry := range entries {
		_ = writer.Write([]string{
			entry.Name,
			entry.RollID,
			entry.Status,
			strconv.Itoa(entry.Score),
			strconv.Itoa(entry.TotalQuestions),
			strconv.FormatInt(entry.ElapsedSeconds, 10),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Error("results export failed", zap.String("code", code), zap.Error(err))
	}
}

func (h *httpHandler) handleTopicSuggest(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if h.topics == nil {
		c.JSON(http.StatusOK, gin.H{"topics": []string{query}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": h.topics.DiscoverTopics(c.Request.Context(), query)})
}
