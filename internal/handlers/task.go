package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"taskboard/internal/auth"
	dom "taskboard/internal/domain"
	"taskboard/internal/dto"
	"taskboard/internal/service"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	svc *service.TaskService
	log *slog.Logger
}

func NewTaskHandler(svc *service.TaskService, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{svc: svc, log: log}
}

// List godoc
// @Summary      List the caller's tasks
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Param        status    query     string  false  "Exact status; All for any"
// @Param        category  query     string  false  "Category name"
// @Param        q         query     string  false  "Title substring, case-insensitive"
// @Success      200  {array}   dto.TaskResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	f := dom.TaskFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Query:    c.Query("q"),
	}
	list, err := h.svc.List(c.Request.Context(), auth.UserIDFromContext(c), f)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.TasksFromDomain(list))
}

// Create godoc
// @Summary      Create a task
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      dto.TaskRequest  true  "Task"
// @Success      201   {object}  dto.CreateTaskResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      500   {object}  dto.ErrorResponse
// @Router       /tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	var req dto.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := h.svc.Create(c.Request.Context(), auth.UserIDFromContext(c), req.Input())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CreateTaskResponse{ID: id, Message: "Task created"})
}

// Update godoc
// @Summary      Replace a task's fields
// @Description  Tasks owned by someone else are left untouched.
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int              true  "Task ID"
// @Param        body  body      dto.TaskRequest  true  "Task"
// @Success      200   {object}  dto.MessageResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      500   {object}  dto.ErrorResponse
// @Router       /tasks/{id} [put]
func (h *TaskHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req dto.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.Update(c.Request.Context(), auth.UserIDFromContext(c), id, req.Input()); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessageResponse{Message: "Task updated"})
}

// Delete godoc
// @Summary      Delete a task
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Task ID"
// @Success      200  {object}  dto.MessageResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), auth.UserIDFromContext(c), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessageResponse{Message: "Task deleted"})
}

// ClearCompleted godoc
// @Summary      Delete all of the caller's completed tasks
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  dto.ClearCompletedResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /tasks/completed [delete]
func (h *TaskHandler) ClearCompleted(c *gin.Context) {
	n, err := h.svc.ClearCompleted(c.Request.Context(), auth.UserIDFromContext(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ClearCompletedResponse{Message: "Completed tasks cleared", Deleted: n})
}

// Categories godoc
// @Summary      List the caller's categories
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   dto.CategoryResponse
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /categories [get]
func (h *TaskHandler) Categories(c *gin.Context) {
	cats, err := h.svc.Categories(c.Request.Context(), auth.UserIDFromContext(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out := make([]dto.CategoryResponse, len(cats))
	for i, cat := range cats {
		out[i] = dto.CategoryResponse{ID: cat.ID, Name: cat.Name}
	}
	c.JSON(http.StatusOK, out)
}

func parseID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}
