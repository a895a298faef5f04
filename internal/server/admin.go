package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/modulehub/orchestrator/internal/domain"
	"github.com/modulehub/orchestrator/internal/orcherr"
)

// registerAdminRoutes mounts the host-application entry points spec §6
// requires (register, bind_session, send_to_module, close_module,
// workflow_execute, reload_all, list_jobs) as a small JSON HTTP surface.
// The websocket route (websocket.go) is the normal path for bind_session;
// this HTTP form exists for out-of-band administration and tests.
func (c *DaemonCommand) registerAdminRoutes(e *echo.Echo) {
	e.POST("/admin/modules", c.handleRegister)
	e.POST("/admin/modules/:hash/bind", c.handleBindSession)
	e.POST("/admin/modules/:id/send", c.handleSendToModule)
	e.POST("/admin/modules/:id/close", c.handleCloseModule)
	e.POST("/admin/workflows/:id/execute", c.handleWorkflowExecute)
	e.POST("/admin/reload", c.handleReloadAll)
	e.GET("/admin/jobs", c.handleListJobs)
}

type registerRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	ModelHash   string                     `json:"model_hash"`
	InputData   []domain.DataRequirement   `json:"input_data"`
	OutputData  []domain.DataRequirement   `json:"output_data"`
}

func (c *DaemonCommand) handleRegister(ctx echo.Context) error {
	var req registerRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	m, err := c.registry.Register(req.Name, req.Description, req.ModelHash, req.InputData, req.OutputData)
	switch {
	case err == orcherr.ErrInvalidModule:
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case err != nil:
		return ctx.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"module_id": m.ID, "module_hash": m.Hash})
}

type bindSessionRequest struct {
	SessionToken string `json:"session_token"`
}

func (c *DaemonCommand) handleBindSession(ctx echo.Context) error {
	hash := ctx.Param("hash")
	var req bindSessionRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	m, err := c.registry.BindSession(hash, req.SessionToken)
	switch {
	case err == orcherr.ErrNotFound:
		return ctx.JSON(http.StatusNotFound, echo.Map{"error": "unknown module"})
	case err == orcherr.ErrConflict:
		return ctx.JSON(http.StatusConflict, echo.Map{"error": "already alive"})
	case err != nil:
		return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return ctx.JSON(http.StatusOK, m)
}

func (c *DaemonCommand) handleSendToModule(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "bad module id"})
	}

	var payload map[string]any
	if err := ctx.Bind(&payload); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	if err := c.hub.SendToModule(id, payload); err != nil {
		return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (c *DaemonCommand) handleCloseModule(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "bad module id"})
	}
	c.hub.CloseModule(id)
	return ctx.NoContent(http.StatusAccepted)
}

func (c *DaemonCommand) handleWorkflowExecute(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "bad workflow id"})
	}

	if err := c.scheduler.RunJob(ctx.Request().Context(), id); err != nil {
		return ctx.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (c *DaemonCommand) handleReloadAll(ctx echo.Context) error {
	if err := c.scheduler.ReloadAll(); err != nil {
		return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return ctx.NoContent(http.StatusNoContent)
}

type jobInfoView struct {
	WorkflowID      int64  `json:"workflow_id"`
	NextRunTime     string `json:"next_run_time"`
	TriggerDesc     string `json:"trigger_description"`
	WorkflowNotFound bool  `json:"workflow_not_found"`
}

func (c *DaemonCommand) handleListJobs(ctx echo.Context) error {
	jobs := c.scheduler.ListJobs()
	views := make([]jobInfoView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobInfoView{
			WorkflowID:       j.WorkflowID,
			NextRunTime:      j.NextRunTime.Format("2006-01-02T15:04:05"),
			TriggerDesc:      j.TriggerDesc,
			WorkflowNotFound: j.WorkflowNotFound,
		})
	}
	return ctx.JSON(http.StatusOK, views)
}
