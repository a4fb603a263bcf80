package api

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"

	"vidflow/internal/manifest"
	"vidflow/internal/services"
	"vidflow/internal/stage"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := s.backend.Status(c.UserContext())
	code := fiber.StatusOK
	state := "ok"
	if !status.Running {
		code = fiber.StatusServiceUnavailable
		state = "stopped"
	}
	return c.Status(code).JSON(fiber.Map{"status": state, "running": status.Running})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(FromDaemonStatus(s.backend.Status(c.UserContext())))
}

func (s *Server) handleCreateFlow(c *fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body", Kind: string(services.ErrorKindValidation)})
	}
	ticket, err := s.backend.CreateFlow(c.UserContext(), req.URL, stage.Options{
		Priority:       req.Priority,
		Language:       req.Language,
		SummaryStyle:   req.SummaryStyle,
		SkipSeparation: req.SkipSeparation,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	c.Location("/api/flows/" + ticket.TaskID)
	return c.Status(fiber.StatusAccepted).JSON(CreateFlowResponse{
		TaskID:                   ticket.TaskID,
		EstimatedDurationSeconds: ticket.EstimatedDuration.Seconds(),
		EventsURL:                "/api/flows/" + ticket.TaskID + "/events",
	})
}

func (s *Server) handleListFlows(c *fiber.Ctx) error {
	views, err := s.backend.ListFlows(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}
	items := FromFlowViews(views)
	if statuses := statusFilter(c.Query("status")); len(statuses) > 0 {
		items = slices.DeleteFunc(items, func(f Flow) bool {
			return !slices.Contains(statuses, f.Status)
		})
	}
	return c.JSON(FlowListResponse{Items: items})
}

func (s *Server) handleGetFlow(c *fiber.Ctx) error {
	taskID, err := taskIDParam(c)
	if err != nil {
		return s.writeError(c, err)
	}
	view, err := s.backend.GetFlow(c.UserContext(), taskID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(FlowResponse{Item: FromFlowView(view)})
}

func (s *Server) handleRemoveFlow(c *fiber.Ctx) error {
	taskID, err := taskIDParam(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.backend.RemoveTask(c.UserContext(), taskID); err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleRetryFlow(c *fiber.Ctx) error {
	taskID, err := taskIDParam(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if _, err := s.backend.RetryTask(c.UserContext(), taskID); err != nil {
		return s.writeError(c, err)
	}
	view, err := s.backend.GetFlow(c.UserContext(), taskID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(FlowResponse{Item: FromFlowView(view)})
}

func taskIDParam(c *fiber.Ctx) (string, error) {
	taskID := strings.TrimSpace(c.Params("id"))
	if err := manifest.ValidateTaskID(taskID); err != nil {
		return "", services.Wrap(services.ErrValidation, "", "task id", err.Error(), nil)
	}
	return taskID, nil
}

func statusFilter(raw string) []string {
	var out []string
	for value := range strings.SplitSeq(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
