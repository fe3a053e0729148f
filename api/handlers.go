package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/domain"
	"github.com/castleridge-io/clawdeck-sub003/notify"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Service, auth Authenticator, deduper Deduper, hub *notify.Hub, logger *log.Logger) {
	e.GET("/healthz", healthz())

	g := e.Group("/api", authRequired(svc, auth, logger))
	g.POST("/boards", createBoard(svc))
	g.GET("/boards", listBoards(svc))
	g.DELETE("/boards/:id", deleteBoard(svc))

	g.GET("/agents", listAgents(svc))

	g.POST("/tasks", createTask(svc, deduper), GzipRequestMiddleware())
	g.GET("/tasks", getTasks(svc, logger))
	g.GET("/tasks/all", getAllTasks(svc))
	g.GET("/tasks/next", nextTask(svc))
	g.GET("/tasks/:id", getTask(svc))
	g.PATCH("/tasks/:id", patchTask(svc, deduper), GzipRequestMiddleware())
	g.DELETE("/tasks/:id", deleteTask(svc))
	g.POST("/tasks/:id/claim", claimTask(svc, deduper))
	g.POST("/tasks/:id/unclaim", unclaimTask(svc, deduper))
	g.POST("/tasks/:id/assign", assignTask(svc, deduper))
	g.POST("/tasks/:id/unassign", unassignTask(svc, deduper))

	g.GET("/stream", streamEvents(hub))
	g.GET("/ws", wsEvents(hub, logger))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func createBoard(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		board, err := svc.CreateBoard(c.Request().Context(), principalOf(c), req.Name, req.Icon, req.Color, req.Position)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func listBoards(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards, err := svc.ListBoards(c.Request().Context(), principalOf(c))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func deleteBoard(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteBoard(c.Request().Context(), principalOf(c), c.Param("id")); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listAgents(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		agents, err := svc.ListAgents(c.Request().Context(), principalOf(c))
		if err != nil {
			return writeDomainError(c, err)
		}
		now := time.Now().UnixNano()
		views := make([]agentView, len(agents))
		for i, a := range agents {
			views[i] = agentView{Agent: a, Activity: a.Activity(now)}
		}
		return c.JSON(http.StatusOK, views)
	}
}

func createTask(svc Service, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		p := principalOf(c)
		return runMutation(c, deduper, p, http.StatusCreated, func(ctx context.Context) (domain.Task, error) {
			return svc.CreateTask(ctx, p, req.BoardID, req.Name, req.Description)
		})
	}
}

func getTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := svc.GetTask(c.Request().Context(), principalOf(c), c.Param("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func getTasks(svc Service, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		pageToken := c.QueryParam("pageToken")
		metrics.SetPageTokenProvided(pageToken != "")

		pageSize := 0
		if raw := strings.TrimSpace(c.QueryParam("pageSize")); raw != "" {
			var parseErr error
			pageSize, parseErr = strconv.Atoi(raw)
			if parseErr != nil || pageSize <= 0 {
				metrics.SetErrorStage("invalid_page_size")
				err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid page size"})
				return err
			}
		}

		filter, filterErr := taskFilterFromQuery(c)
		if filterErr != nil {
			metrics.SetErrorStage("invalid_filter")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: filterErr.Error()})
			return err
		}

		fetchStart := time.Now()
		tasks, nextToken, fetchErr := svc.ListTasks(ctx, principalOf(c), filter, pageToken, pageSize)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			var badToken InvalidContinuationTokenError
			if errors.As(fetchErr, &badToken) {
				metrics.SetErrorStage("invalid_page_token")
			} else {
				metrics.SetErrorStage("storage")
			}
			err = writeDomainError(c, fetchErr)
			return err
		}
		metrics.SetTasksReturned(len(tasks))
		resp := tasksResponse{Tasks: tasks}
		if nextToken != "" {
			metrics.SetHasNextPage(true)
			resp.NextPageToken = nextToken
		}
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getAllTasks(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, nextToken, err := svc.ListAllTasks(c.Request().Context(), principalOf(c), c.QueryParam("pageToken"), 0)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, NextPageToken: nextToken})
	}
}

func nextTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := svc.NextTask(c.Request().Context(), principalOf(c), c.QueryParam("agent"))
		if err != nil {
			if errors.Is(err, domain.ErrNoTask) {
				return c.NoContent(http.StatusNoContent)
			}
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func patchTask(svc Service, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		p := principalOf(c)
		taskID := c.Param("id")
		return runMutation(c, deduper, p, http.StatusOK, func(ctx context.Context) (domain.Task, error) {
			return svc.UpdateTask(ctx, p, taskID, patch)
		})
	}
}

func deleteTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteTask(c.Request().Context(), principalOf(c), c.Param("id")); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func claimTask(svc Service, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		agentID, err := optionalAgentID(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		p := principalOf(c)
		taskID := c.Param("id")
		return runMutation(c, deduper, p, http.StatusOK, func(ctx context.Context) (domain.Task, error) {
			return svc.ClaimTask(ctx, p, taskID, agentID)
		})
	}
}

func unclaimTask(svc Service, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := principalOf(c)
		taskID := c.Param("id")
		return runMutation(c, deduper, p, http.StatusOK, func(ctx context.Context) (domain.Task, error) {
			return svc.UnclaimTask(ctx, p, taskID)
		})
	}
}

func assignTask(svc Service, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req agentRequest
		if err := decodeBody(c, &req); err != nil || req.AgentID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "agentId required"})
		}
		p := principalOf(c)
		taskID := c.Param("id")
		return runMutation(c, deduper, p, http.StatusOK, func(ctx context.Context) (domain.Task, error) {
			return svc.AssignTask(ctx, p, taskID, req.AgentID)
		})
	}
}

func unassignTask(svc Service, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := principalOf(c)
		taskID := c.Param("id")
		return runMutation(c, deduper, p, http.StatusOK, func(ctx context.Context) (domain.Task, error) {
			return svc.UnassignTask(ctx, p, taskID)
		})
	}
}

// decodeBody decodes a size-capped JSON request body, rejecting unknown
// fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// optionalAgentID reads the agent from the request body when one is present.
// Claim bodies are optional: an agent claiming for itself sends none.
func optionalAgentID(c echo.Context) (string, error) {
	if c.Request().ContentLength == 0 {
		return "", nil
	}
	var req agentRequest
	if err := decodeBody(c, &req); err != nil && err != io.EOF {
		return "", err
	}
	return req.AgentID, nil
}

func taskFilterFromQuery(c echo.Context) (domain.TaskFilter, error) {
	f := domain.TaskFilter{
		BoardID:    c.QueryParam("board"),
		AssigneeID: c.QueryParam("assignee"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			return domain.TaskFilter{}, errors.New("unknown status filter")
		}
		f.Status = status
	}
	if raw := c.QueryParam("includeArchived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.TaskFilter{}, errors.New("invalid includeArchived flag")
		}
		f.IncludeArchived = v
	}
	return f, nil
}
