package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"selfcare-api/domain"
)

// Register wires up all API routes on the provided Echo instance. dedupe may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, eng Engine, auth Authenticator, dedupe Deduper, logger *log.Logger) {
	h := &handlers{eng: eng, auth: auth, dedupe: dedupe, logger: logger}

	e.GET("/api/tasks", h.instrument("/api/tasks", h.getTasks))
	e.GET("/api/levels", h.instrument("/api/levels", h.getLevels))
	e.GET("/api/levels/:level", h.instrument("/api/levels/:level", h.getLevelStatus))
	e.POST("/api/start-timer", h.instrument("/api/start-timer", h.startTimer))
	e.POST("/api/complete-task", h.instrument("/api/complete-task", h.completeTask))
	e.GET("/api/user-progress", h.instrument("/api/user-progress", h.getProgress))
	e.POST("/api/reminder", h.instrument("/api/reminder", h.postReminder))
	e.GET("/api/reminder", h.instrument("/api/reminder", h.getReminders))
	e.GET("/healthz", healthz(eng))
}

type handlers struct {
	eng    Engine
	auth   Authenticator
	dedupe Deduper
	logger *log.Logger
}

type routeFunc func(c echo.Context, m *requestMetrics) error

func (h *handlers) instrument(route string, fn routeFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newRequestMetrics(c.Request().Context(), h.logger, route)
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return fn(c, metrics)
	}
}

func healthz(eng Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := eng.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Status: statusUnavailable})
		}
		return c.NoContent(http.StatusOK)
	}
}

// userID authenticates the request. With optional set a request without an
// Authorization header is served anonymously.
func (h *handlers) userID(c echo.Context, m *requestMetrics, optional bool) (string, bool, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if optional && header == "" {
		return "", true, nil
	}
	start := time.Now()
	userID, err := h.auth.UserIDFromAuthHeader(header)
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
		return "", false, c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Status: statusUnauthorized})
	}
	return userID, true, nil
}

// fail writes the envelope for an engine error.
func (h *handlers) fail(c echo.Context, m *requestMetrics, stage string, err error) error {
	m.SetErrorStage(stage)
	class := domain.StatusClass(err)
	code := http.StatusInternalServerError
	msg := "internal error"
	switch class {
	case domain.StatusInvalidInput:
		code, msg = http.StatusBadRequest, err.Error()
	case domain.StatusNotFound:
		code, msg = http.StatusNotFound, err.Error()
	default:
		if h.logger != nil {
			h.logger.WithError(err).WithField("stage", stage).Error("request failed")
		}
	}
	return c.JSON(code, errorResponse{Error: msg, Status: class})
}

func (h *handlers) respond(c echo.Context, m *requestMetrics, body any) error {
	start := time.Now()
	err := c.JSON(http.StatusOK, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid body: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func parseLevel(raw string, required bool) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && !required {
		return 0, nil
	}
	level, err := strconv.Atoi(raw)
	if err != nil || level < 1 || level > domain.MaxLevel {
		return 0, fmt.Errorf("level %q: %w", raw, domain.ErrInvalidArgument)
	}
	return level, nil
}

func (h *handlers) getTasks(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, true)
	if !ok {
		return err
	}
	level, err := parseLevel(c.QueryParam("level"), false)
	if err != nil {
		return h.fail(c, m, "invalid_level", err)
	}
	mood := strings.TrimSpace(c.QueryParam("mood"))

	start := time.Now()
	tasks, err := h.eng.Tasks(c.Request().Context(), userID, level, mood)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, m, "engine", err)
	}
	m.SetItemsReturned(len(tasks))
	return h.respond(c, m, tasksResponse{Success: true, Tasks: tasks, Total: len(tasks)})
}

func (h *handlers) getLevels(c echo.Context, m *requestMetrics) error {
	levels := h.eng.Levels()
	m.SetItemsReturned(len(levels))
	return h.respond(c, m, levelsResponse{Success: true, Levels: levels})
}

func (h *handlers) getLevelStatus(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, false)
	if !ok {
		return err
	}
	level, err := parseLevel(c.Param("level"), true)
	if err != nil {
		return h.fail(c, m, "invalid_level", err)
	}
	start := time.Now()
	st, err := h.eng.LevelStatus(c.Request().Context(), userID, level)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, m, "engine", err)
	}
	return h.respond(c, m, levelStatusResponse{Success: true, Level: st})
}

func (h *handlers) startTimer(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, false)
	if !ok {
		return err
	}
	var req startTimerRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, m, "decode", err)
	}
	start := time.Now()
	timer, err := h.eng.StartTimer(c.Request().Context(), userID, req.TaskID, req.Duration)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, m, "engine", err)
	}
	return h.respond(c, m, startTimerResponse{Success: true, Timer: timer, Message: "Timer started successfully"})
}

func (h *handlers) completeTask(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, false)
	if !ok {
		return err
	}
	var req completeTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, m, "decode", err)
	}
	ctx := c.Request().Context()

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && h.dedupe != nil {
		added, err := h.dedupe.Add(ctx, userID, key)
		if err != nil {
			return h.fail(c, m, "dedupe", fmt.Errorf("record idempotency key: %w: %w", domain.ErrInternal, err))
		}
		if !added {
			m.SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, errorResponse{Error: "completion already processed", Status: statusDuplicate})
		}
	}

	start := time.Now()
	out, err := h.eng.CompleteTask(ctx, userID, req.TaskID, req.Difficulty, req.Timestamp)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		if key != "" && h.dedupe != nil {
			if rerr := h.dedupe.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil && h.logger != nil {
				h.logger.WithError(rerr).WithFields(log.Fields{"user": userID, "key": key}).Error("dedupe rollback failed")
			}
		}
		return h.fail(c, m, "engine", err)
	}
	return h.respond(c, m, completeTaskResponse{Success: true, Message: "Task completed successfully", CompletionOutcome: out})
}

func (h *handlers) getProgress(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, false)
	if !ok {
		return err
	}
	start := time.Now()
	p, err := h.eng.Progress(c.Request().Context(), userID)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, m, "engine", err)
	}
	return h.respond(c, m, progressResponse{Success: true, Progress: p})
}

func (h *handlers) postReminder(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, false)
	if !ok {
		return err
	}
	var req reminderRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, m, "decode", err)
	}
	if req.ReminderTime == nil {
		return h.fail(c, m, "decode", fmt.Errorf("reminderTime is required: %w", domain.ErrInvalidArgument))
	}
	start := time.Now()
	r, err := h.eng.ScheduleReminder(c.Request().Context(), userID, req.TaskID, *req.ReminderTime, req.Message)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, m, "engine", err)
	}
	return h.respond(c, m, reminderResponse{Success: true, Reminder: r, Message: "Reminder set successfully"})
}

// getReminders hands out the user's due reminders and then lists all of them,
// so the delivered ones already read as sent.
func (h *handlers) getReminders(c echo.Context, m *requestMetrics) error {
	userID, ok, err := h.userID(c, m, false)
	if !ok {
		return err
	}
	ctx := c.Request().Context()
	start := time.Now()
	due, err := h.eng.DueReminders(ctx, userID)
	if err != nil {
		m.ObserveEngine(time.Since(start))
		return h.fail(c, m, "engine", err)
	}
	all, err := h.eng.Reminders(ctx, userID)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, m, "engine", err)
	}
	m.SetItemsReturned(len(all))
	return h.respond(c, m, remindersResponse{Success: true, Reminders: all, DueReminders: due})
}
