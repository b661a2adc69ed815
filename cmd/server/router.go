package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sf7293/pipeline-board/internal/auth"
	"github.com/sf7293/pipeline-board/internal/broadcast"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
)

const streamHeartbeat = 25 * time.Second

func setupHTTPServer(deps *dependencies) http.Handler {
	if deps.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_stage", validateStage)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_stage")
		}
	}

	logic := deps.logic
	timeout := requestTimeout(time.Duration(deps.cfg.ServerTimeOutInSeconds) * time.Second)
	requireUser := auth.Middleware(deps.verifier, deps.authLimiter)

	api := r.Group("/api")

	tasks := api.Group("/tasks", timeout, requireUser)
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestCreateTask{}
		if !bindJSON(c, deps, &req) {
			return
		}

		task, err := logic.CreateTask(c.Request.Context(), currentUser(c), req)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusCreated, task)
	})

	tasks.GET("", func(c *gin.Context) {
		list, err := logic.ListTasks(c.Request.Context(), currentUser(c))
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, list)
	})

	tasks.GET("/:id", func(c *gin.Context) {
		id, ok := taskID(c)
		if !ok {
			return
		}

		task, err := logic.GetTask(c.Request.Context(), currentUser(c), id)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, task)
	})

	tasks.PUT("/:id", func(c *gin.Context) {
		id, ok := taskID(c)
		if !ok {
			return
		}
		req := domain.RouterRequestUpdateTask{}
		if !bindJSON(c, deps, &req) {
			return
		}

		task, err := logic.UpdateTask(c.Request.Context(), currentUser(c), id, req)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, task)
	})

	tasks.PATCH("/:id/move", func(c *gin.Context) {
		id, ok := taskID(c)
		if !ok {
			return
		}
		req := domain.RouterRequestMoveTask{}
		if !bindJSON(c, deps, &req) {
			return
		}

		task, err := logic.MoveTask(c.Request.Context(), currentUser(c), id, req)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, task)
	})

	tasks.DELETE("/:id", func(c *gin.Context) {
		id, ok := taskID(c)
		if !ok {
			return
		}

		if err := logic.DeleteTask(c.Request.Context(), currentUser(c), id); err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"id": id})
	})

	tasks.POST("/:id/public-token", func(c *gin.Context) {
		id, ok := taskID(c)
		if !ok {
			return
		}

		task, err := logic.EnablePublicLink(c.Request.Context(), currentUser(c), id)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"public_token": task.PublicToken})
	})

	api.GET("/activities", timeout, requireUser, func(c *gin.Context) {
		limit, err := queryInt(c, "limit")
		if err != nil {
			respondError(c, deps, errval.NewValidationError("limit", "must be an integer"))
			return
		}
		offset, err := queryInt(c, "offset")
		if err != nil {
			respondError(c, deps, errval.NewValidationError("offset", "must be an integer"))
			return
		}

		entries, err := logic.ListActivities(c.Request.Context(), currentUser(c), limit, offset)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, entries)
	})

	api.GET("/stream", requireUser, func(c *gin.Context) {
		user := currentUser(c)
		subscriberID, events := deps.hub.Subscribe(user.ID, broadcast.DefaultBufferSize)
		defer deps.hub.Unsubscribe(subscriberID)

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("connected", gin.H{"subscriberId": subscriberID})
		c.Writer.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case event, open := <-events:
				if !open {
					return false
				}
				c.SSEvent(string(event.Type), event)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				return true
			}
		})
	})

	public := api.Group("/public", timeout)
	public.GET("/status/:token", func(c *gin.Context) {
		status, err := logic.PublicStatus(c.Request.Context(), c.Param("token"))
		if err != nil {
			respondError(c, deps, err)
			return
		}
		respond(c, http.StatusOK, status)
	})

	api.POST("/leads", timeout, func(c *gin.Context) {
		if deps.leadsLimiter != nil && !deps.leadsLimiter.Allow(c.Request.Context(), c.ClientIP()) {
			respondError(c, deps, errval.ErrRateLimited)
			return
		}

		req := domain.RouterRequestCreateLead{}
		if !bindJSON(c, deps, &req) {
			return
		}

		result, err := logic.CreateLead(c.Request.Context(), req)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		if result.Analytics {
			respond(c, http.StatusOK, gin.H{"analytics": true})
			return
		}
		respond(c, http.StatusCreated, result.Task)
	})

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": deps.hub.Subscribers()})
	})

	r.GET("/readiness", func(c *gin.Context) {
		if ready.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		err := deps.storage.Ping(c)
		if err != nil {
			slog.Error("Storage seems not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if deps.queue != nil && !deps.queue.IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if deps.lock != nil {
			if err := deps.lock.Ping(c); err != nil {
				slog.Error("Redis seems not to be pingable in liveness API", "error", err.Error())
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	if deps.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))
	}

	return cors.New(cors.Options{
		AllowedOrigins:   strings.Split(deps.cfg.CORSOrigin, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// respondError maps domain errors onto status codes. Internal errors never expose
// their cause.
func respondError(c *gin.Context, deps *dependencies, err error) {
	status, message := http.StatusInternalServerError, errval.ErrInternal.Error()

	var validationErr *errval.ValidationError
	switch {
	case errors.As(err, &validationErr):
		status, message = http.StatusBadRequest, validationErr.Error()
	case errors.Is(err, errval.ErrValidation):
		status, message = http.StatusBadRequest, errval.ErrValidation.Error()
	case errors.Is(err, errval.ErrNotFound):
		status, message = http.StatusNotFound, errval.ErrNotFound.Error()
	case errors.Is(err, errval.ErrDuplicateID):
		status, message = http.StatusConflict, errval.ErrDuplicateID.Error()
	case errors.Is(err, errval.ErrAuth):
		status, message = http.StatusUnauthorized, errval.ErrAuth.Error()
	case errors.Is(err, errval.ErrRateLimited):
		status, message = http.StatusTooManyRequests, errval.ErrRateLimited.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusServiceUnavailable, "request timed out"
	}

	if status == http.StatusInternalServerError && !deps.cfg.IsProduction() {
		message = err.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}

func bindJSON(c *gin.Context, deps *dependencies, req any) bool {
	if err := c.ShouldBindBodyWith(req, binding.JSON); err != nil {
		slog.Error("error occurred while binding request", "path", c.FullPath(), "error", err)
		message := "invalid request body"
		if !deps.cfg.IsProduction() {
			message = err.Error()
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
		return false
	}
	return true
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		slog.Error("Invalid id parameter", "id", c.Param("id"))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func currentUser(c *gin.Context) domain.User {
	user, _ := auth.UserFrom(c)
	return user
}

// requestTimeout bounds the time a handler may spend on storage calls.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

var validateStage validator.Func = func(fl validator.FieldLevel) bool {
	stage := domain.Stage(fl.Field().Int())
	return stage.Valid()
}
