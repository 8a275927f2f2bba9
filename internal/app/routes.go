package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"taskboard/internal/auth"
	"taskboard/internal/config"
	"taskboard/internal/handlers"
	"taskboard/internal/service"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Log     *slog.Logger
	Tokens  *auth.Tokens
	AuthSvc *service.AuthService
	TaskSvc *service.TaskService
	// Checks are pinged by /health, keyed by dependency name.
	Checks map[string]func(context.Context) error
}

// Setup registers all routes on the given engine.
func Setup(r *gin.Engine, cfg config.Config, d Deps) {
	r.GET("/", rootHandler(cfg))
	r.GET("/health", healthHandler(cfg, d.Checks))
	r.GET("/version", versionHandler(cfg))
	r.GET("/swagger-doc.json", swaggerDocHandler())
	r.GET("/swagger", func(c *gin.Context) { c.Redirect(http.StatusFound, "/swagger/index.html") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(
		swaggerFiles.Handler,
		ginSwagger.URL("/swagger-doc.json"),
		ginSwagger.DefaultModelsExpandDepth(-1),
		ginSwagger.PersistAuthorization(true),
	))

	api := r.Group("/api")

	authHandler := handlers.NewAuthHandler(d.AuthSvc, d.Log)
	registerAuthRoutes(api, authHandler)

	protected := api.Group("", auth.RequireToken(d.Tokens))
	taskHandler := handlers.NewTaskHandler(d.TaskSvc, d.Log)
	registerTaskRoutes(protected, taskHandler)
}

func rootHandler(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "Task Tracker API",
			"version": cfg.App.Version,
			"env":     cfg.App.Env,
			"docs":    "/swagger/index.html",
			"spec":    "/swagger-doc.json",
			"health":  "/health",
			"api":     "/api",
		})
	}
}

// healthHandler pings every dependency and answers 503 if any of them fails.
func healthHandler(cfg config.Config, checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"ok": status == http.StatusOK, "env": cfg.App.Env, "checks": results})
	}
}

func versionHandler(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": cfg.App.Version})
	}
}

func swaggerDocHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := swag.ReadDoc("swagger")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
	}
}

// registerTaskRoutes registers /tasks/completed before /tasks/:id so "completed" is never read as an id.
func registerTaskRoutes(api *gin.RouterGroup, h *handlers.TaskHandler) {
	api.GET("/tasks", h.List)
	api.POST("/tasks", h.Create)
	api.DELETE("/tasks/completed", h.ClearCompleted)
	api.PUT("/tasks/:id", h.Update)
	api.DELETE("/tasks/:id", h.Delete)
	api.GET("/categories", h.Categories)
}

func registerAuthRoutes(api *gin.RouterGroup, h *handlers.AuthHandler) {
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/forgot-password", h.ForgotPassword)
	api.PUT("/reset-password", h.ResetPassword)
}
