package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dentaflow/labchat/internal/chat"
	"github.com/dentaflow/labchat/internal/gateway"
	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all labchat routes on the Gin router.
func registerRoutes(router *gin.Engine, svc *Service, gatherer prometheus.Gatherer, sendBuffer int) {
	router.GET("/healthz", handleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/ws", handleWebsocket(svc.Gateway(), sendBuffer))

	api := router.Group("/api")
	api.POST("/chats", handleCreateChat(svc))
	api.GET("/scopes/:scopeId/chats", handleListChats(svc))
	api.GET("/chats/:id", handleGetChat(svc))
	api.DELETE("/chats/:id", handleDeleteChat(svc))
	api.GET("/chats/:id/messages", handleListMessages(svc))
	api.POST("/chats/:id/messages", handlePostMessage(svc))
	api.POST("/chats/:id/read", handleMarkRead(svc))
	api.GET("/chats/:id/unread", handleUnread(svc))
	api.POST("/chats/:id/archive", handleArchive(svc))
	api.PUT("/chats/:id/participants", handleParticipants(svc))
	api.POST("/work-items/:id/chat", handleWorkItemChat(svc))
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("api: %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

// writeError maps store errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.Printf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleWebsocket(gw *gateway.Gateway, sendBuffer int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := gateway.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			log.Printf("api: websocket upgrade: %v", err)
			return
		}
		gw.Serve(c.Request.Context(), ws, sendBuffer)
	}
}

func handleCreateChat(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateChatRequest
		if !bindJSON(c, &req) {
			return
		}
		created, err := svc.CreateChat(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func handleListChats(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats, err := svc.ListChats(c.Request.Context(), c.Param("scopeId"), c.Query("identity"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, chats)
	}
}

func handleGetChat(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		found, err := svc.GetChat(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, found)
	}
}

func handleDeleteChat(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
	}
}

func handleListMessages(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := svc.ListMessages(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

func handlePostMessage(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d messaging.Draft
		if !bindJSON(c, &d) {
			return
		}
		msg, err := svc.PostMessage(c.Request.Context(), c.Param("id"), d)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

type identityBody struct {
	Identity string `json:"identity"`
}

func handleMarkRead(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body identityBody
		if !bindJSON(c, &body) {
			return
		}
		n, err := svc.MarkRead(c.Request.Context(), c.Param("id"), body.Identity)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chatId": c.Param("id"), "marked": n})
	}
}

func handleUnread(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.Query("identity")
		if identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
			return
		}
		count := svc.UnreadCount(c.Request.Context(), c.Param("id"), identity)
		c.JSON(http.StatusOK, gin.H{"chatId": c.Param("id"), "count": count})
	}
}

func handleArchive(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		archived, err := svc.ArchiveChat(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, archived)
	}
}

type participantsBody struct {
	Participants any    `json:"participants"`
	UpdatedBy    string `json:"updatedBy"`
}

func handleParticipants(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body participantsBody
		if !bindJSON(c, &body) {
			return
		}
		updated, err := svc.UpdateParticipants(c.Request.Context(), c.Param("id"), body.Participants, body.UpdatedBy)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func handleWorkItemChat(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WorkItemChatRequest
		if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
			return
		}
		found, created, err := svc.EnsureWorkItemChat(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, found)
	}
}
