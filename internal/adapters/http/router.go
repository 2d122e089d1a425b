package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/airband/gateway/internal/adapters/signal"
	"github.com/airband/gateway/internal/config"
	"github.com/airband/gateway/internal/domain"
	"github.com/airband/gateway/internal/record"
	"github.com/airband/gateway/internal/session"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type statusResponse struct {
	State     string        `json:"state"`
	Codec     string        `json:"codec,omitempty"`
	ClockRate int           `json:"clock_rate,omitempty"`
	Recording record.Status `json:"recording"`
}

type restartRequest struct {
	Reason string `json:"reason"`
}

type recordingStartRequest struct {
	Direction string `json:"direction" binding:"required"`
	Label     string `json:"label"`
}

type recordingGainRequest struct {
	RxDb float64 `json:"rx_db"`
	TxDb float64 `json:"tx_db"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, sess *session.Session, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("GatewaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	api.GET("/status", func(c *gin.Context) {
		resp := statusResponse{
			State:     sess.State(),
			Recording: sess.RecordingStatus(),
		}
		if f := sess.NegotiatedFormat(); !f.IsZero() {
			resp.Codec = string(f.Codec)
			resp.ClockRate = f.ClockRate
		}
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/session/restart", func(c *gin.Context) {
		var req restartRequest
		_ = c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "admin"
		}
		if err := sess.RestartSession(req.Reason); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": sess.State()})
	})

	rec := api.Group("/recording")

	rec.POST("/start", func(c *gin.Context) {
		var req recordingStartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dir, err := domain.ParseDirection(req.Direction)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := sess.StartRecording(dir, req.Label); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess.RecordingStatus())
	})

	rec.POST("/stop", func(c *gin.Context) {
		sess.StopRecording()
		c.JSON(http.StatusOK, sess.RecordingStatus())
	})

	rec.POST("/gain", func(c *gin.Context) {
		var req recordingGainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess.SetRecordingGain(req.RxDb, req.TxDb)
		c.Status(http.StatusNoContent)
	})

	return r
}
