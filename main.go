package main

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/houssamlaghzil/clainjo-horror/config"
	"github.com/houssamlaghzil/clainjo-horror/game"
	"github.com/houssamlaghzil/clainjo-horror/imagegen"
	"github.com/houssamlaghzil/clainjo-horror/oracle"
)

// CreateServer builds the gin engine with the origin policy. An empty
// allow-list reflects any origin (dev: phones on the table's LAN).
func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(ctx *gin.Context) { ctx.String(http.StatusOK, "healthy") })

	if len(allowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST"},
		}))
		return r
	}

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		if origin == "" || slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders: []string{
			"Content-Type",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

// RegisterRoutes mounts the HTTP surface: probes plus the realtime endpoint.
func RegisterRoutes(r *gin.Engine, svc *game.Service, handler *game.Handler) {
	r.GET("/api/version", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"version": svc.Version()})
	})

	r.GET("/api/wizard/status", func(ctx *gin.Context) {
		ok, since, message := svc.WizardStatus()
		if !ok {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "since": since, "message": message})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/ws", handler.WebsocketHandler)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	gin.SetMode(cfg.GinMode)

	arbiter := oracle.New(oracle.Config{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	})
	forge := imagegen.New(imagegen.Config{
		APIKey: cfg.TogetherAPIKey,
	})

	gateway := game.NewGateway()
	svc := game.NewService(game.NewStore(), gateway, arbiter, forge, cfg.AppVersion)
	handler := game.NewHandler(svc, gateway, cfg.AllowedOrigins)

	r := CreateServer(cfg.AllowedOrigins)
	RegisterRoutes(r, svc, handler)

	log.Info().Str("port", cfg.Port).Str("version", cfg.AppVersion).Msg("realtime server listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
