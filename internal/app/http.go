package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"chatevents/pkg/models"
	"chatevents/pkg/router"
)

type chatView struct {
	Chat            string `json:"chat"`
	Threads         int    `json:"threads"`
	Events          uint64 `json:"events"`
	EphemeralEvents int    `json:"ephemeral_events"`
	RetentionFloor  uint64 `json:"retention_floor"`
	Migration       string `json:"migration"`
}

func (a *App) healthz(ctx *fasthttp.RequestCtx) {
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) readyz(ctx *fasthttp.RequestCtx) {
	if !a.ready.Load() {
		router.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	if a.disk != nil && a.disk.Alert() {
		router.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "disk usage high"})
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": ver})
}

// chats lists per-chat stats; ?scope=group:7 narrows to one loaded chat.
func (a *App) chats(ctx *fasthttp.RequestCtx) {
	var filter *models.ChatScope
	if raw := string(ctx.QueryArgs().Peek("scope")); raw != "" {
		scope, err := models.ParseChatScope(raw)
		if err != nil {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		filter = &scope
	}
	stats, err := a.reg.Stats(context.Background())
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	out := make([]chatView, 0, len(stats))
	for _, s := range stats {
		if filter != nil && s.Chat != *filter {
			continue
		}
		out = append(out, chatView{
			Chat:            s.Chat.String(),
			Threads:         s.Threads,
			Events:          s.Events,
			EphemeralEvents: s.EphemeralEvents,
			RetentionFloor:  uint64(s.RetentionFloor),
			Migration:       a.reg.MigrationState(s.Chat).String(),
		})
	}
	if filter != nil && len(out) == 0 {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "chat not loaded")
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, out)
}

func (a *App) handler() fasthttp.RequestHandler {
	r := router.New()
	r.GET("/healthz", a.healthz)
	r.GET("/readyz", a.readyz)
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{})))
	r.GET("/debug/chats", a.chats)
	return r.Handler
}

func newServer(a *App) *fasthttp.Server {
	const (
		readTimeout  = 10 * time.Second
		writeTimeout = 10 * time.Second
		idleTimeout  = 30 * time.Second
	)
	return &fasthttp.Server{
		Handler:            a.handler(),
		Name:               "chatevents",
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		IdleTimeout:        idleTimeout,
		MaxRequestBodySize: 4 << 10, // diagnostics only, no request bodies
		ReduceMemoryUsage:  true,
	}
}
