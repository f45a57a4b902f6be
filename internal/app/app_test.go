package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"chatevents/pkg/config"
	"chatevents/pkg/models"
	"chatevents/pkg/sensor"
	"chatevents/pkg/store/events"
)

func get(h fasthttp.RequestHandler, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI(uri)
	h(ctx)
	return ctx
}

func newApp(t *testing.T, engine string) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.Engine = engine
	cfg.Storage.Path = t.TempDir()
	a, err := New(context.Background(), cfg, config.Source{}, "test")
	require.NoError(t, err)
	return a
}

func TestDiagnosticsEndpoints(t *testing.T) {
	a := newApp(t, "memory")
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	scope := models.GroupChat(7)
	require.NoError(t, a.Registry().With(context.Background(), scope, func(c *events.ChatEvents) error {
		_, err := c.PushMessage(events.PushMessageArgs{
			Sender:    "alice",
			MessageID: models.MessageIDFromUint64(1),
			Content:   models.TextContent{Text: "hello"},
		})
		return err
	}))

	h := a.handler()
	assert.Equal(t, fasthttp.StatusOK, get(h, "/healthz").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusServiceUnavailable, get(h, "/readyz").Response.StatusCode())
	a.ready.Store(true)
	ctx := get(h, "/readyz")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, string(ctx.Response.Body()))

	ctx = get(h, "/debug/chats?scope=group:7")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `[{"chat":"group:7","threads":0,"events":1,"ephemeral_events":1,"retention_floor":0,"migration":"idle"}]`, string(ctx.Response.Body()))
	assert.Equal(t, fasthttp.StatusNotFound, get(h, "/debug/chats?scope=group:8").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, get(h, "/debug/chats?scope=nope").Response.StatusCode())

	ctx = get(h, "/metrics")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `chatevents_events_appended_total{kind="message"} 1`)
}

func TestRestartKeepsEvents(t *testing.T) {
	for _, engine := range []string{"pebble", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Storage.Engine = engine
			cfg.Storage.Path = t.TempDir()
			ctx := context.Background()

			a, err := New(ctx, cfg, config.Source{}, "test")
			require.NoError(t, err)
			scope := models.DirectChat(3)
			require.NoError(t, a.Registry().With(ctx, scope, func(c *events.ChatEvents) error {
				for n := uint64(1); n <= 5; n++ {
					if _, err := c.PushMessage(events.PushMessageArgs{
						Sender:    "bob",
						MessageID: models.MessageIDFromUint64(n),
						Content:   models.TextContent{Text: "x"},
					}); err != nil {
						return err
					}
				}
				return nil
			}))
			require.NoError(t, a.Shutdown(ctx))

			b, err := New(ctx, cfg, config.Source{}, "test")
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Shutdown(ctx) })
			assert.Equal(t, []models.ChatScope{scope}, b.Registry().Scopes())
			stats, err := b.Registry().Stats(ctx)
			require.NoError(t, err)
			require.Len(t, stats, 1)
			assert.Equal(t, uint64(5), stats[0].Events)
			assert.Zero(t, stats[0].EphemeralEvents)
		})
	}
}

func TestReadyzReportsDiskPressure(t *testing.T) {
	a := newApp(t, "pebble")
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	require.NotNil(t, a.disk)
	a.ready.Store(true)

	a.disk = sensor.New(sensor.Config{Path: "x", HighPct: 90, LowPct: 80},
		func(string) (sensor.Reading, error) { return sensor.Reading{UsedPct: 97}, nil }, nil, nil)
	_, err := a.disk.Check()
	require.NoError(t, err)

	ctx := get(a.handler(), "/readyz")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"disk usage high"}`, string(ctx.Response.Body()))
}
