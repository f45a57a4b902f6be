// Package router is a small fasthttp router for the read-only diagnostics
// endpoints. Only GET is routed; HEAD is served by the GET handler.
package router

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"
)

// Router matches request paths against registered patterns. A pattern
// segment written as {name} captures that segment into a user value.
type Router struct {
	routes   []route
	notFound fasthttp.RequestHandler
}

type route struct {
	parts   []string
	handler fasthttp.RequestHandler
}

func New() *Router { return &Router{} }

// GET registers h for pattern. Earlier registrations win.
func (r *Router) GET(pattern string, h fasthttp.RequestHandler) {
	r.routes = append(r.routes, route{parts: split(pattern), handler: h})
}

// NotFound replaces the handler for unmatched paths.
func (r *Router) NotFound(h fasthttp.RequestHandler) { r.notFound = h }

// Handler dispatches ctx; it satisfies fasthttp.RequestHandler.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Response.Header.Set("Allow", "GET, HEAD")
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := split(string(ctx.Path()))
	for _, rt := range r.routes {
		if params, ok := match(rt.parts, path); ok {
			for k, v := range params {
				ctx.SetUserValue(k, v)
			}
			rt.handler(ctx)
			return
		}
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func match(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
			if path[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:len(seg)-1]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

// Param returns a captured path segment.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}

// WriteJSONError writes {"error": msg}.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}
