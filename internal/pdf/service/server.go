package service

import (
	"github.com/valyala/fasthttp"
)

// CreateHTTPHandler creates the main HTTP request handler with routing
func CreateHTTPHandler(h *Handler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case method == "POST" && path == "/generate":
			h.HandleGenerate(ctx)
		case method == "GET" && path == "/health":
			h.HandleHealth(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			h.metrics.RecordHTTPRequest(path, "404")
		}
	}
}
