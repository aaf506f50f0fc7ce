package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorBody is the unified error payload for all API errors
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON marshals v and sends it with the given status code
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"response serialization failed","code":"INTERNAL"}`)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// WriteError sends an ErrorBody with the given status code
func WriteError(ctx *fasthttp.RequestCtx, statusCode int, code, message string) {
	WriteJSON(ctx, statusCode, ErrorBody{Error: message, Code: code})
}
