package utils

import (
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-pipeline/types"
)

var internalErrorBody = []byte(`{"error":"Internal server error","message":"An unexpected error occurred","status":500}`)

// EncodeResult turns a pipeline result into a status code and JSON body.
// Escaped errors never reach the body.
func EncodeResult(result any, err error) (int, []byte) {
	if err != nil {
		status, category := types.Classify(err)
		if status == http.StatusInternalServerError {
			return status, internalErrorBody
		}
		return encode(status, types.NewErrorResponse(status, category, ""))
	}

	status := http.StatusOK
	if coder, ok := result.(types.StatusCoder); ok && coder.StatusCode() > 0 {
		status = coder.StatusCode()
	}

	if result == nil {
		return status, []byte("null")
	}

	return encode(status, result)
}

func encode(status int, value any) (int, []byte) {
	body, err := Marshal(value)
	if err != nil {
		return http.StatusInternalServerError, internalErrorBody
	}
	return status, body
}

func WriteFastHTTP(ctx *fasthttp.RequestCtx, status int, body []byte) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")

	if status >= http.StatusBadRequest {
		ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}

	ctx.SetBody(body)
}

func WriteHTTP(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")

	if status >= http.StatusBadRequest {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}

	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}
