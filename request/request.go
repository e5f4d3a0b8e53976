package request

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// FromArg recognises the request shapes of the supported web frameworks.
func FromArg(arg any) (types.Request, bool) {
	switch r := arg.(type) {
	case types.Request:
		return r, true
	case *fasthttp.RequestCtx:
		return NewFastHTTP(r), true
	case *http.Request:
		return NewHTTP(r), true
	default:
		return nil, false
	}
}

type FastHTTPRequest struct {
	ctx *fasthttp.RequestCtx
}

func NewFastHTTP(ctx *fasthttp.RequestCtx) *FastHTTPRequest {
	return &FastHTTPRequest{ctx: ctx}
}

func (r *FastHTTPRequest) Method() string {
	return string(r.ctx.Method())
}

func (r *FastHTTPRequest) Path() string {
	return string(r.ctx.Path())
}

func (r *FastHTTPRequest) Header(name string) string {
	return string(r.ctx.Request.Header.Peek(name))
}

func (r *FastHTTPRequest) Headers() map[string]string {
	headers := make(map[string]string)
	r.ctx.Request.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	return headers
}

func (r *FastHTTPRequest) Query() map[string]string {
	query := make(map[string]string)
	r.ctx.QueryArgs().VisitAll(func(key, value []byte) {
		query[string(key)] = string(value)
	})
	return query
}

func (r *FastHTTPRequest) QueryValue(name string) string {
	return string(r.ctx.QueryArgs().Peek(name))
}

func (r *FastHTTPRequest) Param(name string) string {
	if v, ok := r.ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

func (r *FastHTTPRequest) Body() []byte {
	return r.ctx.PostBody()
}

func (r *FastHTTPRequest) RemoteAddr() string {
	return r.ctx.RemoteIP().String()
}

func (r *FastHTTPRequest) UserAgent() string {
	return utils.BytesToString(r.ctx.UserAgent())
}

func (r *FastHTTPRequest) RequestCtx() *fasthttp.RequestCtx {
	return r.ctx
}

type HTTPRequest struct {
	req  *http.Request
	body []byte
	read bool
}

func NewHTTP(req *http.Request) *HTTPRequest {
	return &HTTPRequest{req: req}
}

func (r *HTTPRequest) Method() string {
	return r.req.Method
}

func (r *HTTPRequest) Path() string {
	return r.req.URL.Path
}

func (r *HTTPRequest) Header(name string) string {
	return r.req.Header.Get(name)
}

func (r *HTTPRequest) Headers() map[string]string {
	headers := make(map[string]string, len(r.req.Header))
	for key := range r.req.Header {
		headers[key] = r.req.Header.Get(key)
	}
	return headers
}

func (r *HTTPRequest) Query() map[string]string {
	values := r.req.URL.Query()
	query := make(map[string]string, len(values))
	for key := range values {
		query[key] = values.Get(key)
	}
	return query
}

func (r *HTTPRequest) QueryValue(name string) string {
	return r.req.URL.Query().Get(name)
}

func (r *HTTPRequest) Param(name string) string {
	return chi.URLParam(r.req, name)
}

// Body reads the request body once and restores it for later readers.
func (r *HTTPRequest) Body() []byte {
	if r.read {
		return r.body
	}
	r.read = true

	if r.req.Body == nil {
		return nil
	}

	body, err := io.ReadAll(r.req.Body)
	_ = r.req.Body.Close()
	if err != nil {
		return nil
	}

	r.body = body
	r.req.Body = io.NopCloser(bytes.NewReader(body))

	return r.body
}

func (r *HTTPRequest) RemoteAddr() string {
	return r.req.RemoteAddr
}

func (r *HTTPRequest) UserAgent() string {
	return r.req.UserAgent()
}

func (r *HTTPRequest) Request() *http.Request {
	return r.req
}
