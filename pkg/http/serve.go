package xhttp

import (
	"net"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	defaultReadBufferSize  = 1024 * 8
	defaultWriteBufferSize = 1024 * 8
	defaultReadTimeout     = time.Second * 10
	defaultWriteTimeout    = time.Second * 30
)

// DefaultServerOption suits a JSON api whose largest request is a report
// with its full recipient list.
var DefaultServerOption = ServerOption{
	IdleTimeout:           time.Second * 10,
	MaxIdleWorkerDuration: time.Minute,
	TCPKeepalivePeriod:    time.Minute * 2,
	// a report with tens of thousands of recipients
	MaxRequestBodySize: 16 * 1024 * 1024,
	ReadBufferSize:     defaultReadBufferSize,
	WriteBufferSize:    defaultWriteBufferSize,
	ReadTimeout:        defaultReadTimeout,
	WriteTimeout:       defaultWriteTimeout,
	Concurrency:        10_000,
	MaxConnsPerIP:      1_000,
	ErrorHandler: func(ctx *RequestCtx, err error) {
		logger.Warn("[xhttp] bad request", "path", string(ctx.Path()), "error", err)
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(StatusBadRequest)
		ctx.SetBodyString(`{"error":"malformed request"}`)
	},
	CloseOnShutdown: true,
}

type RequestHeader = fasthttp.RequestHeader
type ResponseHeader = fasthttp.ResponseHeader
type Server = fasthttp.Server

type ServerOption struct {
	// Idle keep-alive connections are closed after IdleTimeout so a burst of
	// clients does not pin file descriptors.
	IdleTimeout           time.Duration
	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration
	MaxRequestBodySize    int

	// ReadBufferSize also caps the request header size.
	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	Concurrency     int
	MaxConnsPerIP   int
	ErrorHandler    func(ctx *RequestCtx, err error)
	CloseOnShutdown bool
}

// Engine is a fasthttp server with a router and an ordered middleware chain.
type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		ErrorHandler:                 options.ErrorHandler,
		Concurrency:                  options.Concurrency,
		ReadBufferSize:               options.ReadBufferSize,
		WriteBufferSize:              options.WriteBufferSize,
		ReadTimeout:                  options.ReadTimeout,
		WriteTimeout:                 options.WriteTimeout,
		IdleTimeout:                  options.IdleTimeout,
		MaxConnsPerIP:                options.MaxConnsPerIP,
		MaxIdleWorkerDuration:        options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:           options.TCPKeepalivePeriod,
		MaxRequestBodySize:           options.MaxRequestBodySize,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              options.CloseOnShutdown,
		Logger:                       logger.GetLogger(),
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

func CreateServer() *Engine {
	return CreateServerWith(DefaultServerOption)
}

// CreateServerWith builds an engine with the default router from options,
// usually DefaultServerOption adjusted through WithTimeouts/WithBuffers.
func CreateServerWith(options ServerOption) *Engine {
	s := NewServer(options)
	s.Router = CreateDefaultRouter()
	return s
}

// WithTimeouts overrides read and write timeouts; zero keeps the default.
func (o ServerOption) WithTimeouts(read, write time.Duration) ServerOption {
	if read > 0 {
		o.ReadTimeout = read
	}
	if write > 0 {
		o.WriteTimeout = write
	}
	return o
}

// WithBuffers overrides the per-connection buffers; values under 1KB are ignored.
func (o ServerOption) WithBuffers(read, write int) ServerOption {
	if read >= 1024 {
		o.ReadBufferSize = read
	}
	if write >= 1024 {
		o.WriteBufferSize = write
	}
	return o
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// Serve runs the engine on an existing listener.
func (e *Engine) Serve(ln net.Listener) error {
	e.DoRouting()
	return e.Server.Serve(ln)
}

// DoRouting installs the router behind the middleware chain. Middlewares run
// in the order they were added, the first one outermost.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}
	e.Server.Handler = e.Handler()
}

// Handler returns the router wrapped in every registered middleware.
func (e *Engine) Handler() RequestHandler {
	h := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		h = m(h)
	}
	for i, m := range e.middle {
		logger.Debug("[xhttp] middleware registered", "order", i+1, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	return h
}

// Use appends a middleware to the chain.
//
//	s.Use(xhttp.RequestIDMiddleware)
//	s.Use(xhttp.RequestLoggerMiddleware)
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
		return
	}
	logger.Info("[xhttp] server stopped")
}
