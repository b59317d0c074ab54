package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whiteboardsync/internal/auth"
	"whiteboardsync/internal/comments"
	"whiteboardsync/internal/http/commenthandler"
	"whiteboardsync/internal/ws"
)

type httpServer struct {
	listenPort     uint16
	srv            http.Server
	ln             net.Listener
	commentService comments.IService
	verifier       auth.Verifier
	wsSrv          *ws.WsServer
	ctx            context.Context
}

func NewHttpServer(
	ctx context.Context,
	listenPort uint16,
	wsSrv *ws.WsServer,
	commentService comments.IService,
	verifier auth.Verifier,
) *httpServer {
	return &httpServer{
		listenPort:     listenPort,
		wsSrv:          wsSrv,
		commentService: commentService,
		verifier:       verifier,
		ctx:            ctx,
	}
}

// Router builds the gin engine; split out of Start for tests.
func (h *httpServer) Router() *gin.Engine {
	routerEngine := gin.New()

	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	routerEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	routerEngine.GET("/stats", func(c *gin.Context) {
		rooms, clients := h.wsSrv.Hub().Stats()
		c.JSON(http.StatusOK, gin.H{"rooms": rooms, "clients": clients})
	})

	// websocket endpoint; the token travels in the query string
	routerEngine.GET("/ws/whiteboards/:whiteboardId", h.wsSrv.Handle)

	// REST API
	api := routerEngine.Group("", auth.Middleware(h.verifier))
	commenthandler.New(h.commentService).Register(api)

	return routerEngine
}

// Start blocks serving until Dispose is called.
func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	h.srv = http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return h.ctx },
	}
	zap.L().Info("http.listen", zap.String("addr", listenAddr))

	if err := h.srv.Serve(h.ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in‑flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			zap.L().Error("http_dispose", zap.Error(errors.New("shutdown timed out")))
		} else {
			zap.L().Error("http_dispose", zap.Error(err))
		}
		return err
	}
	return nil
}
