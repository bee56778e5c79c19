package server

import (
	"SoakGate/internal/conf"
	"SoakGate/internal/server/middleware"
	"SoakGate/internal/service"
	pkglog "SoakGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.ResilienceService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, svc)

	return srv
}

// reasonRequest carries the mandatory reason for manual overrides.
type reasonRequest struct {
	Reason string `json:"reason"`
}

// ledgerQuery bounds the ledger listing.
type ledgerQuery struct {
	Limit int `form:"limit" json:"limit"`
}

func registerRoutes(srv *http.Server, svc *service.ResilienceService) {
	r := srv.Route("/v1")

	r.POST("/call", func(ctx http.Context) error {
		var req service.CallRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.Call(ctx, req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/breaker/metrics", func(ctx http.Context) error {
		return ctx.Result(200, svc.Metrics(ctx))
	})

	r.POST("/breaker/open", func(ctx http.Context) error {
		var req reasonRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		if err := svc.ForceOpen(ctx, req.Reason); err != nil {
			return err
		}
		return ctx.Result(200, svc.Metrics(ctx))
	})

	r.POST("/breaker/close", func(ctx http.Context) error {
		var req reasonRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		if err := svc.ForceClose(ctx, req.Reason); err != nil {
			return err
		}
		return ctx.Result(200, svc.Metrics(ctx))
	})

	r.GET("/backlog", func(ctx http.Context) error {
		return ctx.Result(200, svc.Backlog(ctx))
	})

	r.GET("/rollout/status", func(ctx http.Context) error {
		return ctx.Result(200, svc.RolloutStatus(ctx))
	})

	r.POST("/rollout/gate/evaluate", func(ctx http.Context) error {
		return ctx.Result(200, svc.EvaluateGate(ctx))
	})

	r.POST("/rollout/advance", func(ctx http.Context) error {
		return ctx.Result(200, svc.Advance(ctx))
	})

	r.POST("/rollout/rollback", func(ctx http.Context) error {
		var req reasonRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		if err := svc.Rollback(ctx, req.Reason); err != nil {
			return err
		}
		return ctx.Result(200, svc.RolloutStatus(ctx))
	})

	r.GET("/ledger", func(ctx http.Context) error {
		var q ledgerQuery
		if err := ctx.BindQuery(&q); err != nil {
			return err
		}
		return ctx.Result(200, svc.LedgerEntries(ctx, q.Limit))
	})

	r.GET("/ledger/verify", func(ctx http.Context) error {
		return ctx.Result(200, svc.VerifyLedger(ctx))
	})
}
