package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/narpc/narpc/internal/logger"
	"github.com/narpc/narpc/pkg/class"
	"github.com/narpc/narpc/pkg/config"
	"github.com/narpc/narpc/pkg/handle"
	"github.com/narpc/narpc/pkg/metrics"
	narpcprometheus "github.com/narpc/narpc/pkg/metrics/prometheus"
	"github.com/narpc/narpc/pkg/proc"
	narpcregistry "github.com/narpc/narpc/pkg/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open a class and serve registered RPCs until interrupted",
	Long: `Serve opens a Class over the configured transport, posts receive
buffers on one listening Context, registers the daemon's built-in
demonstration RPCs, and runs until SIGINT/SIGTERM triggers a graceful
shutdown.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		reg := promclient.NewRegistry()
		metrics.InitRegistry(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			logger.Info("metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	c, err := class.InitOpt(fmt.Sprintf("%s://%s", cfg.Class.Protocol, cfg.Class.Name), cfg.Class.Listen, cfg.ClassOptions())
	if err != nil {
		return fmt.Errorf("failed to open class: %w", err)
	}
	logger.Info("class opened", "protocol", c.Protocol(), "name", c.Name())

	ctx, err := c.CreateContext()
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}

	rpcMetrics := narpcprometheus.NewRPCMetrics()
	ctx.Controller().SetMetrics(rpcMetrics)

	registerBuiltinRPCs(c.Registry(), ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("narpcd is running, press Ctrl+C to stop")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, draining in-flight handles")

	deadline := time.Now().Add(cfg.ShutdownTimeout)
	for ctx.Controller().LiveHandles() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if live := ctx.Controller().LiveHandles(); live > 0 {
		logger.Warn("shutdown timeout reached with handles still live", "count", live)
	}

	if err := ctx.Destroy(); err != nil {
		logger.Error("context destroy failed", "error", err)
	}
	if err := c.Finalize(); err != nil {
		logger.Error("class finalize failed", "error", err)
	}
	c.Cleanup()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("narpcd stopped")
	return nil
}

// registerBuiltinRPCs installs the handful of demonstration procedures
// narpcd ships so `narpcd serve`/`narpcd registry` have something to show
// without requiring a caller-supplied registration layer.
func registerBuiltinRPCs(reg *narpcregistry.Registry, ctx *class.Context) {
	registerEchoRPC(reg, ctx)
	registerPingRPC(reg, ctx)
}

type echoMessage struct {
	Text string
}

func registerEchoRPC(reg *narpcregistry.Registry, ctx *class.Context) {
	_, _ = reg.RegisterName("narpc.echo", proc.XDR(), proc.XDR(), func(hid uint64) {
		h, ok := ctx.Controller().Lookup(hid)
		if !ok {
			return
		}
		in := &echoMessage{}
		if err := ctx.Engine().GetStruct(h, handle.Input, in); err != nil {
			logger.Error("echo: decode failed", "error", err)
			return
		}
		if _, err := ctx.Engine().SetStruct(h, handle.Output, in); err != nil {
			logger.Error("echo: encode failed", "error", err)
			return
		}
		if err := ctx.Controller().Respond(h, h.RespondFn, func(error) {
			freeHandle(ctx, h, in)
		}); err != nil {
			logger.Error("echo: respond failed", "error", err)
		}
	})
}

type pingReply struct {
	UnixNano int64
}

func registerPingRPC(reg *narpcregistry.Registry, ctx *class.Context) {
	_, _ = reg.RegisterName("narpc.ping", proc.XDR(), proc.XDR(), func(hid uint64) {
		h, ok := ctx.Controller().Lookup(hid)
		if !ok {
			return
		}
		out := &pingReply{UnixNano: time.Now().UnixNano()}
		if _, err := ctx.Engine().SetStruct(h, handle.Output, out); err != nil {
			logger.Error("ping: encode failed", "error", err)
			return
		}
		if err := ctx.Controller().Respond(h, h.RespondFn, func(error) {
			freeHandle(ctx, h, nil)
		}); err != nil {
			logger.Error("ping: respond failed", "error", err)
		}
	})
}

// freeHandle retires a server-side handle once its response has been
// delivered: in, if non-nil, is the decoded request struct whose
// get_struct call is being balanced; the nil-value call after it drops
// HandleInbound's own base reference, the one that actually releases h
// and forgets it from the controller's inbound table.
func freeHandle(ctx *class.Context, h *handle.Handle, in any) {
	if in != nil {
		if err := ctx.Controller().FreeStruct(h, handle.Input, in); err != nil {
			logger.Error("free_struct (decoded input) failed", "rpc_id", h.RPCID, "handle_id", h.ID, "error", err)
		}
	}
	if err := ctx.Controller().FreeStruct(h, handle.Input, nil); err != nil {
		logger.Error("free_struct (base reference) failed", "rpc_id", h.RPCID, "handle_id", h.ID, "error", err)
	}
}
