package main

import (
    "context"
    "os"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "go.uber.org/zap"

    "meshchat/pkg/config"
    netstack "meshchat/pkg/core/netstack"
    httpgw "meshchat/pkg/gateway/http"
    "meshchat/pkg/identity"
    "meshchat/pkg/inbox"
    "meshchat/pkg/mesh"
    "meshchat/pkg/observability"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport/mdns"
)

// run wires the node from config and blocks until ctx is done.
func run(ctx context.Context, opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()
    zap.L().Info("meshchat-node starting", zap.String("name", cfg.DisplayName))
    zap.L().Debug("effective configuration", zap.Any("config", cfg))

    priv, local, err := identity.LoadOrGenEd25519(cfg.Identity, cfg.DisplayName)
    if err != nil {
        zap.L().Error("failed to init identity", zap.Error(err))
        return 1
    }

    endpoints, err := netstack.EndpointsFromConfig(cfg.Transports)
    if err != nil {
        zap.L().Error("invalid transports", zap.Error(err))
        return 1
    }
    format, err := protocol.ParseFormat(cfg.Mesh.WireFormat)
    if err != nil {
        zap.L().Error("invalid wire format", zap.Error(err))
        return 1
    }
    wire, err := protocol.NewWire(format)
    if err != nil {
        zap.L().Error("wire setup failed", zap.Error(err))
        return 1
    }
    nsopts := netstack.Options{DisplayName: cfg.DisplayName, Priv: priv, Wire: wire, Net: cfg.Net}
    if cfg.Discovery.MDNS {
        nsopts.Browser = mdns.New(mdns.Config{Service: cfg.Discovery.Service, Domain: cfg.Discovery.Domain})
    }
    host, err := netstack.New(endpoints, nsopts)
    if err != nil {
        zap.L().Error("failed to build transports", zap.Error(err))
        return 1
    }
    if host.Local() != local {
        zap.L().Error("peer id mismatch", zap.String("identity", string(local)), zap.String("host", string(host.Local())))
        return 1
    }

    reg := prometheus.NewRegistry()
    reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    rec := observability.NewRecorder(reg)

    mopts := []mesh.Option{mesh.WithRecorder(rec)}
    var store *inbox.Store
    if cfg.Inbox.Enable {
        store, err = inbox.Open(cfg.Inbox.Path)
        if err != nil {
            zap.L().Error("failed to open inbox", zap.Error(err))
            return 1
        }
        defer func() { _ = store.Close() }()
        mopts = append(mopts, mesh.WithArchive(store))
    }

    svc, err := mesh.New(cfg.Mesh, local, host, mopts...)
    if err != nil {
        zap.L().Error("failed to build mesh", zap.Error(err))
        return 1
    }

    if err := svc.Start(ctx); err != nil {
        zap.L().Error("failed to start mesh", zap.Error(err))
        return 1
    }
    defer func() { _ = svc.Stop() }()

    if cfg.Gateway.Enable {
        var in httpgw.Inbox
        if store != nil { in = store }
        gw := httpgw.New(svc, in, rec)
        if _, err := gw.Start(cfg.Gateway.Listen); err != nil {
            zap.L().Error("failed to start gateway", zap.Error(err))
            return 1
        }
        defer func() {
            sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            _ = gw.Shutdown(sctx)
        }()
    }

    zap.L().Info("node is running; press Ctrl+C to exit", zap.String("peer_id", string(local)))
    <-ctx.Done()
    zap.L().Info("shutting down")
    return 0
}
