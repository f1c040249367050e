package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/los-tecnicos/gridledger/params"
	"github.com/los-tecnicos/gridledger/pkg/api"
	"github.com/los-tecnicos/gridledger/pkg/app/grid"
	"github.com/los-tecnicos/gridledger/pkg/p2p"
	"github.com/los-tecnicos/gridledger/pkg/storage"
	"github.com/los-tecnicos/gridledger/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if cfg.Market.AdminAddress == "" {
		sugar.Fatal("ADMIN_ADDRESS is required")
	}
	admin := common.HexToAddress(cfg.Market.AdminAddress)

	// ---- Storage ----
	kv, err := storage.NewPebbleStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("pebble_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer kv.Close()

	var audit storage.AuditLog = storage.NewNopAudit()
	if cfg.Node.AuditLog != "" {
		fa, err := storage.NewFileAudit(cfg.Node.AuditLog)
		if err != nil {
			sugar.Fatalw("audit_open_failed", "path", cfg.Node.AuditLog, "err", err)
		}
		defer fa.Close()
		audit = fa
	}

	// ---- App: community energy market ----
	app := grid.NewApp(grid.Options{
		Admin: admin,
		KV:    kv,
		Audit: audit,
		Log:   sugar,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Community mesh (optional) ----
	if cfg.Mesh.Enabled {
		mesh, err := p2p.NewMesh(ctx, p2p.MeshConfig{
			ListenAddr: cfg.Mesh.ListenAddr,
			Bootstrap:  cfg.Mesh.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("mesh_init_failed", "err", err)
		}
		defer mesh.Close()
		app.AddSettlementSink(mesh)
	}

	// ---- API Server ----
	apiServer := api.NewServer(app)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.ListenAddr)
		if err := apiServer.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"admin", admin.Hex(),
		"db_path", cfg.Node.DBPath,
		"mesh_enabled", cfg.Mesh.Enabled)

	<-ctx.Done()
	sugar.Info("shutting down")
}
