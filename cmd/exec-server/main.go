// Command exec-server runs the sandboxed code execution service: the
// Sandbox Pool, both Executors, the two-tier State Store and the HTTP/
// gRPC surface in front of the Execution Orchestrator. Wiring sequence
// grounded on the reference's cmd/problem-service/main.go: config load
// -> logger init -> storage clients -> domain components -> HTTP+gRPC
// listeners -> signal-driven graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coderunner/internal/api"
	"coderunner/internal/api/middleware"
	"coderunner/internal/audit"
	"coderunner/internal/common/db"
	"coderunner/internal/common/mq"
	"coderunner/internal/common/storage"
	"coderunner/internal/config"
	"coderunner/internal/execengine/isolation"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/oneshot"
	"coderunner/internal/execengine/orchestrator"
	"coderunner/internal/execengine/pool"
	"coderunner/internal/execengine/repl"
	"coderunner/internal/execengine/security"
	"coderunner/internal/execengine/statestore"
	"coderunner/internal/intake"
	"coderunner/pkg/utils/logger"
)

const defaultConfigPath = "configs/exec_server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:         appCfg.Redis.Addr,
		Password:     appCfg.Redis.Password,
		DB:           appCfg.Redis.DB,
		MaxRetries:   appCfg.Redis.MaxRetries,
		DialTimeout:  appCfg.Redis.DialTimeout,
		ReadTimeout:  appCfg.Redis.ReadTimeout,
		WriteTimeout: appCfg.Redis.WriteTimeout,
		PoolSize:     appCfg.Redis.PoolSize,
	})
	defer func() { _ = redisClient.Close() }()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	var mysqlDB *db.MySQL
	if appCfg.Audit.Enabled {
		mysqlDB, err = db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			logger.Error(context.Background(), "init database failed", zap.Error(err))
			return
		}
		defer func() { _ = mysqlDB.Close() }()
	}
	auditLog := audit.New(mysqlDB)
	if err := auditLog.EnsureSchema(context.Background()); err != nil {
		logger.Error(context.Background(), "ensure audit schema failed", zap.Error(err))
		return
	}

	hotTier := statestore.NewRedisHotTier(redisClient)
	coldTier := statestore.NewMinIOColdTier(objStorage, appCfg.State.Bucket)
	sessionStore := statestore.New(hotTier, coldTier, statestore.Config{
		MaxSnapshotBytes: appCfg.State.MaxSnapshotBytes,
		HotTTL:           appCfg.State.HotTTL,
		ColdTTL:          appCfg.State.ColdTTL,
	})
	archivist := statestore.NewArchivist(sessionStore, statestore.ArchivistConfig{
		Interval:       appCfg.State.SweepInterval,
		// Archive idle entries well before their hot key expires at HotTTL.
		StaleThreshold: appCfg.State.HotTTL / 2,
	})
	archivistCtx, stopArchivist := context.WithCancel(context.Background())
	defer stopArchivist()
	go archivist.Run(archivistCtx)

	resolver := security.NewStaticResolver(langspec.DefaultIsolationProfiles())
	engine, err := isolation.NewEngine(isolation.Config{}, resolver)
	if err != nil {
		logger.Error(context.Background(), "init isolation engine failed", zap.Error(err))
		return
	}

	repository := langspec.NewStaticRepository(langspec.DefaultLanguageSpecs(), langspec.DefaultTaskProfiles())

	mgr := manager.New(engine, repository, manager.Config{})
	sandboxPool := pool.New(mgr, appCfg.ToPoolConfigs())
	sandboxPool.Warmup(context.Background())
	defer sandboxPool.Shutdown(context.Background())

	oneshotExec := oneshot.New(engine, repository, oneshot.Config{})
	replExec := repl.New(repl.Config{})

	orch := orchestrator.New(sandboxPool, repository, sessionStore, oneshotExec, replExec, orchestrator.Config{
		MaxCodeBytes: appCfg.Limits.MaxCodeBytes,
	})

	if appCfg.Intake.Enabled {
		mqClient, err := mq.NewKafkaQueue(mq.KafkaConfig{Brokers: appCfg.Intake.Brokers})
		if err != nil {
			logger.Error(context.Background(), "init kafka intake failed", zap.Error(err))
			return
		}
		defer func() { _ = mqClient.Close() }()

		intakeConsumer := intake.New(mqClient, orch, intake.Config{
			Topic:         appCfg.Intake.Topic,
			ConsumerGroup: appCfg.Intake.ConsumerGroup,
		})
		if err := intakeConsumer.Start(context.Background()); err != nil {
			logger.Error(context.Background(), "start intake consumer failed", zap.Error(err))
			return
		}
		defer func() { _ = intakeConsumer.Stop() }()
	}

	healthChecker := &api.StoreHealthChecker{Hot: hotTier, Cold: coldTier, Pool: sandboxPool}
	handler := api.NewHandler(orch, objStorage, appCfg.MinIO.Bucket, auditLog, healthChecker)

	authMW, loginHandler := buildAuthMiddleware(appCfg)

	httpServer := api.BuildServer(api.ServerConfig{
		Addr:         appCfg.Server.Addr,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}, handler, authMW, loginHandler)

	grpcServer := api.NewGRPCHealthServer(healthChecker)
	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		logger.Error(context.Background(), "init grpc listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(context.Background(), "exec-server http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info(context.Background(), "exec-server grpc health server started", zap.String("addr", appCfg.GRPC.Addr))
		errCh <- grpcServer.Serve(grpcListener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
}

func buildAuthMiddleware(appCfg *config.AppConfig) (gin.HandlerFunc, gin.HandlerFunc) {
	if !appCfg.Auth.Enabled {
		return nil, nil
	}
	keyStore := middleware.NewStaticKeyStore(appCfg.Auth.Keys)
	issuer := middleware.NewTokenIssuer([]byte(appCfg.Auth.JWTSecret), appCfg.Auth.JWTIssuer, appCfg.Auth.TokenTTL)
	return middleware.APIKey(keyStore, issuer), middleware.LoginHandler(keyStore, issuer)
}
