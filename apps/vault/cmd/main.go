package main

import (
	"context"
	"database/sql"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/api"
	"github.com/shanmukh0504/onesat/apps/vault/internal/assets"
	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/config"
	"github.com/shanmukh0504/onesat/apps/vault/internal/event_publisher"
	"github.com/shanmukh0504/onesat/apps/vault/internal/leader"
	"github.com/shanmukh0504/onesat/apps/vault/internal/registrar"
	"github.com/shanmukh0504/onesat/apps/vault/internal/repository"
	"github.com/shanmukh0504/onesat/apps/vault/internal/settlement_tracker"
	"github.com/shanmukh0504/onesat/apps/vault/internal/watcher"
)

const leaderKey = "vault:watcher:leader"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting application with configuration",
		zap.String("rpc_url", cfg.RpcURL),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("registry", cfg.RegistryContractAddress.Hex()),
		zap.Duration("polling_interval", cfg.PollingInterval),
		zap.Float64("gas_multiplier", cfg.GasMultiplier),
		zap.Uint64("deploy_action", cfg.DeployAction),
		zap.Int("api_port", cfg.APIPort),
		zap.Bool("leader_election", cfg.RedisURL != ""),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.RunMigrations(db, logger); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	depositRepository := repository.NewDepositRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	client, err := ethclient.DialContext(dialCtx, cfg.RpcURL)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum client", zap.Error(err))
	}
	defer client.Close()

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		idCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		chainID, err = client.ChainID(idCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to get chain ID", zap.Error(err))
		}
	}

	sender, err := chain.NewSender(cfg.SignerPrivateKey, chainID, client)
	if err != nil {
		logger.Fatal("Failed to create transaction sender", zap.Error(err))
	}

	gateway, err := chain.NewGateway(client, cfg.RegistryContractAddress, sender, cfg.GasMultiplier, logger)
	if err != nil {
		logger.Fatal("Failed to create chain gateway", zap.Error(err))
	}

	assetRegistry, err := assets.LoadFile(cfg.AssetsFile)
	if err != nil {
		logger.Fatal("Failed to load supported assets", zap.Error(err))
	}

	depositRegistrar := registrar.New(gateway, depositRepository, cfg.RPCTimeout, cfg.DBTimeout, logger)

	var lease leader.Lease = leader.Standalone{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		lease = leader.NewRedisLease(redisClient, leaderKey, cfg.LeaderLeaseTTL, logger)
	}

	settlementWatcher := watcher.New(depositRepository, gateway, lease, watcher.Config{
		PollingInterval: cfg.PollingInterval,
		RPCTimeout:      cfg.RPCTimeout,
		DBTimeout:       cfg.DBTimeout,
		DeployAction:    cfg.DeployAction,
		LeaseTTL:        cfg.LeaderLeaseTTL,
	}, logger)

	go func() {
		if err := settlementWatcher.Start(ctx); err != nil {
			logger.Fatal("Settlement watcher failed", zap.Error(err))
		}
	}()

	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	go eventPublisher.StartPublishing(ctx)

	tracker, err := settlement_tracker.NewSettlementTracker(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID, gateway, depositRepository, settlement_tracker.Config{
		RPCTimeout:   cfg.RPCTimeout,
		DBTimeout:    cfg.DBTimeout,
		PollInterval: 2 * time.Second,
		MaxWait:      2 * time.Minute,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create settlement tracker", zap.Error(err))
	}
	defer tracker.Close()

	go func() {
		if err := tracker.Start(ctx); err != nil {
			logger.Fatal("Settlement tracker failed", zap.Error(err))
		}
	}()

	depositHandler := api.NewDepositHandler(depositRegistrar, gateway, assetRegistry, cfg.RPCTimeout, logger)
	assetHandler := api.NewAssetHandler(assetRegistry, api.InfoResponse{
		ChainID:         chainID.String(),
		RegistryAddress: cfg.RegistryContractAddress.Hex(),
		SignerAddress:   sender.Address().Hex(),
		DeployAction:    cfg.DeployAction,
		LeaseTTL:        cfg.LeaderLeaseTTL,
	}, logger)
	apiServer := api.NewServer(cfg.APIPort, depositHandler, assetHandler, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Application started",
		zap.String("chain_id", chainID.String()),
		zap.String("signer", sender.Address().Hex()),
		zap.Int("api_port", cfg.APIPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	logger.Info("Application shutdown complete")
}
