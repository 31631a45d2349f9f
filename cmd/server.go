package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/solivaf/kafka/cluster"
	"github.com/solivaf/kafka/config"
	"github.com/solivaf/kafka/fetcher"
	"github.com/solivaf/kafka/log"
	"github.com/solivaf/kafka/quota"
	"github.com/solivaf/kafka/replication"
	"github.com/solivaf/kafka/rpc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func init() {
	var (
		nodeID        int32
		bindAddr      string
		advertiseAddr string
		rpcPort       int
		serfPort      int
		joinAddrs     []string
		dataDirs      []string
		quotaBytes    float64
	)

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg := config.Config{
				BindAddr:      bindAddr,
				AdvertiseAddr: advertiseAddr,
				NodeConfig: config.NodeConfig{
					ID:       nodeID,
					RPCPort:  rpcPort,
					DataDirs: dataDirs,
				},
				Serf: config.SerfConfig{
					Port:           serfPort,
					StartJoinAddrs: joinAddrs,
				},
			}

			provider, err := log.NewProvider(cfg.NodeConfig.DataDirs, cfg.Replication.MaxRecordBytesOrDefault(), logger)
			if err != nil {
				return fmt.Errorf("open data dirs: %w", err)
			}

			metadata := cluster.NewMetadataCache()
			pool := cluster.NewBrokerPool()
			fetchers := fetcher.NewManager(nodeID, cfg.Replication, metadata, pool, logger)
			manager := replication.NewReplicaManager(nodeID, cfg.Replication, provider, metadata, fetchers, nil, logger)
			fetchers.Bind(manager.Registry())

			var quotaAuth quota.Authority
			if quotaBytes > 0 {
				quotaAuth = quota.NewByteRate(quotaBytes, int(quotaBytes))
			}
			srv := rpc.NewServer(manager, quotaAuth, logger)
			listenAddr, err := cfg.RPCListenAddr()
			if err != nil {
				return err
			}
			if err := srv.Start(listenAddr); err != nil {
				return fmt.Errorf("listen %s: %w", listenAddr, err)
			}
			logger.Info("broker started",
				zap.Int32("node_id", nodeID),
				zap.String("rpc_addr", srv.Addr()))

			membership, err := cluster.NewMembership(cfg, metadata, pool, logger)
			if err != nil {
				return fmt.Errorf("join cluster: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down")
			if err := membership.Leave(); err != nil {
				logger.Error("serf leave failed", zap.Error(err))
			}
			srv.Close()
			pool.CloseAll()
			return manager.Shutdown()
		},
	}

	serverCmd.Flags().Int32Var(&nodeID, "node-id", 1, "broker id, unique per cluster")
	serverCmd.Flags().StringVar(&bindAddr, "bind-addr", "127.0.0.1:9400", "serf bind address")
	serverCmd.Flags().StringVar(&advertiseAddr, "advertise-addr", "", "hostname other brokers use to reach this one")
	serverCmd.Flags().IntVar(&rpcPort, "rpc-port", 9092, "broker RPC port")
	serverCmd.Flags().IntVar(&serfPort, "serf-port", 9400, "serf gossip port")
	serverCmd.Flags().StringSliceVar(&joinAddrs, "join", nil, "serf addresses of existing members, repeatable")
	serverCmd.Flags().StringSliceVar(&dataDirs, "data-dir", []string{"/tmp/kafka"}, "data directories, repeatable")
	serverCmd.Flags().Float64Var(&quotaBytes, "quota-bytes", 0, "byte rate limit per second (0 = unlimited)")

	viper.BindPFlag("node_id", serverCmd.Flags().Lookup("node-id"))
	viper.BindPFlag("bind_addr", serverCmd.Flags().Lookup("bind-addr"))
	viper.BindPFlag("rpc_port", serverCmd.Flags().Lookup("rpc-port"))
	viper.BindPFlag("data_dirs", serverCmd.Flags().Lookup("data-dir"))

	rootCmd.AddCommand(serverCmd)
}
