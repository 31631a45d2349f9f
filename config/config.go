package config

import (
	"fmt"
	"net"
	"time"
)

type Config struct {
	BindAddr      string
	AdvertiseAddr string // optional; hostname others use to reach us (e.g. broker1). When set, Serf/RPC advertise this; bind with 0.0.0.0 in Docker.
	NodeConfig    NodeConfig
	Replication   ReplicationConfig
	Serf          SerfConfig
}

type NodeConfig struct {
	ID       int32
	RPCPort  int
	DataDirs []string
}

// ReplicationConfig holds replica-manager settings.
type ReplicationConfig struct {
	// CheckpointInterval is how often high watermarks are flushed to disk (0 = default 5s).
	CheckpointInterval time.Duration
	// MaxRecordBytes rejects oversized records before they reach the log (0 = default 1MB).
	MaxRecordBytes int
	// FetchBackoff is the follower retry delay after a failed fetch (0 = default 50ms).
	FetchBackoff time.Duration
	// FetchMaxBytes caps one follower fetch request (0 = default 1MB).
	FetchMaxBytes uint32
}

// SerfConfig holds cluster membership settings.
type SerfConfig struct {
	Port           int
	StartJoinAddrs []string
}

const (
	DefaultCheckpointInterval = 5 * time.Second
	DefaultMaxRecordBytes     = 1024 * 1024
	DefaultFetchBackoff       = 50 * time.Millisecond
	DefaultFetchMaxBytes      = 1024 * 1024
)

func (c ReplicationConfig) CheckpointIntervalOrDefault() time.Duration {
	if c.CheckpointInterval <= 0 {
		return DefaultCheckpointInterval
	}
	return c.CheckpointInterval
}

func (c ReplicationConfig) MaxRecordBytesOrDefault() int {
	if c.MaxRecordBytes <= 0 {
		return DefaultMaxRecordBytes
	}
	return c.MaxRecordBytes
}

func (c ReplicationConfig) FetchBackoffOrDefault() time.Duration {
	if c.FetchBackoff <= 0 {
		return DefaultFetchBackoff
	}
	return c.FetchBackoff
}

func (c ReplicationConfig) FetchMaxBytesOrDefault() uint32 {
	if c.FetchMaxBytes == 0 {
		return DefaultFetchMaxBytes
	}
	return c.FetchMaxBytes
}

func (c Config) RPCAddr() (string, error) {
	if c.AdvertiseAddr != "" {
		return fmt.Sprintf("%s:%d", c.AdvertiseAddr, c.NodeConfig.RPCPort), nil
	}
	host, _, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, c.NodeConfig.RPCPort), nil
}

// RPCListenAddr returns the address the RPC server should bind to. When
// AdvertiseAddr is set, bind 0.0.0.0 so other brokers can connect.
func (c Config) RPCListenAddr() (string, error) {
	if c.AdvertiseAddr != "" {
		return fmt.Sprintf("0.0.0.0:%d", c.NodeConfig.RPCPort), nil
	}
	return c.RPCAddr()
}
