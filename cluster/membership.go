package cluster

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/serf/serf"
	"github.com/solivaf/kafka/config"
	"github.com/solivaf/kafka/protocol"
	"go.uber.org/zap"
)

// Membership gossips broker liveness over serf and keeps the metadata cache
// in sync: joins add a broker with its advertised RPC address, leaves and
// failures remove it.
type Membership struct {
	cfg      config.Config
	metadata *MetadataCache
	pool     *BrokerPool
	serf     *serf.Serf
	events   chan serf.Event
	logger   *zap.Logger
}

func NewMembership(cfg config.Config, metadata *MetadataCache, pool *BrokerPool, logger *zap.Logger) (*Membership, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Membership{
		cfg:      cfg,
		metadata: metadata,
		pool:     pool,
		logger:   logger.Named("membership"),
	}
	if err := m.setupSerf(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Membership) setupSerf() error {
	addr, err := net.ResolveTCPAddr("tcp", m.cfg.BindAddr)
	if err != nil {
		return err
	}
	sc := serf.DefaultConfig()
	sc.Init()
	sc.MemberlistConfig.BindAddr = addr.IP.String()
	sc.MemberlistConfig.BindPort = m.cfg.Serf.Port
	if m.cfg.AdvertiseAddr != "" {
		sc.MemberlistConfig.AdvertiseAddr = m.cfg.AdvertiseAddr
		sc.MemberlistConfig.AdvertisePort = m.cfg.Serf.Port
	}
	m.events = make(chan serf.Event)
	sc.EventCh = m.events

	rpcAddr, err := m.cfg.RPCAddr()
	if err != nil {
		return err
	}
	sc.Tags = map[string]string{"rpc_addr": rpcAddr}
	sc.NodeName = strconv.FormatInt(int64(m.cfg.NodeConfig.ID), 10)

	m.serf, err = serf.Create(sc)
	if err != nil {
		return err
	}
	go m.eventHandler()

	if len(m.cfg.Serf.StartJoinAddrs) > 0 {
		if _, err := m.serf.Join(m.cfg.Serf.StartJoinAddrs, true); err != nil {
			m.logger.Error("serf join failed", zap.Error(err),
				zap.Strings("addrs", m.cfg.Serf.StartJoinAddrs))
		}
	}
	return nil
}

func (m *Membership) eventHandler() {
	for e := range m.events {
		switch e.EventType() {
		case serf.EventMemberJoin:
			for _, member := range e.(serf.MemberEvent).Members {
				if m.isLocal(member) {
					continue
				}
				m.handleJoin(member)
			}
		case serf.EventMemberLeave, serf.EventMemberFailed:
			for _, member := range e.(serf.MemberEvent).Members {
				if m.isLocal(member) {
					continue
				}
				m.handleLeave(member)
			}
		}
	}
}

func (m *Membership) handleJoin(member serf.Member) {
	id, rpcAddr, err := brokerIdentity(member)
	if err != nil {
		m.logger.Error("ignoring malformed member", zap.Error(err), zap.String("name", member.Name))
		return
	}
	m.metadata.SetBroker(protocol.BrokerInfo{ID: id, Addr: rpcAddr})
	m.logger.Info("broker joined", zap.Int32("id", id), zap.String("rpc_addr", rpcAddr))
}

func (m *Membership) handleLeave(member serf.Member) {
	id, _, err := brokerIdentity(member)
	if err != nil {
		m.logger.Error("ignoring malformed member", zap.Error(err), zap.String("name", member.Name))
		return
	}
	m.metadata.RemoveBroker(id)
	if m.pool != nil {
		m.pool.Remove(id)
	}
	m.logger.Info("broker left", zap.Int32("id", id))
}

func brokerIdentity(member serf.Member) (int32, string, error) {
	id, err := strconv.ParseInt(member.Name, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("member name %q is not a broker id: %w", member.Name, err)
	}
	rpcAddr := member.Tags["rpc_addr"]
	if rpcAddr == "" {
		return 0, "", fmt.Errorf("member %q has no rpc_addr tag", member.Name)
	}
	return int32(id), rpcAddr, nil
}

func (m *Membership) isLocal(member serf.Member) bool {
	return m.serf.LocalMember().Name == member.Name
}

func (m *Membership) Members() []serf.Member {
	return m.serf.Members()
}

func (m *Membership) Leave() error {
	return m.serf.Leave()
}
