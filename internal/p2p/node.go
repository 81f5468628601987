package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/pkg/logging"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	libp2p "github.com/libp2p/go-libp2p"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
)

const (
	mainnetDHTPrefix = "/anonsend/mainnet"
	testnetDHTPrefix = "/anonsend/testnet"

	mdnsServiceTag = "anonsend-mdns"
)

// Node owns the libp2p host plus the mixing-protocol transport built on top
// of it (DSQueue gossip + session stream), mirroring the shape of the
// teacher's internal/node.Node.
type Node struct {
	host        host.Host
	dht         *dht.IpfsDHT
	pubsub      *pubsub.PubSub
	queueTopic  *QueueTopic
	streamH     *StreamHandler
	sender      *Sender
	cfg         *config.NodeConfig
	log         *logging.Logger
	mdnsService mdns.Service

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a libp2p host and the mixing transport atop it, following
// the teacher's internal/node.New option-builder idiom. NAT/hole-punching/
// relay options are trimmed to what a mixing node needs: DHT + mDNS +
// direct dial (§3 of SPEC_FULL.md).
func New(cfg *config.NodeConfig, dedupe Deduper, log *logging.Logger) (*Node, error) {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}

	priv, err := loadOrCreateKey(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("p2p: load identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(32, 128, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("p2p: connmgr: %w", err)
	}

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = "/ip4/0.0.0.0/tcp/0"
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: new host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	kadDHT, err := initDHT(ctx, h, cfg.Network)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("p2p: pubsub: %w", err)
	}

	queueTopic, err := JoinQueueTopic(ps, cfg.Network, log)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	streamH := NewStreamHandler(h, dedupe, log)
	streamH.Start()
	sender := NewSender(h, DefaultSenderConfig(), log)

	n := &Node{
		host:       h,
		dht:        kadDHT,
		pubsub:     ps,
		queueTopic: queueTopic,
		streamH:    streamH,
		sender:     sender,
		cfg:        cfg,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}

	mdnsService := mdns.NewMdnsService(h, mdnsServiceTag, n)
	n.mdnsService = mdnsService

	return n, nil
}

func dhtPrefix(network config.NetworkType) string {
	if network == config.Testnet {
		return testnetDHTPrefix
	}
	return mainnetDHTPrefix
}

func initDHT(ctx context.Context, h host.Host, network config.NetworkType) (*dht.IpfsDHT, error) {
	kadDHT, err := dht.New(ctx, h, dht.ProtocolPrefix(protocol.ID(dhtPrefix(network))))
	if err != nil {
		return nil, fmt.Errorf("p2p: dht: %w", err)
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("p2p: dht bootstrap: %w", err)
	}
	return kadDHT, nil
}

// HandlePeerFound implements mdns.Notifee, mirroring the teacher's
// Node.HandlePeerFound callback.
func (n *Node) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		n.log.Debugf("p2p: mdns connect to %s failed: %v", pi.ID, err)
	}
}

// loadOrCreateKey persists an ed25519-equivalent libp2p identity key under
// dataDir, mirroring the teacher's internal/node loadOrCreateKey.
func loadOrCreateKey(dataDir string) (crypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "node.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return priv, nil
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// QueueTopic returns the DSQueue gossip topic.
func (n *Node) QueueTopic() *QueueTopic { return n.queueTopic }

// StreamHandler returns the direct session-stream handler.
func (n *Node) StreamHandler() *StreamHandler { return n.streamH }

// Sender returns the outbound session-message sender.
func (n *Node) Sender() *Sender { return n.sender }

// Start begins mDNS discovery.
func (n *Node) Start() error {
	return n.mdnsService.Start()
}

// Stop tears down the node's libp2p resources.
func (n *Node) Stop() error {
	n.cancel()
	n.queueTopic.Close()
	n.streamH.Stop()
	_ = n.mdnsService.Close()
	if n.dht != nil {
		_ = n.dht.Close()
	}
	return n.host.Close()
}
