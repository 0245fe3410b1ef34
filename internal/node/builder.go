package node

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/beacon"
	"github.com/meshnode/meshnode/internal/chain"
	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/escrowclient"
	"github.com/meshnode/meshnode/internal/httpapi"
	"github.com/meshnode/meshnode/internal/kvstore"
	"github.com/meshnode/meshnode/internal/mix"
	"github.com/meshnode/meshnode/internal/replication"
	"github.com/meshnode/meshnode/internal/seenset"
	"github.com/meshnode/meshnode/internal/vault"
)

// Builder assembles a Host, one field at a time, mirroring the teacher's
// host.Builder staged-construction pattern.
type Builder struct {
	baseDir    string
	passphrase string
	provision  bool
	overwrite  bool

	peerBindAddr     string
	peerPort         int
	loopbackBindAddr string
	loopbackPort     int

	multicastGroup    string
	multicastPort     int
	broadcastInterval time.Duration
	forcedInterface   string
	subnetCIDR        string

	mixPathLength int

	escrowURL   string
	escrowToken string

	logger *zap.Logger
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		peerBindAddr:      "0.0.0.0",
		peerPort:          8080,
		loopbackBindAddr:  "127.0.0.1",
		loopbackPort:      8081,
		multicastGroup:    "239.42.0.1",
		multicastPort:     9191,
		broadcastInterval: 3 * time.Second,
		mixPathLength:     4,
	}
}

func (b *Builder) BaseDir(dir string) *Builder            { b.baseDir = dir; return b }
func (b *Builder) Passphrase(p string) *Builder           { b.passphrase = p; return b }
func (b *Builder) Provision(overwrite bool) *Builder      { b.provision = true; b.overwrite = overwrite; return b }
func (b *Builder) PeerAddr(bindAddr string, port int) *Builder {
	b.peerBindAddr, b.peerPort = bindAddr, port
	return b
}
func (b *Builder) LoopbackAddr(bindAddr string, port int) *Builder {
	b.loopbackBindAddr, b.loopbackPort = bindAddr, port
	return b
}
func (b *Builder) Multicast(group string, port int, interval time.Duration) *Builder {
	b.multicastGroup, b.multicastPort, b.broadcastInterval = group, port, interval
	return b
}
func (b *Builder) Interface(forced, cidr string) *Builder {
	b.forcedInterface, b.subnetCIDR = forced, cidr
	return b
}
func (b *Builder) MixPathLength(n int) *Builder { b.mixPathLength = n; return b }
func (b *Builder) Escrow(url, token string) *Builder {
	b.escrowURL, b.escrowToken = url, token
	return b
}
func (b *Builder) Logger(l *zap.Logger) *Builder { b.logger = l; return b }

// Build wires every engine together into a running-ready Host. It does
// not start any goroutine; call Host.Start for that.
func (b *Builder) Build() (*Host, error) {
	if b.baseDir == "" {
		return nil, ErrBaseDirRequired
	}
	if b.passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	logger := b.logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("node: build default logger: %w", err)
		}
	}

	envPath := fmt.Sprintf("%s/env.enc", b.baseDir)
	var env *vault.Envelope
	var err error
	if b.provision {
		env, err = vault.Provision(envPath, b.passphrase, b.overwrite)
	} else {
		env, err = vault.Open(envPath, b.passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("node: sealed envelope: %w", err)
	}

	identity, err := loadOrCreateIdentity(b.baseDir, env.FileKey)
	if err != nil {
		return nil, fmt.Errorf("node: identity: %w", err)
	}
	selfNodeID := identity.NodeID.String()

	peersPath := fmt.Sprintf("%s/peers.enc", b.baseDir)
	dir, err := directory.LoadSealed(peersPath, env.FileKey)
	if err != nil {
		logger.Warn("discarding unreadable peer snapshot", zap.Error(err))
		dir = directory.New()
	}

	chainDir := fmt.Sprintf("%s/chain", b.baseDir)
	chainLog, err := chain.Open(chainDir)
	if err != nil {
		return nil, fmt.Errorf("node: chain log: %w", err)
	}

	cache := kvstore.New()
	seen := seenset.New(10000)
	peerClient := httpapi.NewPeerClient()

	var escrow *escrowclient.Client
	if b.escrowURL != "" {
		escrow = escrowclient.New(b.escrowURL, b.escrowToken)
	}

	repl := replication.New(selfNodeID, b.baseDir, chainLog, cache, seen, dir, peerClient, escrow)
	if escrow != nil {
		repl.OnEscrowError = func(err error) {
			logger.Warn("key escrow upload failed", zap.Error(err))
		}
	}

	commands := replication.NewCommandBroadcaster(selfNodeID, dir, peerClient, func(cmd envelope.SyncCommand) {
		logger.Info("sync command received",
			zap.String("type", string(cmd.Type)),
			zap.String("folder", cmd.FolderPath),
			zap.String("origin", cmd.OriginNode))
	})

	relay := &mix.Relay{
		LocalPriv: identity.PrivateKey,
		Store:     cache,
		Transport: peerClient,
		TextKey:   mix.DeriveTextKey(env.FileKey),
	}
	sender := &mix.Sender{
		SelfNodeID: selfNodeID,
		PathLength: b.mixPathLength,
		TextKey:    mix.DeriveTextKey(env.FileKey),
		Directory:  dir,
		Transport:  peerClient,
	}

	beaconCfg := beacon.Config{
		Group:             parseIP(b.multicastGroup),
		Port:              b.multicastPort,
		ForcedInterface:   b.forcedInterface,
		SubnetCIDR:        b.subnetCIDR,
		BroadcastInterval: b.broadcastInterval,
	}

	selfBeacon := func() envelope.Beacon {
		return envelope.Beacon{
			Type:      "beacon",
			NodeID:    selfNodeID,
			APIPort:   b.peerPort,
			Hostname:  beacon.Hostname(),
			PubKeyB64: encodePubKey(identity.PublicKey),
		}
	}

	emitter, err := beacon.NewEmitter(beaconCfg, env.BeaconKey, selfBeacon)
	if err != nil {
		return nil, fmt.Errorf("node: beacon emitter: %w", err)
	}
	receiver, err := beacon.NewReceiver(beaconCfg, env.BeaconKey)
	if err != nil {
		return nil, fmt.Errorf("node: beacon receiver: %w", err)
	}

	deps := httpapi.Deps{
		Logger:      logger,
		SelfNodeID:  selfNodeID,
		Chain:       chainLog,
		Directory:   dir,
		Cache:       cache,
		Replication: repl,
		Commands:    commands,
		Relay:       relay,
		Sender:      sender,
		BaseDir:     b.baseDir,
		FileKey:     env.FileKey,
	}

	peerServer := httpapi.NewPeerServer(fmt.Sprintf("%s:%d", b.peerBindAddr, b.peerPort), deps)
	loopbackServer := httpapi.NewLoopbackServer(fmt.Sprintf("%s:%d", b.loopbackBindAddr, b.loopbackPort), deps)

	return &Host{
		selfNodeID:     selfNodeID,
		baseDir:        b.baseDir,
		logger:         logger,
		env:            env,
		directory:      dir,
		chain:          chainLog,
		cache:          cache,
		replication:    repl,
		commands:       commands,
		relay:          relay,
		sender:         sender,
		emitter:        emitter,
		receiver:       receiver,
		peerServer:     peerServer,
		loopbackServer: loopbackServer,
		peersPath:      peersPath,
	}, nil
}
