// Package beacon implements the Discovery Plane's transport (§4.3):
// authenticated UDP-multicast emission and reception feeding the Peer
// Directory. Grounded on the teacher's go.mod dependency on
// golang.org/x/net (carried indirect there, promoted to direct here since
// this is the one component that actually needs per-packet multicast
// control that net.ListenMulticastUDP doesn't expose cleanly).
package beacon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/meshnode/meshnode/internal/envelope"
)

const (
	readBufferSize  = 1 << 20 // 1 MiB
	readDeadline    = 5 * time.Second
	defaultInterval = 3 * time.Second
)

// Config selects the multicast group and local interface for both emitter
// and receiver.
type Config struct {
	Group            net.IP
	Port             int
	ForcedInterface  string
	SubnetCIDR       string
	BroadcastInterval time.Duration
}

// SelectInterface implements the precedence rule of §4.3: forced name,
// then an interface carrying an address inside SubnetCIDR, then the first
// non-loopback up interface carrying an IPv4.
func SelectInterface(cfg Config) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("beacon: list interfaces: %w", err)
	}

	if cfg.ForcedInterface != "" {
		for i := range ifaces {
			if ifaces[i].Name == cfg.ForcedInterface {
				return &ifaces[i], nil
			}
		}
		return nil, fmt.Errorf("beacon: forced interface %q not found", cfg.ForcedInterface)
	}

	var cidr *net.IPNet
	if cfg.SubnetCIDR != "" {
		_, parsed, err := net.ParseCIDR(cfg.SubnetCIDR)
		if err != nil {
			return nil, fmt.Errorf("beacon: parse subnet cidr: %w", err)
		}
		cidr = parsed
	}

	if cidr != nil {
		for i := range ifaces {
			addrs, err := ifaces[i].Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				ipNet, ok := addr.(*net.IPNet)
				if ok && cidr.Contains(ipNet.IP) {
					return &ifaces[i], nil
				}
			}
		}
	}

	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.To4() != nil {
				return &iface, nil
			}
		}
	}

	return nil, fmt.Errorf("beacon: no suitable interface found")
}

// Emitter periodically seals and sends a Beacon to the multicast group.
type Emitter struct {
	cfg       Config
	iface     *net.Interface
	beaconKey []byte
	self      func() envelope.Beacon
}

// NewEmitter constructs an Emitter bound to the interface selected by cfg.
// self is invoked on every tick to capture the current advertised record
// (hostname/port rarely change, but this keeps the emitter stateless).
func NewEmitter(cfg Config, beaconKey []byte, self func() envelope.Beacon) (*Emitter, error) {
	iface, err := SelectInterface(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = defaultInterval
	}
	return &Emitter{cfg: cfg, iface: iface, beaconKey: beaconKey, self: self}, nil
}

// Run blocks, sending beacons on cfg.BroadcastInterval until ctx is
// cancelled. Emission failures are logged via the onError callback and the
// next tick is still attempted.
func (e *Emitter) Run(ctx context.Context, onError func(error)) error {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("beacon: listen for send: %w", err)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastInterface(e.iface); err != nil {
		return fmt.Errorf("beacon: set multicast interface: %w", err)
	}
	if err := pconn.SetMulticastTTL(1); err != nil {
		return fmt.Errorf("beacon: set multicast ttl: %w", err)
	}

	dst := &net.UDPAddr{IP: e.cfg.Group, Port: e.cfg.Port}

	ticker := time.NewTicker(e.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b := e.self()
			b.Timestamp = time.Now().Unix()
			datagram, err := envelope.SealBeacon(e.beaconKey, &b)
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("beacon: seal: %w", err))
				}
				continue
			}
			if _, err := pconn.WriteTo(datagram, nil, dst); err != nil {
				if onError != nil {
					onError(fmt.Errorf("beacon: send: %w", err))
				}
			}
		}
	}
}

// Received is one authenticated beacon plus the observed source address.
type Received struct {
	Beacon   envelope.Beacon
	SourceIP net.IP
}

// Receiver joins the multicast group and hands authenticated beacons to a
// callback. Foreign traffic on the group (datagrams that fail to
// authenticate under BeaconKey) is silently dropped, per §4.3.
type Receiver struct {
	cfg       Config
	iface     *net.Interface
	beaconKey []byte
}

// NewReceiver constructs a Receiver bound to the interface selected by cfg.
func NewReceiver(cfg Config, beaconKey []byte) (*Receiver, error) {
	iface, err := SelectInterface(cfg)
	if err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg, iface: iface, beaconKey: beaconKey}, nil
}

// Run blocks reading datagrams until ctx is cancelled, invoking onReceive
// for each successfully authenticated beacon.
func (r *Receiver) Run(ctx context.Context, onReceive func(Received)) error {
	addr := &net.UDPAddr{IP: r.cfg.Group, Port: r.cfg.Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("beacon: listen multicast: %w", err)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(r.iface, &net.UDPAddr{IP: r.cfg.Group}); err != nil {
		return fmt.Errorf("beacon: join group: %w", err)
	}
	defer pconn.LeaveGroup(r.iface, &net.UDPAddr{IP: r.cfg.Group})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, srcAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		b, err := envelope.OpenBeacon(r.beaconKey, buf[:n])
		if err != nil {
			continue // foreign traffic on the group, or tamper: drop silently
		}

		onReceive(Received{Beacon: *b, SourceIP: srcAddr.IP})
	}
}

// Hostname returns the local hostname, falling back to "unknown" so a
// beacon record is always well-formed even in constrained environments.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
