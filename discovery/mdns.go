package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

// mdnsServiceName is KDE Connect's Avahi/mDNS-SD service type, used as
// a secondary discovery path alongside the UDP broadcast (spec §4.5).
const mdnsServiceName = "_kdeconnect._udp"

// mdnsBrowser publishes this device's mDNS service record and reports
// other instances of it seen on the network.
type mdnsBrowser struct {
	server   *zeroconf.Server
	resolver *zeroconf.Resolver
	log      klog.Logger

	cancel context.CancelFunc
	peers  chan mdnsPeer
}

// mdnsPeer is one resolved mDNS service entry for the kdeconnect
// service type, carrying the TXT-advertised identity fields (spec §6:
// TXT = {id, name, type, protocol}) alongside the resolved address.
type mdnsPeer struct {
	InstanceID string
	Name       string
	DeviceType packet.DeviceType
	Protocol   int
	AddrsV4    []string
	Port       int
}

func newMDNSBrowser(deviceID, deviceName string, deviceType packet.DeviceType, port int, log klog.Logger) (*mdnsBrowser, error) {
	if log == nil {
		log = klog.Nop()
	}

	txt := []string{
		"id=" + deviceID,
		"name=" + deviceName,
		"type=" + string(deviceType),
		"protocol=" + strconv.Itoa(packet.ProtocolVersion),
	}
	server, err := zeroconf.Register(deviceID, mdnsServiceName, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &mdnsBrowser{
		server:   server,
		resolver: resolver,
		log:      log,
		cancel:   cancel,
		peers:    make(chan mdnsPeer, 32),
	}
	go m.browse(ctx)
	return m, nil
}

func (m *mdnsBrowser) browse(ctx context.Context) {
	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		for entry := range entries {
			if entry == nil {
				continue
			}
			addrs := make([]string, 0, len(entry.AddrIPv4))
			for _, ip := range entry.AddrIPv4 {
				addrs = append(addrs, ip.String())
			}
			peer := mdnsPeer{InstanceID: entry.Instance, AddrsV4: addrs, Port: entry.Port}
			for _, field := range entry.Text {
				k, v, ok := strings.Cut(field, "=")
				if !ok {
					continue
				}
				switch k {
				case "id":
					peer.InstanceID = v
				case "name":
					peer.Name = v
				case "type":
					peer.DeviceType = packet.DeviceType(v)
				case "protocol":
					if n, err := strconv.Atoi(v); err == nil {
						peer.Protocol = n
					}
				}
			}
			select {
			case m.peers <- peer:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := m.resolver.Browse(ctx, mdnsServiceName, "local.", entries); err != nil {
		m.log.Errorf("discovery: mdns browse: %v", err)
	}
}

func (m *mdnsBrowser) Peers() <-chan mdnsPeer { return m.peers }

func (m *mdnsBrowser) Close() {
	m.cancel()
	m.server.Shutdown()
}
