// ABOUTME: mDNS advertisement and browsing for network sinks
// ABOUTME: Speakers announce themselves so players can find a direct output on the LAN
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// ServiceType is the mDNS service a network sink registers
	ServiceType = "_resonate-direct._tcp"

	// DefaultPath is the WebSocket path advertised in the TXT record
	DefaultPath = "/direct"

	browseTimeout = 3 * time.Second
)

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	server  *mdns.Server
	sinks   chan *SinkInfo
	querier func(*mdns.QueryParam) error
}

// SinkInfo describes a discovered network sink
type SinkInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port
func (s *SinkInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		sinks:   make(chan *SinkInfo, 10),
		querier: mdns.Query,
	}
}

// Advertise announces this sink until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Infof("Advertising %s on port %d (%s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		if err := server.Shutdown(); err != nil {
			log.Debugf("mDNS shutdown: %v", err)
		}
	}()

	return nil
}

// Browse searches for network sinks in the background
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				info := entryToSink(entry)
				if info == nil {
					continue
				}
				log.Debugf("Discovered sink %s at %s", info.Name, info.Addr())

				select {
				case m.sinks <- info:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     browseTimeout,
			Entries:     entries,
			DisableIPv6: true,
		}

		if err := m.querier(params); err != nil {
			log.Warnf("mDNS query: %v", err)
			close(entries)
			<-done
			select {
			case <-time.After(browseTimeout):
			case <-m.ctx.Done():
				return
			}
			continue
		}
		close(entries)
		<-done
	}
}

func entryToSink(entry *mdns.ServiceEntry) *SinkInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}
	path := DefaultPath
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			path = v
		}
	}
	return &SinkInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: path,
	}
}

// Sinks returns the channel of discovered sinks
func (m *Manager) Sinks() <-chan *SinkInfo {
	return m.sinks
}

// First browses until one sink is found or ctx ends
func (m *Manager) First(ctx context.Context) (*SinkInfo, error) {
	if err := m.Browse(); err != nil {
		return nil, err
	}
	select {
	case info := <-m.sinks:
		return info, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends advertisement and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns non-loopback IPv4 addresses of interfaces that are up
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
