// Package discovery advertises this endpoint over mDNS and browses for
// other AppleMIDI endpoints on the local network, under the
// _apple-midi._udp service type.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/grandcat/zeroconf"
)

// serviceType is the DNS-SD service type AppleMIDI endpoints advertise
// under.
const serviceType = "_apple-midi._udp"

// Advertisement is a discovered (or manually configured) remote endpoint.
type Advertisement struct {
	Name string
	Host string
	Port uint16
}

// Discovery owns the mDNS server advertisement and browser.
type Discovery struct {
	logger *slog.Logger
	name   string
	port   uint16

	server *zeroconf.Server
}

// New creates a Discovery for the given endpoint name and control port.
// Nothing is published or browsed until Advertise or Browse is called.
func New(name string, controlPort uint16, logger *slog.Logger) *Discovery {
	return &Discovery{
		logger: logger.With("subsystem", "discovery"),
		name:   name,
		port:   controlPort,
	}
}

// Advertise publishes this endpoint as an AppleMIDI service so other
// implementations' browsers can find it.
func (d *Discovery) Advertise() error {
	server, err := zeroconf.Register(d.name, serviceType, "local.", int(d.port), nil, nil)
	if err != nil {
		return fmt.Errorf("discovery: registering mdns service: %w", err)
	}
	d.server = server
	d.logger.Info("advertising endpoint", "name", d.name, "port", d.port)
	return nil
}

// Close stops advertising.
func (d *Discovery) Close() {
	if d.server != nil {
		d.server.Shutdown()
	}
}

// Browse watches for AppleMIDI services on the local network until ctx is
// cancelled, invoking onFound for each one seen other than this
// endpoint's own advertised instance. onFound is
// called from a background goroutine; callers that need to touch
// dispatcher-owned state must re-enter through dispatcher.Enqueue.
func (d *Discovery) Browse(ctx context.Context, onFound func(Advertisement)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("discovery: creating mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			if entry.Instance == d.name {
				continue
			}
			adv, ok := toAdvertisement(entry)
			if !ok {
				d.logger.Debug("ignoring service entry with no usable address", "instance", entry.Instance)
				continue
			}
			onFound(adv)
		}
	}()

	if err := resolver.Browse(ctx, serviceType, "local.", entries); err != nil {
		return fmt.Errorf("discovery: browsing: %w", err)
	}
	<-ctx.Done()
	return nil
}

func toAdvertisement(entry *zeroconf.ServiceEntry) (Advertisement, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = entry.HostName
	default:
		return Advertisement{}, false
	}
	if ip := net.ParseIP(host); ip == nil && entry.HostName == "" {
		return Advertisement{}, false
	}
	return Advertisement{
		Name: entry.Instance,
		Host: host,
		Port: uint16(entry.Port),
	}, true
}
