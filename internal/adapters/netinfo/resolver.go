// Package netinfo resolves network metadata for the remote address of a DNS
// log record.
package netinfo

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/log"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 10 * time.Minute
)

// Resolver looks up the hostname of a remote IP, the local address used to
// reach it and the MAC address of the interface holding that local address.
// Lookups are best effort and cached per remote IP.
type Resolver struct {
	cache  *expirable.LRU[string, domain.Enrichment]
	logger log.Logger

	lookupAddr func(ctx context.Context, addr string) ([]string, error)
	localAddr  func(remote net.IP) (net.IP, error)
	interfaces func() ([]net.Interface, error)
	ifaceAddrs func(iface net.Interface) ([]net.Addr, error)
}

// New creates a resolver caching up to size results for ttl.
func New(size int, ttl time.Duration, logger log.Logger) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Resolver{
		cache:      expirable.NewLRU[string, domain.Enrichment](size, nil, ttl),
		logger:     logger,
		lookupAddr: net.DefaultResolver.LookupAddr,
		localAddr:  dialLocalAddr,
		interfaces: net.Interfaces,
		ifaceAddrs: func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() },
	}
}

// Resolve returns the enrichment for remoteIP. Fields that could not be
// determined are empty.
func (r *Resolver) Resolve(ctx context.Context, remoteIP string) domain.Enrichment {
	if en, ok := r.cache.Get(remoteIP); ok {
		return en
	}

	var en domain.Enrichment
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		r.logger.Debug("not an IP address, skipping enrichment", log.String("remote_ip", remoteIP))
		r.cache.Add(remoteIP, en)
		return en
	}

	if names, err := r.lookupAddr(ctx, remoteIP); err != nil {
		r.logger.Debug("reverse lookup failed", log.String("remote_ip", remoteIP), log.Err(err))
	} else if len(names) > 0 {
		en.Hostname = strings.TrimSuffix(names[0], ".")
	}

	local, err := r.localAddr(ip)
	if err != nil {
		r.logger.Debug("no route to remote address", log.String("remote_ip", remoteIP), log.Err(err))
	} else {
		en.LocalIP = local.String()
		en.MACAddress = r.macFor(local)
	}

	r.cache.Add(remoteIP, en)
	return en
}

// macFor returns the hardware address of the interface that owns ip.
func (r *Resolver) macFor(ip net.IP) string {
	ifaces, err := r.interfaces()
	if err != nil {
		r.logger.Debug("could not list interfaces", log.Err(err))
		return ""
	}
	for _, iface := range ifaces {
		addrs, err := r.ifaceAddrs(iface)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || !ipNet.IP.Equal(ip) {
				continue
			}
			if len(iface.HardwareAddr) == 0 {
				return ""
			}
			return strings.ToUpper(iface.HardwareAddr.String())
		}
	}
	return ""
}

// dialLocalAddr asks the kernel which local address routes to remote.
// A UDP dial sends no packets.
func dialLocalAddr(remote net.IP) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(remote.String(), "53"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
