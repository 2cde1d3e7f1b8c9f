// Package discovery finds the address peers should use to reach this host and
// optionally announces the server over mDNS.
package discovery

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/jackpal/gateway"
	"github.com/pkg/errors"
)

const (
	ServiceType   = "_santhushare._tcp"
	ServiceDomain = "local."
)

// LocalIP returns the IPv4 address of the interface facing the default
// gateway. Without a gateway it falls back to the source address the kernel
// would pick for an outbound packet, and finally to 127.0.0.1.
func LocalIP() string {
	ip, err := gatewayLocalIP()
	if err == nil {
		return ip.String()
	}
	log.Printf("discovery: %v", err)
	if ip, err := outboundIP(); err == nil {
		return ip.String()
	}
	return "127.0.0.1"
}

func gatewayLocalIP() (net.IP, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, errors.Wrap(err, "discover gateway")
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "list interfaces")
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := ipInSubnet(addrs, gw); ip != nil {
			return ip, nil
		}
	}
	return nil, errors.Errorf("no local IPv4 address in the subnet of gateway %s", gw)
}

// ipInSubnet returns the first global unicast IPv4 of addrs whose network
// contains gw.
func ipInSubnet(addrs []net.Addr, gw net.IP) net.IP {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipnet.IP.To4()
		if v4 == nil || !v4.IsGlobalUnicast() || v4.IsLoopback() {
			continue
		}
		if ipnet.Contains(gw) {
			return v4
		}
	}
	return nil
}

// outboundIP connects a UDP socket (no packet is sent) and reads back the
// chosen source address.
func outboundIP() (net.IP, error) {
	c, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return nil, err
	}
	defer c.Close()
	ua, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok || ua.IP.IsUnspecified() {
		return nil, errors.New("no outbound address")
	}
	return ua.IP, nil
}

// URL is the address printed for peers.
func URL(host string, port int) string {
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, fmt.Sprint(port)))
}

// Advertisement is a registered mDNS service.
type Advertisement struct {
	srv *zeroconf.Server
}

// Advertise registers instance as ServiceType on port. An empty instance
// uses the host name.
func Advertise(instance string, port int, txt []string) (*Advertisement, error) {
	if instance == "" {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "santhushare"
		}
		instance = h
	}
	srv, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "mdns register")
	}
	return &Advertisement{srv: srv}, nil
}

func (a *Advertisement) Shutdown() {
	if a != nil && a.srv != nil {
		a.srv.Shutdown()
	}
}
