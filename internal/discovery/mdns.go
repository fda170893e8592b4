package discovery

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type whiteboard relays advertise under
const ServiceType = "_whiteboard._tcp"

// txtRecords tell browsers where the websocket endpoint lives
var txtRecords = []string{"path=/ws"}

// Advertiser owns a running mDNS responder
type Advertiser struct {
	server   *mdns.Server
	instance string
	port     int
}

// Instance is one relay found on the local network
type Instance struct {
	Name string
	Addr string
	Info []string
}

// Advertise announces the relay on the local network until Shutdown.
// FUNCTIONAL DISCOVERY: When the hostname does not resolve (common in
// containers) the first non-loopback IPv4 address is advertised instead
func Advertise(instance string, port int) (*Advertiser, error) {
	service, err := newService(instance, port, nil)
	if err != nil {
		service, err = newService(instance, port, []net.IP{firstIPv4()})
		if err != nil {
			return nil, err
		}
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log.Printf("Advertising %s.%s on port %d", instance, ServiceType, port)
	return &Advertiser{server: server, instance: instance, port: port}, nil
}

// newService builds the zone. nil ips lets mdns resolve the hostname.
func newService(instance string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	service, err := mdns.NewMDNSService(
		instance,
		ServiceType,
		"", // .local
		"", // OS hostname
		port,
		ips,
		txtRecords,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Shutdown stops answering queries. Safe on a nil advertiser.
func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	log.Printf("Stopping mDNS advertisement for %s", a.instance)
	return a.server.Shutdown()
}

// Browse lists relays answering within timeout
func Browse(timeout time.Duration) ([]Instance, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(chan []Instance, 1)

	go func() {
		var instances []Instance
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			instances = append(instances, Instance{
				Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
				Addr: fmt.Sprintf("%s:%d", e.AddrV4.String(), e.Port),
				Info: e.InfoFields,
			})
		}
		found <- instances
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	instances := <-found
	if err != nil {
		return nil, fmt.Errorf("mDNS query failed: %w", err)
	}
	return instances, nil
}

// firstIPv4 returns the first up, non-loopback IPv4 address
func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
