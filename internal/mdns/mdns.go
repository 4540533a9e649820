// Package mdns discovers network-attached SDR receivers announcing
// themselves over zeroconf.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service is the mDNS service type receivers advertise.
const Service = "_sdrnet._tcp"

// Receiver represents one discovered unit.
type Receiver struct {
	Instance  string // advertised name, e.g. "sdrnet on rooftop"
	Hostname  string // DNS hostname, e.g. "rooftop.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// ControlAddress returns the first usable "host:port" for the control
// channel, preferring IPv4.
func (r Receiver) ControlAddress() (string, bool) {
	var pick net.IP
	for _, ip := range r.Addresses {
		if ip4 := ip.To4(); ip4 != nil {
			pick = ip4
			break
		}
		if pick == nil {
			pick = ip
		}
	}
	if pick == nil || r.Port == 0 {
		return "", false
	}
	return net.JoinHostPort(pick.String(), fmt.Sprintf("%d", r.Port)), true
}

// Discover performs a blocking browse for receivers on the local network
// and returns deduplicated entries sorted by hostname.
func Discover(ctx context.Context, timeout time.Duration) ([]Receiver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Receiver)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range entries {
			if e == nil {
				continue
			}
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)

			key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
			found[key] = Receiver{
				Instance:  cleanInstance(e.Instance),
				Hostname:  e.HostName,
				Addresses: addrs,
				Port:      e.Port,
				TXT:       append([]string{}, e.Text...),
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Receiver, 0, len(found))
	for _, r := range found {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

// cleanInstance removes zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
