package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrNoEndpoints       = errors.New("server: no usable endpoints")
	ErrUnsupportedFamily = errors.New("server: unsupported address family")
)

// Family restricts resolution to IPv4, IPv6 or both.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unspec"
	}
}

// ParseFamily accepts the -m flag values.
func ParseFamily(raw string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "unspec", "any":
		return FamilyUnspec, nil
	case "ipv4", "inet", "4":
		return FamilyIPv4, nil
	case "ipv6", "inet6", "6":
		return FamilyIPv6, nil
	default:
		return FamilyUnspec, fmt.Errorf("%w: %q", ErrUnsupportedFamily, raw)
	}
}

func (f Family) allows(ip net.IP) bool {
	switch f {
	case FamilyIPv4:
		return ip.To4() != nil
	case FamilyIPv6:
		return ip.To4() == nil
	default:
		return true
	}
}

// Endpoint is one resolved candidate address.
type Endpoint struct {
	Network string // "tcp4" or "tcp6"
	Addr    *net.TCPAddr
}

func (e Endpoint) String() string {
	return e.Network + "/" + e.Addr.String()
}

func endpointFor(ip net.IP, port int, zone string) Endpoint {
	network := "tcp6"
	if ip.To4() != nil {
		network = "tcp4"
	}
	return Endpoint{Network: network, Addr: &net.TCPAddr{IP: ip, Port: port, Zone: zone}}
}

// Resolve maps host and service to ordered candidate endpoints. With an empty
// host, passive resolution yields the wildcard address of each allowed family
// and active resolution yields loopback, IPv4 first.
func Resolve(ctx context.Context, host, service string, family Family, passive bool) ([]Endpoint, error) {
	port, err := lookupPort(ctx, service)
	if err != nil {
		return nil, err
	}

	host = strings.TrimSpace(host)
	if host == "" {
		var out []Endpoint
		if family != FamilyIPv6 {
			ip := net.IPv4zero
			if !passive {
				ip = net.IPv4(127, 0, 0, 1)
			}
			out = append(out, endpointFor(ip, port, ""))
		}
		if family != FamilyIPv4 {
			ip := net.IPv6unspecified
			if !passive {
				ip = net.IPv6loopback
			}
			out = append(out, endpointFor(ip, port, ""))
		}
		return out, nil
	}

	if ip, zone := parseIPZone(host); ip != nil {
		if !family.allows(ip) {
			return nil, fmt.Errorf("%w: %s is not %s", ErrUnsupportedFamily, host, family)
		}
		return []Endpoint{endpointFor(ip, port, zone)}, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %q: %w", host, err)
	}
	var out []Endpoint
	for _, a := range addrs {
		if family.allows(a.IP) {
			out = append(out, endpointFor(a.IP, port, a.Zone))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q has no %s address", ErrNoEndpoints, host, family)
	}
	return out, nil
}

func lookupPort(ctx context.Context, service string) (int, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return 0, fmt.Errorf("%w: empty service", ErrNoEndpoints)
	}
	if p, err := strconv.Atoi(service); err == nil {
		if p < 0 || p > 65535 {
			return 0, fmt.Errorf("server: port %d out of range", p)
		}
		return p, nil
	}
	p, err := net.DefaultResolver.LookupPort(ctx, "tcp", service)
	if err != nil {
		return 0, fmt.Errorf("server: resolve service %q: %w", service, err)
	}
	return p, nil
}

func parseIPZone(host string) (net.IP, string) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	zone := ""
	if i := strings.LastIndexByte(host, '%'); i >= 0 {
		host, zone = host[:i], host[i+1:]
	}
	return net.ParseIP(host), zone
}
