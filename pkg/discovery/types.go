package discovery

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceTypeDaemon is the service type of node-control daemons.
	ServiceTypeDaemon = "_nodesync._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default daemon port.
	DefaultPort = 8080

	// DefaultPath is the default websocket path.
	DefaultPath = "/ws"

	// ProtocolVersion is advertised in the ver TXT record.
	ProtocolVersion = "1"
)

// TXT record key constants.
const (
	TXTKeyPath    = "path"
	TXTKeyTLS     = "tls"
	TXTKeyCodec   = "codec"
	TXTKeyVersion = "ver"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrInvalidURL          = errors.New("invalid daemon url")
)

// DaemonInfo is what a daemon announces.
type DaemonInfo struct {
	// InstanceName is the user-friendly service name.
	InstanceName string

	// Port the websocket listens on.
	Port uint16

	// Path of the websocket endpoint.
	Path string

	// TLS is set for wss:// endpoints.
	TLS bool

	// Codec is the envelope codec name.
	Codec string

	// Version is the protocol version.
	Version string
}

// DaemonInfoFromURL derives announcement info from a daemon websocket URL.
func DaemonInfoFromURL(instance, rawURL, codec string) (*DaemonInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	info := &DaemonInfo{
		InstanceName: instance,
		Path:         u.Path,
		Codec:        codec,
		Version:      ProtocolVersion,
	}
	switch u.Scheme {
	case "ws":
	case "wss":
		info.TLS = true
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if info.Path == "" {
		info.Path = DefaultPath
	}

	port := u.Port()
	switch {
	case port != "":
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: port %q", ErrInvalidURL, port)
		}
		info.Port = uint16(n)
	case info.TLS:
		info.Port = 443
	default:
		info.Port = 80
	}
	return info, nil
}

// DaemonService is a discovered daemon.
type DaemonService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Path    string
	TLS     bool
	Codec   string
	Version string
}

// URL returns the websocket URL of the daemon. The first address is
// preferred over the host name.
func (s *DaemonService) URL() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	scheme := "ws"
	if s.TLS {
		scheme = "wss"
	}
	path := s.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(trimDot(host), strconv.Itoa(int(s.Port))),
		Path:   path,
	}
	return u.String()
}

func trimDot(host string) string {
	if n := len(host); n > 0 && host[n-1] == '.' {
		return host[:n-1]
	}
	return host
}
