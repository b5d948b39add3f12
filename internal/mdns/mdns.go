// Package mdns announces the running server over multicast DNS so devices
// on the same network can find it by instance name instead of address.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/MuhamedUsman/letstream/internal/network"
	"github.com/brutella/dnssd"
	"github.com/brutella/dnssd/log"
)

const (
	// PathKey is the TXT record key advertising where the API is mounted.
	PathKey     = "path"
	apiPath     = "/api/v1"
	mdnsService = "_http._tcp"
	domain      = "local."
)

func init() {
	log.Info.Disable() // dnssd logs straight to stdout, keep it quiet
}

// Publish advertises the server on available network interfaces under the
// given instance name. The entry carries the API mount path in its TXT
// records. Publish blocks until ctx is canceled, at which point the entry
// is withdrawn.
func Publish(ctx context.Context, instance string, port int) error {
	ip, err := network.OutboundIP()
	if err != nil {
		return err
	}
	host, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("resolving hostname: %w", err)
	}

	cfg := dnssd.Config{
		Name: instance,
		Type: mdnsService,
		Host: host,
		Port: port,
		IPs:  []net.IP{net.IP(ip.AsSlice())},
		Text: map[string]string{PathKey: apiPath},
	}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("registering mdns entry: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("creating mdns responder: %w", err)
	}

	if _, err = rp.Add(sv); err != nil {
		return fmt.Errorf("adding service to mdns responder: %w", err)
	}

	if err = rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("responding to mdns requests: %w", err)
	}
	return nil
}
