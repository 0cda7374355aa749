package agent

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/mdns"
)

// MDNSService is the DNS-SD type of the node's local API.
const MDNSService = "_autocue-node._tcp"

// ListenPort extracts the port of a host:port listen address.
func ListenPort(listen string) (int, error) {
	_, p, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("invalid listen port %q", p)
	}
	return port, nil
}

func mdnsTXT(st Status) []string {
	txt := []string{"version=" + st.Version, "path=/api/status"}
	if st.NodeID != "" {
		txt = append(txt, "node_id="+st.NodeID)
	}
	return txt
}

// Advertise announces the local API on the LAN. The caller shuts the
// returned server down.
func Advertise(instance string, port int, st Status) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	if instance == "" {
		instance = "autocue-node"
	}
	svc, err := mdns.NewMDNSService(instance, MDNSService, "local.", "", port, nil, mdnsTXT(st))
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: svc})
}
