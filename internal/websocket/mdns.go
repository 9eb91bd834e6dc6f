package websocket

import (
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	mdnsServiceType = "_uc-integration._tcp"
	mdnsDomain      = "local."
)

// Advertiser publishes the integration endpoint via mDNS so Remotes can
// discover the bridge on the local network.
type Advertiser struct {
	server *zeroconf.Server
	log    *logrus.Logger
}

// Advertise registers the service. The daemon is process-wide; register once
// at startup and call Shutdown on process exit.
func Advertise(instance string, port int, version string, log *logrus.Logger) (*Advertiser, error) {
	txt := []string{
		"name=" + instance,
		"ver=" + version,
		"ws_path=/ws",
	}
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return nil, err
	}

	log.WithField("instance", instance).WithField("port", port).
		Info("Registered mDNS service")
	return &Advertiser{server: server, log: log}, nil
}

func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.log.Debug("mDNS service deregistered")
}
