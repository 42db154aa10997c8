package transfer

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/moyoez/assetlink/tool"
)

// Probe pings the host part of serverAddr with unprivileged ICMP echo requests.
func Probe(ctx context.Context, serverAddr string, count int) (*probing.Statistics, error) {
	hostPort, err := tool.NormalizeHost(serverAddr)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 4
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	pinger.Count = count
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = time.Duration(count)*time.Second + 2*time.Second
	pinger.SetPrivileged(false)
	pinger.OnRecv = func(pkt *probing.Packet) {
		tool.DefaultLogger.Debugf("[Probe] %d bytes from %s: icmp_seq=%d time=%v", pkt.Nbytes, pkt.IPAddr, pkt.Seq, pkt.Rtt)
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("probe %s failed: %w", host, err)
	}
	return pinger.Statistics(), nil
}
