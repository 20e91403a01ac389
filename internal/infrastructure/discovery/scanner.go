package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tvlink/internal/core/domain"
	"tvlink/internal/infrastructure/monitoring"
)

// quickScanOffsets are the historically likely last octets tried by a quick
// scan before falling back to the full /24.
var quickScanOffsets = []int{
	1, 2, 10, 11, 12,
	20, 21, 22, 23, 24, 25,
	30, 31, 32, 33, 34, 35,
	40, 41, 42, 43, 44, 45,
	50, 51, 52,
	60, 61, 62, 63, 64, 65,
	70, 71, 72, 73, 74, 75,
	100, 101, 102,
	200, 201, 202,
}

// Progress reports (scanned, total) host counts monotonically.
type Progress func(scanned, total int)

// Scanner fans Probe out across a host list with bounded concurrency. Each
// probe completes independently; one slow target never stalls the rest.
type Scanner struct {
	prober      *Prober
	ports       []int
	maxInFlight int
	limiter     *rate.Limiter
	logger      *zap.SugaredLogger
	metrics     *monitoring.Metrics
}

func NewScanner(prober *Prober, ports []int, maxInFlight int, probesPerSecond float64, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *Scanner {
	var limiter *rate.Limiter
	if probesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(probesPerSecond), maxInFlight)
	}
	return &Scanner{
		prober:      prober,
		ports:       ports,
		maxInFlight: maxInFlight,
		limiter:     limiter,
		logger:      logger,
		metrics:     metrics,
	}
}

// Scan probes every host crossed with the scanner's port set. onFound fires
// as matches arrive; onProgress may be nil. The returned slice holds all
// matches once every probe has settled.
func (s *Scanner) Scan(ctx context.Context, hosts []string, onFound func(*domain.Candidate), onProgress Progress) []*domain.Candidate {
	if onProgress == nil {
		onProgress = func(int, int) {}
	}
	total := len(hosts)

	var (
		mu      sync.Mutex
		scanned int
		found   []*domain.Candidate
		wg      sync.WaitGroup
	)

	sem := make(chan struct{}, s.maxInFlight)
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Reported under the mutex so counts never regress.
				mu.Lock()
				scanned++
				onProgress(scanned, total)
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			cand := s.scanHost(ctx, host)

			mu.Lock()
			scanned++
			if cand != nil {
				found = append(found, cand)
			}
			onProgress(scanned, total)
			mu.Unlock()
			if cand != nil && onFound != nil {
				onFound(cand)
			}
		}(host)
	}
	wg.Wait()

	s.logger.Infow("active scan settled", "hosts", total, "found", len(found))
	return found
}

// scanHost tries the port set in order and stops at the first match.
func (s *Scanner) scanHost(ctx context.Context, host string) *domain.Candidate {
	for _, port := range s.ports {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		cand, err := s.prober.Probe(ctx, host, port)
		if err != nil {
			s.metrics.ProbeResult("error")
			continue
		}
		if cand == nil {
			s.metrics.ProbeResult("miss")
			continue
		}
		s.metrics.ProbeResult("match")
		return cand
	}
	return nil
}

// LocalIPv4 returns the first non-loopback IPv4 address of this machine.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("no non-loopback IPv4 interface found")
}

// SubnetHosts expands the /24 around self into all 254 host addresses,
// skipping self.
func SubnetHosts(self net.IP) []string {
	ip4 := self.To4()
	if ip4 == nil {
		return nil
	}
	prefix := fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])

	hosts := make([]string, 0, 253)
	for i := 1; i <= 254; i++ {
		host := fmt.Sprintf("%s.%d", prefix, i)
		if host == self.String() {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// QuickHosts returns the short curated list for a quick scan: remembered
// device addresses first, then common last octets on the local subnet.
func QuickHosts(self net.IP, remembered []string) []string {
	ip4 := self.To4()
	if ip4 == nil {
		return remembered
	}
	prefix := fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])

	seen := make(map[string]bool, len(remembered)+len(quickScanOffsets))
	hosts := make([]string, 0, len(remembered)+len(quickScanOffsets))
	add := func(h string) {
		if h == "" || h == self.String() || seen[h] {
			return
		}
		seen[h] = true
		hosts = append(hosts, h)
	}

	for _, h := range remembered {
		add(h)
	}
	for _, off := range quickScanOffsets {
		add(fmt.Sprintf("%s.%d", prefix, off))
	}
	return hosts
}
