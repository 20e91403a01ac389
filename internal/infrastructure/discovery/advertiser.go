package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Advertiser is the receiver-side announce loop. It broadcasts presence on a
// fixed interval and withdraws the advertisement on Stop so controllers can
// age the entry out immediately instead of waiting for retention.
type Advertiser struct {
	port     int
	interval time.Duration
	advert   Advertisement
	logger   *zap.SugaredLogger

	conn      *net.UDPConn
	broadcast *net.UDPAddr
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewAdvertiser(port int, interval time.Duration, advert Advertisement, logger *zap.SugaredLogger) *Advertiser {
	ctx, cancel := context.WithCancel(context.Background())
	advert.Type = advertAnnounce
	return &Advertiser{
		port:     port,
		interval: interval,
		advert:   advert,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *Advertiser) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return fmt.Errorf("open advertisement socket: %w", err)
	}
	a.conn = conn
	if a.broadcast == nil {
		a.broadcast = &net.UDPAddr{IP: net.IPv4bcast, Port: a.port}
	}

	a.wg.Add(1)
	go a.announceLoop()

	a.logger.Infow("advertiser started", "name", a.advert.Name, "port", a.port, "interval", a.interval)
	return nil
}

// Stop cancels the announce loop, then sends a final withdraw broadcast so
// the withdraw is the last datagram on the wire.
func (a *Advertiser) Stop() {
	a.cancel()
	a.wg.Wait()

	withdraw := a.advert
	withdraw.Type = advertWithdraw
	withdraw.Timestamp = time.Now().UnixMilli()
	a.send(withdraw)

	if a.conn != nil {
		a.conn.Close()
	}
	a.logger.Infow("advertiser stopped", "name", a.advert.Name)
}

func (a *Advertiser) announceLoop() {
	defer a.wg.Done()

	a.announce()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.announce()
		}
	}
}

func (a *Advertiser) announce() {
	adv := a.advert
	adv.Timestamp = time.Now().UnixMilli()
	a.send(adv)
}

func (a *Advertiser) send(adv Advertisement) {
	data, err := json.Marshal(adv)
	if err != nil {
		a.logger.Errorw("failed to marshal advertisement", "error", err)
		return
	}
	if _, err := a.conn.WriteToUDP(data, a.broadcast); err != nil {
		// Broadcast failures are common on some networks; keep quiet.
		if a.ctx.Err() == nil {
			a.logger.Debugw("advertisement broadcast failed", "error", err)
		}
	}
}
