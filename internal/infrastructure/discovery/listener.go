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

// Listener is the passive discovery path: it subscribes to receiver
// advertisements broadcast over UDP and surfaces announce/withdraw events.
type Listener struct {
	port       int
	onAnnounce func(adv Advertisement, from net.IP)
	onWithdraw func(name string)
	logger     *zap.SugaredLogger

	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewListener(port int, onAnnounce func(Advertisement, net.IP), onWithdraw func(string), logger *zap.SugaredLogger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		port:       port,
		onAnnounce: onAnnounce,
		onWithdraw: onWithdraw,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the UDP socket and begins dispatching advertisements.
func (l *Listener) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: l.port})
	if err != nil {
		return fmt.Errorf("bind advertisement port %d: %w", l.port, err)
	}
	l.conn = conn

	l.wg.Add(1)
	go l.listenLoop()

	l.logger.Infow("advertisement listener started", "port", l.port)
	return nil
}

// Stop closes the socket and waits for the listen loop to drain.
func (l *Listener) Stop() {
	l.cancel()
	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()
}

func (l *Listener) listenLoop() {
	defer l.wg.Done()

	buf := make([]byte, maxAdvertSize)
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		// Short read deadline so ctx cancellation is observed promptly.
		l.conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Warnw("advertisement read error", "error", err)
			continue
		}

		var adv Advertisement
		if err := json.Unmarshal(buf[:n], &adv); err != nil {
			l.logger.Debugw("dropping malformed advertisement", "from", addr.IP, "error", err)
			continue
		}

		l.handle(adv, addr.IP)
	}
}

func (l *Listener) handle(adv Advertisement, from net.IP) {
	switch adv.Type {
	case advertAnnounce:
		if adv.Name == "" || adv.Port <= 0 {
			l.logger.Debugw("dropping incomplete announcement", "from", from)
			return
		}
		if l.onAnnounce != nil {
			l.onAnnounce(adv, from)
		}
	case advertWithdraw:
		if l.onWithdraw != nil {
			l.onWithdraw(adv.Name)
		}
	default:
		l.logger.Debugw("dropping advertisement with unknown type", "type", adv.Type, "from", from)
	}
}
