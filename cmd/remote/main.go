package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tvlink/internal/core/domain"
	"tvlink/internal/infrastructure/discovery"
	"tvlink/internal/infrastructure/monitoring"
	"tvlink/internal/infrastructure/protocol"
	"tvlink/internal/infrastructure/repositories"
	"tvlink/internal/infrastructure/session"
	"tvlink/pkg/backoff"
	"tvlink/pkg/config"
	"tvlink/pkg/logger"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	var metrics *monitoring.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewMetrics()
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()
	store := repoFactory.CreateCandidateStore()

	prober := discovery.NewProber(cfg.Discovery.ProbeTimeout, log)
	scanner := discovery.NewScanner(prober, cfg.Discovery.ProbePorts, cfg.Discovery.MaxInFlight, cfg.Discovery.ProbesPerSecond, log, metrics)

	mgr := session.NewManager(session.Config{
		ConnectTimeout: cfg.Session.ConnectTimeout,
		PingInterval:   cfg.Session.PingInterval,
		PongWindow:     cfg.Session.PongWindow,
		WriteTimeout:   cfg.Session.WriteTimeout,
		AutoReconnect:  cfg.Session.Reconnect.Enabled,
		Backoff: backoff.Policy{
			Initial:     cfg.Session.Reconnect.InitialDelay,
			Max:         cfg.Session.Reconnect.MaxDelay,
			Multiplier:  cfg.Session.Reconnect.Multiplier,
			MaxAttempts: cfg.Session.Reconnect.MaxAttempts,
		},
	}, log, metrics)
	defer mgr.Disconnect()

	mgr.SetHandler(func(msg *domain.Message) {
		switch msg.Kind {
		case domain.KindAppState, domain.KindPageChanged:
			var st domain.AppState
			if err := json.Unmarshal(msg.Payload, &st); err == nil {
				fmt.Printf("<< tv is on %q (%s)\n", st.CurrentPage, st.Title)
			}
		case domain.KindIncomingCall:
			fmt.Printf("<< incoming call: %s\n", string(msg.Payload))
		default:
			fmt.Printf("<< %s %s\n", msg.Kind, string(msg.Payload))
		}
	})

	events, unsubscribe := mgr.Subscribe(16)
	defer unsubscribe()
	go func() {
		for ev := range events {
			switch ev.Type {
			case session.EventConnected:
				fmt.Printf("** connected to %s\n", ev.Candidate.Name)
			case session.EventReconnecting:
				fmt.Printf("** reconnecting (attempt %d)\n", ev.Attempt)
			case session.EventDisconnected:
				fmt.Printf("** disconnected (%s)\n", ev.State)
			case session.EventError:
				fmt.Printf("** error: %v\n", ev.Err)
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := discovery.NewEngine(discovery.EngineConfig{
		AdvertisePort:   cfg.Discovery.AdvertisePort,
		Retention:       cfg.Discovery.Retention,
		SweepInterval:   cfg.Discovery.SweepInterval,
		AutoSelectDelay: cfg.Discovery.AutoSelectDelay,
	}, scanner, store, discovery.Callbacks{
		OnFound: func(c *domain.Candidate) {
			fmt.Printf("** found %s at %s\n", c.Name, c.Endpoint())
		},
		OnLost: func(c *domain.Candidate) {
			fmt.Printf("** lost %s\n", c.Name)
		},
		OnSuggest: func(c *domain.Candidate) {
			fmt.Printf("** only one device around, try: connect %s\n", c.Name)
		},
	}, log, metrics)

	if err := engine.Start(); err != nil {
		log.Warnw("passive discovery unavailable", "error", err)
	}
	defer engine.Stop()

	fmt.Println("tvlink remote. Commands: scan [full], devices, connect <name|#>, nav <page>, click <sel>, input <sel> <text>, key <k>, volume <up|down|mute>, state, disconnect, quit")

	in := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); in.Scan(); fmt.Print("> ") {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return

		case "scan":
			quick := len(args) == 0 || args[0] != "full"
			fmt.Println("scanning...")
			found, err := engine.Scan(ctx, quick, func(scanned, total int) {
				if scanned == total {
					fmt.Printf("scan complete (%d hosts)\n", total)
				}
			})
			if err != nil {
				fmt.Printf("scan failed: %v\n", err)
				continue
			}
			for _, c := range found {
				fmt.Printf("  %s at %s\n", c.Name, c.Endpoint())
			}

		case "devices":
			for i, c := range engine.Snapshot() {
				fmt.Printf("  %d. %s at %s (%s, last seen %s)\n", i+1, c.Name, c.Endpoint(), c.Method, c.LastSeen.Format("15:04:05"))
			}

		case "connect":
			if len(args) == 0 {
				fmt.Println("usage: connect <name|#>")
				continue
			}
			target := pickCandidate(engine.Snapshot(), strings.Join(args, " "))
			if target == nil {
				fmt.Println("no such device; run scan first")
				continue
			}
			if err := mgr.Connect(ctx, target); err != nil {
				fmt.Printf("connect failed: %v\n", err)
			}

		case "disconnect":
			mgr.Disconnect()

		case "nav", "navigate":
			sendCommand(mgr, domain.KindNavigate, map[string]string{"page": strings.Join(args, " ")})

		case "click":
			sendCommand(mgr, domain.KindClick, map[string]string{"selector": strings.Join(args, " ")})

		case "input":
			if len(args) < 2 {
				fmt.Println("usage: input <selector> <text>")
				continue
			}
			sendCommand(mgr, domain.KindInput, map[string]string{
				"selector": args[0],
				"value":    strings.Join(args[1:], " "),
			})

		case "key":
			if len(args) == 0 {
				fmt.Println("usage: key <key>")
				continue
			}
			sendCommand(mgr, domain.KindKeypress, map[string]string{"key": args[0]})

		case "volume":
			if len(args) == 0 {
				fmt.Println("usage: volume <up|down|mute>")
				continue
			}
			sendCommand(mgr, domain.KindVolume, map[string]string{"action": args[0]})

		case "state":
			sendCommand(mgr, domain.KindGetState, nil)

		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func sendCommand(mgr *session.Manager, kind domain.MessageKind, payload interface{}) {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		fmt.Printf("bad command: %v\n", err)
		return
	}
	if err := mgr.Send(msg); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
}

// pickCandidate resolves a user reference that is either a 1-based index
// into the device list or a (case-insensitive) device name.
func pickCandidate(candidates []*domain.Candidate, ref string) *domain.Candidate {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1]
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Name, ref) {
			return c
		}
	}
	return nil
}
