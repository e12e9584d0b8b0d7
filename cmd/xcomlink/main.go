// Xcomlink - Studer Xcom gateway daemon
//
// Polls a Studer installation over an Xcom serial or LAN gateway and
// republishes datapoint values via HTTP, MQTT, Valkey and Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xcomlink/catalog"
	"xcomlink/config"
	"xcomlink/kafka"
	"xcomlink/logging"
	"xcomlink/mqtt"
	"xcomlink/poller"
	"xcomlink/transport"
	"xcomlink/valkey"
	"xcomlink/web"
	"xcomlink/xcom"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	logPath := flag.String("log", "", "Path to main log file (empty = stderr only)")
	debugPath := flag.String("debug", "", "Path to protocol debug log (empty = disabled)")
	debugFilter := flag.String("debug-filter", "", "Comma-separated protocols to debug (empty = all)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("xcomlink %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	mainLog, err := logging.NewFileLogger(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer mainLog.Close()
	logf := mainLog.Log

	if *debugPath != "" {
		debugLog, err := logging.NewDebugLogger(*debugPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening debug log: %v\n", err)
			os.Exit(1)
		}
		debugLog.SetFilter(*debugFilter)
		logging.SetGlobalDebugLogger(debugLog)
		defer debugLog.Close()
	}

	// Datapoint catalog for the configured system voltage
	voltage := catalog.Voltage240
	if cfg.Voltage == string(catalog.Voltage120) {
		voltage = catalog.Voltage120
	}
	dataset, err := catalog.Load(voltage)
	if err != nil {
		logf("Error loading datapoint catalog: %v", err)
		os.Exit(1)
	}

	messages, err := catalog.LoadMessages("en")
	if err != nil {
		logf("Warning: message catalog unavailable: %v", err)
	}

	// Gateway transport
	var tr transport.Transport
	switch cfg.Gateway.Transport {
	case config.TransportTCP:
		tr, err = transport.ListenTCP(cfg.Gateway.Listen)
	case config.TransportUDP:
		tr, err = transport.DialUDP(cfg.Gateway.Address)
	case config.TransportSerial:
		tr, err = transport.OpenSerial(cfg.Gateway.Device, cfg.Gateway.Baud)
	default:
		err = fmt.Errorf("unknown transport %q", cfg.Gateway.Transport)
	}
	if err != nil {
		logf("Error opening gateway transport: %v", err)
		os.Exit(1)
	}

	opts := []xcom.Option{}
	if cfg.Gateway.RequestTimeout > 0 {
		opts = append(opts, xcom.WithTimeout(cfg.Gateway.RequestTimeout))
	}
	if cfg.Gateway.RequestRetries > 0 {
		opts = append(opts, xcom.WithRetries(cfg.Gateway.RequestRetries))
	}
	if cfg.Gateway.StartTimeout > 0 {
		opts = append(opts, xcom.WithStartTimeout(cfg.Gateway.StartTimeout))
	}
	if messages != nil {
		opts = append(opts, xcom.WithMessages(messages))
	}
	client := xcom.NewClient(tr, opts...)

	// Poller
	p := poller.NewPoller(client, dataset, cfg.PollRate)
	if err := p.SetItems(cfg.Poll); err != nil {
		logf("Error resolving poll items: %v", err)
		os.Exit(1)
	}

	// Publisher managers
	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	valkeyMgr := valkey.NewManager()
	valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)

	kafkaMgr := kafka.NewManager()
	kafkaMgr.LoadFromConfig(cfg.Kafka, cfg.Namespace)

	// Write handling: all write-back paths funnel into the poller, which
	// performs the bus write and a verification read.
	writeHandler := func(name string, value interface{}) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return p.Write(ctx, name, value)
	}
	writeValidator := func(name string) bool {
		cfg.Lock()
		item := cfg.FindPoll(name)
		cfg.Unlock()
		if item == nil {
			return false
		}
		dp, err := dataset.ByNr(item.Nr, item.Family)
		return err == nil && dp.IsParameter()
	}

	mqttMgr.SetWriteHandler(writeHandler)
	mqttMgr.SetWriteValidator(writeValidator)
	valkeyMgr.SetWriteHandler(writeHandler)
	valkeyMgr.SetWriteValidator(writeValidator)
	kafkaMgr.SetWriteHandler(writeHandler)
	kafkaMgr.SetWriteValidator(writeValidator)

	// Fan out value changes to all publishers. Each backend runs in its
	// own goroutine so a slow broker cannot stall the others.
	p.SetOnValueChange(func(changes []poller.Reading) {
		mqttRunning := mqttMgr.AnyRunning()
		valkeyRunning := valkeyMgr.AnyRunning()
		kafkaPublishing := kafkaMgr.AnyPublishing()

		if !mqttRunning && !valkeyRunning && !kafkaPublishing {
			return
		}

		changesCopy := make([]poller.Reading, len(changes))
		copy(changesCopy, changes)

		if mqttRunning {
			go func() {
				for _, r := range changesCopy {
					mqttMgr.Publish(r, false)
				}
			}()
		}

		if valkeyRunning {
			go func() {
				for _, r := range changesCopy {
					valkeyMgr.Publish(r)
				}
			}()
		}

		if kafkaPublishing {
			go func() {
				for _, r := range changesCopy {
					// force: the poller already confirmed these changed
					kafkaMgr.Publish(r, true)
				}
			}()
		}
	})

	// Publish all current values when a Valkey connection comes up
	valkeyMgr.SetOnConnectCallback(func() {
		for _, r := range p.AllCurrentReadings() {
			valkeyMgr.Publish(r)
		}
	})

	// HTTP API
	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(&cfg.Web, cfg, client, p, dataset)
		if err := webServer.Start(); err != nil {
			logf("Warning: failed to start web server: %v", err)
		} else {
			logf("Web API listening on %s", webServer.Address())
		}
	}

	// Start polling; the poller connects the gateway link on first use
	p.Start()
	logf("Polling %d items every %v via %s gateway", len(cfg.Poll), cfg.PollRate, cfg.Gateway.Transport)

	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			logf("Started %d MQTT publisher(s)", started)
			for _, r := range p.AllCurrentReadings() {
				mqttMgr.Publish(r, true)
			}
		}
	}()

	go func() {
		if started := valkeyMgr.StartAll(); started > 0 {
			logf("Started %d Valkey publisher(s)", started)
		}
	}()

	go kafkaMgr.ConnectEnabled()

	// Run until interrupted
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logf("Received %v, shutting down", s)

	if webServer != nil {
		webServer.Stop()
	}
	p.Stop()
	mqttMgr.StopAll()
	valkeyMgr.StopAll()
	kafkaMgr.StopAll()
	client.Close()
}
