package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"printbridge/config"
	"printbridge/engine"
	"printbridge/link"
	"printbridge/messaging"
	"printbridge/printer"
	"printbridge/statemirror"
	"printbridge/store"
	"printbridge/www"
)

func main() {
	configPath := pflag.StringP("config", "c", "printbridge.yaml", "path to config file")
	debug := pflag.Bool("debug", false, "enable debug logging")
	port := pflag.IntP("port", "p", 0, "HTTP port (overrides config)")
	device := pflag.StringP("device", "d", "", "serial device (overrides config and USB discovery)")
	listPorts := pflag.Bool("list-ports", false, "list serial ports and exit")
	writeConfig := pflag.Bool("write-config", false, "write the effective config back to --config and exit")
	pflag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	if *listPorts {
		printPorts()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	if *device != "" {
		cfg.Link.Type = "serial"
		cfg.Link.Device = *device
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("save config: %v", err)
		}
		log.Printf("wrote %s", *configPath)
		return
	}

	// Command journal
	var db *store.DB
	if cfg.Journal.Enabled {
		db, err = store.Open(cfg.Journal.DatabasePath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer db.Close()
	}

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		LogFunc:   log.Printf,
		Debug:     *debug,
	})

	// Live state mirror (Redis)
	if cfg.Mirror.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Mirror.Addr,
			Password: cfg.Mirror.Password,
			DB:       cfg.Mirror.DB,
		})
		rs := statemirror.NewRedisStore(rdb)
		defer rs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rs.Ping(ctx); err != nil {
			log.Printf("state mirror: redis %s: %v (will keep retrying)", cfg.Mirror.Addr, err)
		}
		cancel()
		mirror := statemirror.NewMirror(rs, eng.Snapshot, cfg.Mirror.Key, cfg.Mirror.Interval)
		eng.Events.SubscribeTypes("state-mirror", mirror.OnEvent,
			printer.EventTemperature, printer.EventProgress, printer.EventPosition,
			printer.EventPower, printer.EventStatus)
		mirror.Start()
		defer mirror.Stop()
	}

	// Broker mirror and remote commands
	if cfg.Messaging.Enabled {
		msgClient := messaging.NewClient(&cfg.Messaging, cfg.ClientID(), cfg.KafkaGroupID())
		defer msgClient.Close()
		if err := msgClient.Connect(); err != nil {
			log.Printf("messaging connect: %v", err)
		} else {
			fwd := messaging.NewForwarder(msgClient, cfg.NodeID, cfg.Messaging.TelemetryTopic,
				cfg.Messaging.QueueSize, cfg.Messaging.ForwardLog)
			eng.Events.Subscribe("broker", fwd.Offer)
			fwd.Start()
			defer fwd.Stop()

			if cfg.Messaging.CommandTopic != "" {
				handler := messaging.CommandHandler(engine.SourceBroker, eng.SendCommand)
				if err := msgClient.Subscribe(cfg.Messaging.CommandTopic, handler); err != nil {
					log.Printf("command topic subscribe: %v", err)
				} else {
					log.Printf("accepting commands on %s", cfg.Messaging.CommandTopic)
				}
			}
		}
	}

	eng.Start()
	defer eng.Stop()

	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Printf("printbridge listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// End WebSocket and SSE streams so Shutdown does not wait on them
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}

func printPorts() {
	ports, err := link.ListPorts()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\tusb %s:%s\t%s\n", p.Name, p.VID, p.PID, p.Product)
		} else {
			fmt.Printf("%s\n", p.Name)
		}
	}
}
