// Netpulse measures internet link speed at a fixed interval and
// appends the results to a CSV log file until it's interrupted.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/netpulse/netpulse/probeconfig"
	"github.com/netpulse/netpulse/probeworker"
	"github.com/netpulse/netpulse/samplelog"
	"github.com/netpulse/netpulse/speedtest"
)

var (
	configPath = flag.String("config", "netpulse.yaml", "configuration file path")
	serverAddr = flag.String("server", "", "host:port address of the probe server")
)

func main() {
	flag.Parse()
	if *serverAddr == "" {
		fmt.Fprintf(os.Stderr, "usage: netpulse -server host:port [-config file]\n")
		os.Exit(2)
	}
	cfg, err := probeconfig.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	store, err := samplelog.NewAppender(cfg.LogPath)
	if err != nil {
		log.Fatalf("cannot initialize sample log: %v", err)
	}
	fmt.Printf("logging to %s\n", cfg.LogPath)
	fmt.Printf("measuring every %v against %s\n", cfg.Interval, *serverAddr)

	w, err := probeworker.New(probeworker.Params{
		Store: store,
		Provider: speedtest.NewSampler(&speedtest.Client{
			Addr: *serverAddr,
		}),
		Interval: cfg.Interval,
		Status:   os.Stdout,
	})
	if err != nil {
		log.Fatal(err)
	}

	// The first signal stops the worker; any further signals are
	// absorbed by the channel buffer and ignored.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	w.Close()
	fmt.Println("stopped")
}
