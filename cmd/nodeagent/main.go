// Command nodeagent is the process ecsd launches on each cluster host. It
// answers the admin protocol (internal/nodeagent.Agent) against the
// coordination service so the controller's multicast rounds have a real
// target. It owns no key-value storage: wiring an actual storage engine
// behind its handler is left to the storage-layer implementation (an
// external collaborator per the control-plane spec this binary serves).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/ecs/internal/dcs"
	"github.com/dreamware/ecs/internal/ecslog"
	"github.com/dreamware/ecs/internal/nodeagent"
)

func main() {
	name := flag.String("name", "", "this node's name as it appears in the ring")
	dcsServers := flag.String("dcs", "localhost:2181", "comma-separated coordination service addresses")
	connectTimeout := flag.Duration("connect-timeout", 10*time.Second, "coordination service connect timeout")
	flag.Parse()

	log := ecslog.New()
	defer log.Sync()

	if *name == "" {
		log.Fatalf("nodeagent: -name is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("nodeagent %s: shutting down on signal", *name)
		cancel()
	}()

	client := dcs.NewZKClient(strings.Split(*dcsServers, ","))
	if err := client.Connect(ctx, *connectTimeout); err != nil {
		log.Fatalf("nodeagent %s: connect: %v", *name, err)
	}
	defer client.Close()

	agent := nodeagent.New(client, *name, nil, log)
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("nodeagent %s: %v", *name, err)
	}
}
