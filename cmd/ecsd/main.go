// Command ecsd is the External Configuration Service daemon: it parses a
// node-seed config file, connects to the coordination service, and then
// drives the cluster lifecycle from an interactive command console,
// exactly the way an operator would drive the original ECS admin console.
//
// Usage:
//
//	ecsd -config nodes.cfg -dcs zk1:2181,zk2:2181
//
// Console commands (one per line, read from stdin):
//
//	add <count> <FIFO|LRU|LFU> <cacheSize>
//	start <name> [name...]
//	stop <name> [name...]
//	remove <name> [name...]
//	shutdown
//	status
//	quit
//
// Exit codes:
//
//	0  success
//	1  configuration error
//	2  coordination service unreachable
//	3  partial failure during a lifecycle operation
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/ecs/internal/controller"
	"github.com/dreamware/ecs/internal/dcs"
	"github.com/dreamware/ecs/internal/ecslog"
	"github.com/dreamware/ecs/internal/launch"
	"github.com/dreamware/ecs/internal/ring"

	"golang.org/x/crypto/ssh"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the node-seed config file")
	dcsServers := flag.String("dcs", "localhost:2181", "comma-separated coordination service addresses")
	nodeagentBin := flag.String("nodeagent-bin", "/usr/local/bin/nodeagent", "path to the nodeagent binary on each remote host")
	connectTimeout := flag.Duration("connect-timeout", 10*time.Second, "coordination service connect timeout")
	flag.Parse()

	log := ecslog.New()
	defer log.Sync()

	if *configPath == "" {
		log.Errorf("ecsd: -config is required")
		return 1
	}
	cfgFile, err := os.Open(*configPath)
	if err != nil {
		log.Errorf("ecsd: open config: %v", err)
		return 1
	}
	defer cfgFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("ecsd: shutting down on signal")
		cancel()
	}()

	client := dcs.NewZKClient(strings.Split(*dcsServers, ","))
	launcher := &launch.SSHLauncher{
		Config:     &ssh.ClientConfig{User: "ecs", HostKeyCallback: ssh.InsecureIgnoreHostKey()},
		BinaryPath: *nodeagentBin,
		DCSServers: *dcsServers,
	}

	ctrl := controller.New(client, launcher.Launch, log)
	if err := ctrl.Init(ctx, cfgFile, *connectTimeout); err != nil {
		var cfgErr *controller.ConfigFormatError
		if errors.As(err, &cfgErr) {
			log.Errorf("ecsd: %v", err)
			return 1
		}
		log.Errorf("ecsd: coordination service unreachable: %v", err)
		return 2
	}

	return consoleLoop(ctx, ctrl, log)
}

func consoleLoop(ctx context.Context, ctrl *controller.Controller, log *ecslog.Logger) int {
	scanner := bufio.NewScanner(os.Stdin)
	exitCode := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		var err error
		switch cmd {
		case "add":
			err = doAdd(ctx, ctrl, args)
		case "start":
			err = ctrl.Start(ctx, args)
		case "stop":
			err = ctrl.Stop(ctx, args)
		case "remove":
			err = ctrl.RemoveNodes(ctx, args)
		case "shutdown":
			err = ctrl.Shutdown(ctx)
		case "status":
			printStatus(ctrl, args)
		case "quit", "exit":
			return exitCode
		default:
			fmt.Fprintf(os.Stderr, "ecsd: unknown command %q\n", cmd)
			continue
		}
		if err != nil {
			log.Errorf("ecsd: %s: %v", cmd, err)
			exitCode = 3
		}

		select {
		case <-ctx.Done():
			return exitCode
		default:
		}
	}
	return exitCode
}

func doAdd(ctx context.Context, ctrl *controller.Controller, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: add <count> <FIFO|LRU|LFU> <cacheSize>")
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid count %q: %w", args[0], err)
	}
	size, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid cache size %q: %w", args[2], err)
	}
	policy := ring.CachePolicy(strings.ToUpper(args[1]))
	added, err := ctrl.AddNodes(ctx, count, policy, size)
	if err != nil {
		return err
	}
	names := make([]string, len(added))
	for i, n := range added {
		names[i] = n.Name
	}
	fmt.Printf("added: %s\n", strings.Join(names, ", "))
	return nil
}

func printStatus(ctrl *controller.Controller, names []string) {
	if len(names) == 0 {
		fmt.Printf("idle pool: %d nodes\n", ctrl.PoolSize())
		return
	}
	for _, name := range names {
		n, err := ctrl.NodeByName(name)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			continue
		}
		fmt.Printf("%s: %s (%s:%d)\n", n.Name, n.Status, n.Host, n.Port)
	}
}
