// Package launch provides the production implementation of the
// remote-process-launch capability internal/controller.LaunchFunc
// declares. Spec.md places the launch mechanism's implementation out of
// scope as an external collaborator ("only the capability is specified");
// this package is ECS's own choice of mechanism, not something the spec
// mandates, and is swapped out entirely in tests for an in-process stub.
package launch

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/dreamware/ecs/internal/ring"
)

// SSHLauncher starts the nodeagent binary on a remote host over SSH. It is
// deliberately thin: one command, no retries, matching the "controller is
// not fault tolerant" non-goal — a launch failure is reported straight
// back to the caller.
type SSHLauncher struct {
	Config      *ssh.ClientConfig
	BinaryPath  string
	DCSServers  string
	DialTimeout time.Duration
}

// Launch dials n.Host over SSH and starts the node-agent binary in the
// background, passing it the node's own name and the coordination-service
// address so it can watch its own control znode.
func (l *SSHLauncher) Launch(ctx context.Context, n *ring.Node) error {
	dialer := net.Dialer{Timeout: l.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(n.Host, "22"))
	if err != nil {
		return fmt.Errorf("launch: dial %s: %w", n.Host, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, n.Host, l.Config)
	if err != nil {
		return fmt.Errorf("launch: ssh handshake with %s: %w", n.Host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("launch: open session on %s: %w", n.Host, err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("nohup %s -name=%s -dcs=%s >/tmp/%s.log 2>&1 &",
		l.BinaryPath, n.Name, l.DCSServers, n.Name)
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("launch: start nodeagent on %s: %w", n.Host, err)
	}
	return nil
}

func (l *SSHLauncher) dialTimeout() time.Duration {
	if l.DialTimeout > 0 {
		return l.DialTimeout
	}
	return 5 * time.Second
}
