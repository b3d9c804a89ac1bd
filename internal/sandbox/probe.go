package sandbox

import (
	"context"
	"net"
	"net/url"
	"time"
)

// State is a point-in-time view of a sandbox, used to enrich model context
type State struct {
	IsActive             bool          `json:"is_active"`
	HasRunningProcesses  bool          `json:"has_running_processes"`
	ProcessCount         int           `json:"process_count"`
	PreviewPortReachable bool          `json:"preview_port_reachable"`
	PreviewURL           string        `json:"preview_url,omitempty"`
	Processes            []ProcessInfo `json:"processes,omitempty"`
}

// Probe inspects sb within timeout. A nil sandbox yields an inactive state.
func Probe(ctx context.Context, sb Sandbox, timeout time.Duration) (*State, error) {
	if sb == nil {
		return &State{}, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	procs, err := sb.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	state := &State{
		IsActive:   true,
		PreviewURL: sb.PreviewURL(),
		Processes:  procs,
	}
	for _, p := range procs {
		if p.Running {
			state.ProcessCount++
		}
	}
	state.HasRunningProcesses = state.ProcessCount > 0
	state.PreviewPortReachable = reachable(ctx, state.PreviewURL)
	return state, nil
}

func reachable(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
