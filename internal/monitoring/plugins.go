// internal/monitoring/plugins.go
package monitoring

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// Outcome is what a probe observed. Err carries the diagnostic for a failed
// probe and is never returned to the runner's caller.
type Outcome struct {
	Success bool
	Err     error
}

func failed(err error) Outcome {
	return Outcome{Success: false, Err: err}
}

// Prober executes one kind of check. Implementations must honour ctx and
// report every failure through the Outcome.
type Prober interface {
	Type() string
	Probe(ctx context.Context, check CheckDefinition) Outcome
}

// Registry maps a check type to its prober.
type Registry map[string]Prober

func NewRegistry(probers ...Prober) Registry {
	r := make(Registry, len(probers))
	for _, p := range probers {
		r[p.Type()] = p
	}
	return r
}

// DefaultRegistry returns the built-in http, ping and port probers.
func DefaultRegistry() Registry {
	return NewRegistry(NewHTTPProbe(5*time.Second), NewPingProbe(2*time.Second), NewPortProbe(5*time.Second))
}

// HTTPProbe issues a GET and compares the status code.
type HTTPProbe struct {
	Timeout  time.Duration
	secure   *http.Client
	insecure *http.Client
}

func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &HTTPProbe{
		Timeout:  timeout,
		secure:   &http.Client{Timeout: timeout},
		insecure: &http.Client{Timeout: timeout, Transport: insecureTransport},
	}
}

func (p *HTTPProbe) Type() string {
	return "http"
}

func (p *HTTPProbe) Probe(ctx context.Context, check CheckDefinition) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.Host, nil)
	if err != nil {
		return failed(fmt.Errorf("invalid request: %w", err))
	}

	client := p.secure
	if check.AllowSelfSigned {
		client = p.insecure
	}

	resp, err := client.Do(req)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != check.ExpectedCode {
		return failed(fmt.Errorf("unexpected status code %d, want %d", resp.StatusCode, check.ExpectedCode))
	}
	return Outcome{Success: true}
}

// PingProbe sends one echo request through the system ping binary; its exit
// code decides the outcome.
type PingProbe struct {
	Timeout time.Duration
	Command string
}

func NewPingProbe(timeout time.Duration) *PingProbe {
	return &PingProbe{Timeout: timeout, Command: "ping"}
}

func (p *PingProbe) Type() string {
	return "ping"
}

func (p *PingProbe) args(host string) []string {
	if runtime.GOOS == "windows" {
		return []string{"-n", "1", "-w", strconv.FormatInt(p.Timeout.Milliseconds(), 10), host}
	}
	secs := int(p.Timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), host}
}

func (p *PingProbe) Probe(ctx context.Context, check CheckDefinition) Outcome {
	// ping's own deadline covers the reply; the extra second covers process start.
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Command, p.args(check.Host)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return failed(fmt.Errorf("ping %s: %w", check.Host, ctx.Err()))
		}
		return failed(fmt.Errorf("ping %s: %w: %s", check.Host, err, truncate(string(output), 200)))
	}
	return Outcome{Success: true}
}

// PortProbe opens a TCP connection and closes it right away.
type PortProbe struct {
	Timeout time.Duration
}

func NewPortProbe(timeout time.Duration) *PortProbe {
	return &PortProbe{Timeout: timeout}
}

func (p *PortProbe) Type() string {
	return "port"
}

func (p *PortProbe) Probe(ctx context.Context, check CheckDefinition) Outcome {
	dialer := net.Dialer{Timeout: p.Timeout}
	address := net.JoinHostPort(check.Host, strconv.Itoa(check.Port))

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return failed(err)
	}
	conn.Close()
	return Outcome{Success: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
