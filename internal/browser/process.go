// Package browser launches and owns the headless Chrome process that render
// sessions attach to over the DevTools protocol.
package browser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no Chrome executable can be located.
var ErrNotFound = errors.New("chrome executable not found")

// activePortFile is written by Chrome into its user data dir once the
// debugging endpoint is listening.
const activePortFile = "DevToolsActivePort"

const pollInterval = 50 * time.Millisecond

// Config controls the launched process.
type Config struct {
	ExecPath       string
	Flags          []string
	StartupTimeout time.Duration
}

// Process is a running Chrome with remote debugging enabled.
type Process struct {
	cmd     *exec.Cmd
	dataDir string
	port    int
	wsPath  string
	done    chan struct{}
	logger  *zap.Logger

	// signal delivers SIGKILL; swapped in tests.
	signal   func() error
	killOnce sync.Once
	killErr  error
}

// Launch starts Chrome and blocks until it reports its debugging port, the
// startup timeout elapses, ctx is canceled or the process exits.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	execPath, err := resolveExecPath(cfg.ExecPath)
	if err != nil {
		return nil, err
	}
	dataDir, err := os.MkdirTemp("", "rendertron-chrome-")
	if err != nil {
		return nil, fmt.Errorf("create user data dir: %w", err)
	}

	// The process must outlive ctx, which only bounds startup.
	cmd := exec.Command(execPath, launchArgs(dataDir, cfg.Flags)...) //nolint:gosec // exec path comes from operator config
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("start %s: %w", execPath, err)
	}

	p := &Process{
		cmd:     cmd,
		dataDir: dataDir,
		done:    make(chan struct{}),
		logger:  logger,
	}
	p.signal = cmd.Process.Kill
	go p.wait()

	startCtx := ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
	}

	port, wsPath, err := p.awaitDebugPort(startCtx)
	if err != nil {
		if killErr := p.Kill(); killErr != nil {
			logger.Warn("kill after failed launch", zap.Error(killErr))
		}
		return nil, err
	}
	p.port = port
	p.wsPath = wsPath
	logger.Info("chrome launched",
		zap.String("exec_path", execPath),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("debug_port", port),
	)
	return p, nil
}

func launchArgs(dataDir string, extra []string) []string {
	args := []string{
		"--headless",
		"--disable-gpu",
		"--remote-debugging-address=0.0.0.0",
		"--remote-debugging-port=0",
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	args = append(args, extra...)
	return append(args, "about:blank")
}

func (p *Process) wait() {
	defer close(p.done)
	if err := p.cmd.Wait(); err != nil {
		p.logger.Warn("chrome exited", zap.Int("pid", p.cmd.Process.Pid), zap.Error(err))
		return
	}
	p.logger.Info("chrome exited", zap.Int("pid", p.cmd.Process.Pid))
}

func (p *Process) awaitDebugPort(ctx context.Context) (int, string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		port, wsPath, err := readActivePort(filepath.Join(p.dataDir, activePortFile))
		if err == nil {
			return port, wsPath, nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errIncompletePortFile) {
			return 0, "", err
		}
		select {
		case <-p.done:
			return 0, "", errors.New("chrome exited before reporting its debugging port")
		case <-ctx.Done():
			return 0, "", fmt.Errorf("wait for debugging port: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

var errIncompletePortFile = errors.New("incomplete DevToolsActivePort file")

// readActivePort parses the port on the first line and the browser websocket
// path on the second.
func readActivePort(path string) (int, string, error) {
	f, err := os.Open(path) //nolint:gosec // path is inside our own temp dir
	if err != nil {
		return 0, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(lines) < 2 {
		return 0, "", errIncompletePortFile
	}
	port, err := strconv.Atoi(lines[0])
	if err != nil || port <= 0 {
		return 0, "", fmt.Errorf("invalid debugging port %q", lines[0])
	}
	return port, lines[1], nil
}

// Port returns the OS-assigned remote debugging port.
func (p *Process) Port() int { return p.port }

// Pid returns the browser process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// WebSocketPath returns the /devtools/browser/<id> path of the browser target.
func (p *Process) WebSocketPath() string { return p.wsPath }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Kill terminates the process and removes its user data dir. Only the first
// call has any effect; later calls return the first result.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		select {
		case <-p.done:
		default:
			err := p.signal()
			if err != nil && !errors.Is(err, os.ErrProcessDone) {
				// The process may still be running; waiting on done could block forever.
				p.killErr = fmt.Errorf("kill chrome pid %d: %w", p.cmd.Process.Pid, err)
				break
			}
			<-p.done
		}
		if err := os.RemoveAll(p.dataDir); err != nil && p.killErr == nil {
			p.killErr = fmt.Errorf("remove user data dir: %w", err)
		}
	})
	return p.killErr
}
