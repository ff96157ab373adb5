package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ghost/internal/logging"
)

// ForegroundEnv marks a daemon process spawned by Start.
const ForegroundEnv = "GHOST_DAEMON_FOREGROUND"

var (
	// ErrAlreadyRunning is returned by Start when a live daemon is recorded.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned by Stop when no live daemon is recorded.
	ErrNotRunning = errors.New("daemon not running")
)

// Spawned reports whether this process was started by a Supervisor.
func Spawned() bool { return os.Getenv(ForegroundEnv) == "1" }

// Supervisor manages the background daemon through its PID record.
type Supervisor struct {
	PIDPath string
	LogPath string
	// Args are passed to the executable to run the foreground loop.
	Args []string
	// Executable defaults to os.Executable.
	Executable func() (string, error)
	// ConfirmTimeout bounds how long Start waits for the child's PID record.
	ConfirmTimeout time.Duration

	log *zap.Logger
}

// NewSupervisor returns a supervisor that re-executes this binary with args.
func NewSupervisor(pidPath, logPath string, args ...string) *Supervisor {
	return &Supervisor{
		PIDPath:        pidPath,
		LogPath:        logPath,
		Args:           args,
		Executable:     os.Executable,
		ConfirmTimeout: 3 * time.Second,
		log:            logging.Get(logging.CategoryDaemon),
	}
}

// Start spawns a detached foreground daemon and waits for it to record its
// pid. It returns ErrAlreadyRunning, with the live pid, when one is recorded.
func (s *Supervisor) Start() (int, error) {
	running, pid, err := CheckPIDFile(s.PIDPath)
	if err != nil {
		return 0, err
	}
	if running {
		return pid, ErrAlreadyRunning
	}
	if pid != 0 {
		s.log.Info("removing stale pid record", zap.Int("pid", pid))
		if err := RemovePIDFile(s.PIDPath); err != nil {
			return 0, err
		}
	}

	exe, err := s.Executable()
	if err != nil {
		return 0, fmt.Errorf("cannot resolve executable path: %w", err)
	}
	logFile, err := os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer devNull.Close()

	cmd := exec.Command(exe, s.Args...)
	cmd.Env = append(os.Environ(), ForegroundEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	child := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		s.log.Warn("failed to release daemon process", zap.Error(err))
	}
	s.log.Info("daemon spawned", zap.Int("pid", child), zap.String("log", s.LogPath))

	deadline := time.Now().Add(s.ConfirmTimeout)
	for time.Now().Before(deadline) {
		if recorded, _ := ReadPIDFile(s.PIDPath); recorded == child {
			return child, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return child, fmt.Errorf("daemon %d did not confirm startup; check %s", child, s.LogPath)
}

// Stop signals the recorded daemon to terminate and removes the record.
// A stale record is removed and reported as ErrNotRunning.
func (s *Supervisor) Stop() (int, error) {
	running, pid, err := CheckPIDFile(s.PIDPath)
	if err != nil {
		return 0, err
	}
	if !running {
		if err := RemovePIDFile(s.PIDPath); err != nil {
			return pid, err
		}
		return pid, ErrNotRunning
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return pid, fmt.Errorf("failed to signal daemon %d: %w", pid, err)
	}
	s.log.Info("daemon signalled", zap.Int("pid", pid))
	return pid, RemovePIDFile(s.PIDPath)
}

// Status reports whether the recorded daemon is alive.
func (s *Supervisor) Status() (running bool, pid int, err error) {
	return CheckPIDFile(s.PIDPath)
}

// Claim records this process as the running daemon, failing when another
// live daemon is already recorded. The returned func removes the record.
func (s *Supervisor) Claim() (func(), error) {
	running, pid, err := CheckPIDFile(s.PIDPath)
	if err != nil {
		return nil, err
	}
	if running && pid != os.Getpid() {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := WritePIDFile(s.PIDPath, os.Getpid()); err != nil {
		return nil, err
	}
	return func() {
		// Only remove the record if it is still ours.
		if recorded, _ := ReadPIDFile(s.PIDPath); recorded == os.Getpid() {
			if err := RemovePIDFile(s.PIDPath); err != nil {
				s.log.Warn("failed to remove pid record", zap.Error(err))
			}
		}
	}, nil
}
