package lobby

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/louisbranch/arbiter.games/internal/wire"
	"github.com/louisbranch/arbiter.games/internal/worker"
)

// runWorkerProcess transfers every connection to a spawned worker process
// and waits for its result line.
func (l *Lobby) runWorkerProcess(ctx context.Context, m *Match, seed string) {
	defer l.running.Done()

	manifest := &worker.Manifest{
		GameName:     m.entry.Info.Name,
		GameSession:  m.session,
		RandomSeed:   seed,
		Settings:     m.settings,
		MaxInvalids:  l.cfg.MaxInvalids,
		GamelogDir:   l.cfg.GamelogDir,
		GraceDelayNS: l.cfg.GraceDelay.Nanoseconds(),
		NoTimeout:    l.cfg.NoTimeout,
	}

	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	addClient := func(c *wire.Client, playerIndex int) error {
		handoff, err := c.Detach()
		if err != nil {
			return err
		}
		files = append(files, handoff.File)
		manifest.Clients = append(manifest.Clients, worker.ClientManifest{
			ID:              c.ID(),
			Name:            c.Name,
			Kind:            c.Kind,
			PlayerIndex:     playerIndex,
			TimeRemainingNS: c.TimeRemaining().Nanoseconds(),
			Buffered:        handoff.Buffered,
		})
		return nil
	}
	for idx, c := range m.slots {
		if err := addClient(c, idx); err != nil {
			l.abortLaunch(m, err)
			return
		}
	}
	for _, c := range m.spectators {
		if err := addClient(c, -1); err != nil {
			l.abortLaunch(m, err)
			return
		}
	}

	cmd := exec.CommandContext(ctx, l.cfg.WorkerBinary)
	cmd.ExtraFiles = files
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		l.abortLaunch(m, err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		l.abortLaunch(m, err)
		return
	}
	if err := cmd.Start(); err != nil {
		l.abortLaunch(m, fmt.Errorf("start worker: %w", err))
		return
	}

	// The worker inherited the sockets; drop the lobby's copies.
	for _, f := range files {
		_ = f.Close()
	}
	files = nil
	for _, c := range m.clients() {
		c.ReleaseTransport()
	}

	if err := manifest.Write(stdin); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		l.finishMatch(m, nil, fmt.Errorf("send manifest: %w", err))
		return
	}
	_ = stdin.Close()

	res, readErr := worker.ReadResult(stdout)
	waitErr := cmd.Wait()
	switch {
	case waitErr != nil:
		l.finishMatch(m, res, fmt.Errorf("worker exited: %w", waitErr))
	case readErr != nil:
		l.finishMatch(m, nil, fmt.Errorf("read worker result: %w", readErr))
	case res.Error != "":
		l.finishMatch(m, res, fmt.Errorf("worker reported: %s", res.Error))
	default:
		l.finishMatch(m, res, nil)
	}
}

// abortLaunch tears a match down when its worker could not be started; the
// clients still hold their connections at this point.
func (l *Lobby) abortLaunch(m *Match, err error) {
	for _, c := range m.clients() {
		if c != nil && !c.Closed() {
			c.Disconnect("match could not be started")
		}
	}
	l.finishMatch(m, nil, err)
}
