// Package watch runs one batch per model archive dropped into an inbox
// directory.
package watch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/simservice"
	"github.com/starford/rpfba/internal/storage"
)

// Subdirectories of the inbox that receive handled inputs.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

const defaultSettle = 500 * time.Millisecond

// Simulator runs one request.
type Simulator interface {
	Simulate(ctx context.Context, req simservice.Request, input io.Reader, gem []byte, out io.Writer) (*batch.Summary, error)
}

// Options configure Watch.
type Options struct {
	Inbox  string
	Outbox string
	GEM    []byte
	// Request carries the parameters and output compression of every run.
	// Format and Source are set per file.
	Request simservice.Request
	// Settle is how long a file must stay unchanged before it is processed.
	Settle time.Duration
}

// Callback is called after each input has been handled. err is nil when
// the result was written to the outbox.
type Callback func(name string, sum *batch.Summary, err error)

// Watch processes the archives already waiting in the inbox, then watches
// it until ctx is cancelled. Handled inputs move to processed/ or failed/.
func Watch(ctx context.Context, sim Simulator, opts Options, logger *slog.Logger, cb Callback) error {
	if err := os.MkdirAll(opts.Inbox, 0o755); err != nil {
		return fmt.Errorf("watch: inbox: %w", err)
	}
	if err := os.MkdirAll(opts.Outbox, 0o755); err != nil {
		return fmt.Errorf("watch: outbox: %w", err)
	}
	inbox, err := storage.NewFS(opts.Inbox)
	if err != nil {
		return err
	}
	outbox, err := storage.NewFS(opts.Outbox)
	if err != nil {
		return err
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = defaultSettle
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(inbox.Root()); err != nil {
		return fmt.Errorf("watch: add %s: %w", inbox.Root(), err)
	}

	p := &processor{sim: sim, opts: opts, inbox: inbox, outbox: outbox, logger: logger, cb: cb}
	logger.Info("watch: started", slog.String("inbox", inbox.Root()), slog.String("outbox", outbox.Root()))

	for _, name := range pendingInputs(inbox.Root()) {
		if ctx.Err() != nil {
			break
		}
		p.handle(ctx, name)
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if filepath.Dir(ev.Name) != inbox.Root() || !isInput(name) {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr != nil || info.IsDir() {
				continue
			}
			pending[name] = time.Now()

		case now := <-ticker.C:
			var ready []string
			for name, last := range pending {
				if now.Sub(last) >= settle {
					ready = append(ready, name)
				}
			}
			sort.Strings(ready)
			for _, name := range ready {
				delete(pending, name)
				if ctx.Err() != nil {
					break
				}
				p.handle(ctx, name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// isInput accepts model archives and single SBML models. Hidden files are
// partial writes of other tools.
func isInput(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return archive.IsArchiveName(name) || isModel(name)
}

func isModel(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".xml") || strings.HasSuffix(lower, ".sbml")
}

func pendingInputs(root string) []string {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range dirEntries {
		if e.Type().IsRegular() && isInput(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

type processor struct {
	sim    Simulator
	opts   Options
	inbox  *storage.FS
	outbox storage.Provider
	logger *slog.Logger
	cb     Callback
}

// OutputName is the outbox file name for an inbox input.
func OutputName(input string, c archive.Compression) string {
	if base, ok := archive.TrimArchiveExt(input); ok {
		return base + "_rpfba" + c.Extension()
	}
	return archive.ResultName(archive.JobID(input))
}

func (p *processor) handle(ctx context.Context, name string) {
	sum, err := p.run(ctx, name)
	dest := path.Join(ProcessedDir, name)
	if err != nil {
		dest = path.Join(FailedDir, name)
		p.logger.Error("watch: input failed", slog.String("input", name), slog.String("error", err.Error()))
	} else {
		p.logger.Info("watch: input processed",
			slog.String("input", name),
			slog.String("run_id", sum.RunID),
			slog.Int("completed", len(sum.Completed)),
			slog.Int("skipped", len(sum.Skipped)))
	}
	if mvErr := p.inbox.Move(name, dest); mvErr != nil {
		p.logger.Warn("watch: move failed", slog.String("input", name), slog.String("error", mvErr.Error()))
	}
	if p.cb != nil {
		p.cb(name, sum, err)
	}
}

func (p *processor) run(ctx context.Context, name string) (*batch.Summary, error) {
	data, err := p.inbox.Read(name)
	if err != nil {
		return nil, err
	}
	req := p.opts.Request
	req.Source = filepath.Join(p.inbox.Root(), name)
	req.Format = simservice.FormatTar
	if !archive.IsArchiveName(name) {
		req.Format = simservice.FormatSBML
	}

	var out bytes.Buffer
	sum, err := p.sim.Simulate(ctx, req, bytes.NewReader(data), p.opts.GEM, &out)
	if err != nil {
		return sum, err
	}
	if err := p.outbox.Write(OutputName(name, req.Compression), out.Bytes()); err != nil {
		return sum, fmt.Errorf("watch: write result: %w", err)
	}
	return sum, nil
}
