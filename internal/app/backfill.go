package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/ingest"
	"merchant-guard/internal/service"
)

const maxLineBytes = 4 << 20

// Backfill appends historical events from an NDJSON file ("-" reads stdin). Evaluation and
// notification stay off unless requested.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Path == "" {
		return errors.New("an input file is required")
	}

	var defaultStore uuid.UUID
	if opts.StoreID != "" {
		id, err := uuid.Parse(opts.StoreID)
		if err != nil {
			return fmt.Errorf("invalid --store value: %w", err)
		}
		defaultStore = id
	}

	input := io.Reader(os.Stdin)
	if opts.Path != "-" {
		file, err := os.Open(opts.Path)
		if err != nil {
			return err
		}
		defer file.Close()
		input = file
	}

	var ingestFn func(eventlog.Draft) error
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: events are decoded but not stored")
		ingestFn = func(eventlog.Draft) error { return nil }
	} else {
		rt, err := a.newRuntime(ctx, opts.Notify)
		if err != nil {
			return err
		}
		defer rt.Close()
		stages := service.IngestOptions{Evaluate: opts.Evaluate, Notify: opts.Evaluate && opts.Notify}
		ingestFn = func(draft eventlog.Draft) error {
			_, err := rt.pipeline.Ingest(ctx, draft, stages)
			return err
		}
	}

	processed, failed := 0, 0
	err := readDrafts(input, defaultStore, time.Now().UTC(), func(line int, draft eventlog.Draft, decodeErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if decodeErr == nil {
			draft.Source = "backfill"
			decodeErr = ingestFn(draft)
		}
		if decodeErr != nil {
			failed++
			a.Logger.Error().Err(decodeErr).Int("line", line).Msg("backfill event failed")
			return nil
		}
		processed++
		return nil
	})
	if err != nil {
		return err
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Bool("dry_run", opts.DryRun).Msg("backfill finished")
	fmt.Fprintf(a.Out, "processed %d events, %d failed\n", processed, failed)
	if failed > 0 {
		return fmt.Errorf("%d events failed; see log for details", failed)
	}
	return nil
}

// readDrafts decodes one envelope per non-blank line. Decode errors are passed to fn with the
// line number; an error returned by fn stops the scan.
func readDrafts(r io.Reader, defaultStore uuid.UUID, fallback time.Time, fn func(line int, draft eventlog.Draft, err error) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		draft, err := ingest.DecodeFor([]byte(text), defaultStore, fallback)
		if err := fn(line, draft, err); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
