package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"gemrunners.ai/internal/persistence/indexdb"
)

func main() {
	var (
		runDir    = flag.String("run", "", "run directory containing ticks/ and events/")
		indexPath = flag.String("index", "", "sqlite index to cross-check (optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	res, err := verifyRun(*runDir, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s seed=%d checked=%d ticks last=%d deliveries=%d conflicts=%d\n",
		res.RunID, res.Seed, res.Checked, res.LastTick, res.Deliveries, res.Conflicts)
	if res.Report != nil {
		r := res.Report
		fmt.Printf("report: reason=%s ticks=%d collected=%d/%d (%.1f%%) success=%v moves=%d efficiency=%.3f\n",
			r.Reason, r.ElapsedTicks, r.Collected, r.Initial, r.SuccessPct, r.Success, r.TotalMoves, r.Efficiency)
	}

	if *indexPath == "" {
		return
	}
	rd, err := indexdb.OpenReader(*indexPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer rd.Close()
	if err := crossCheckIndex(context.Background(), rd, res); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	fmt.Println("index ok")
}

func crossCheckIndex(ctx context.Context, rd *indexdb.Reader, res result) error {
	row, err := rd.Run(ctx, res.RunID)
	if err != nil {
		return fmt.Errorf("run %s: %w", res.RunID, err)
	}
	if row.Seed != res.Seed {
		return fmt.Errorf("seed mismatch: index=%d log=%d", row.Seed, res.Seed)
	}
	if res.Report != nil && row.Collected != res.Report.Collected {
		return fmt.Errorf("collected mismatch: index=%d log=%d", row.Collected, res.Report.Collected)
	}
	digests, err := rd.TickDigests(ctx, res.RunID)
	if err != nil {
		return err
	}
	for tick, want := range digests {
		got, ok := res.Digests[tick]
		if !ok {
			continue
		}
		if got != want {
			return fmt.Errorf("digest mismatch at tick %d: index=%s log=%s", tick, want, got)
		}
	}
	if len(digests) == 0 {
		return errors.New("index has no ticks for run")
	}
	return nil
}
