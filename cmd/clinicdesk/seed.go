package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/clinicdesk/internal/clinic"
	"github.com/phrazzld/clinicdesk/internal/task"
)

// seedOptions holds flags for the seed command.
type seedOptions struct {
	*rootOptions
	Count int
}

func newSeedCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &seedOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with demo records",
		Long: `Creates the department, room and disease catalog if it is missing and adds
--count generated patients with doctors to treat them. Progress is printed
as it is reported by the running task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Count < 0 {
				return fmt.Errorf("invalid count %d: must not be negative", opts.Count)
			}
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cfg, log)
			if err != nil {
				return err
			}
			return app.seed(cmd.Context(), opts.Count, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 50, "number of patients to generate")

	return cmd
}

func (app *application) seed(ctx context.Context, count int, out io.Writer) error {
	if err := app.connect(ctx); err != nil {
		return err
	}
	app.start(ctx)

	result, err := app.runSeed(ctx, count, out)
	shutdownErr := app.shutdown(context.Background())
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("seeding failed: %w", result.Err)
	}

	summary, _ := task.Value[clinic.SeedSummary](result)
	fmt.Fprintf(out, "seeded %d patients, %d doctors, %d departments, %d rooms, %d diseases in %s\n",
		summary.Patients, summary.Doctors, summary.Departments, summary.Rooms, summary.Diseases,
		result.Duration.Round(time.Millisecond))
	return shutdownErr
}

func (app *application) runSeed(ctx context.Context, count int, out io.Writer) (task.Result, error) {
	h, err := app.service.Seed(count, task.WithProgressObserver(func(percent int) {
		fmt.Fprintf(out, "seeding: %3d%%\n", percent)
	}))
	if err != nil {
		return task.Result{}, fmt.Errorf("failed to submit seed: %w", err)
	}

	result, err := h.Wait(ctx)
	if err != nil {
		return task.Result{}, err
	}

	// Let the finished observers submit the catalog refresh before shutdown
	// drains the queue.
	if err := app.loop.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return result, fmt.Errorf("failed to flush consumer loop: %w", err)
	}
	return result, nil
}
