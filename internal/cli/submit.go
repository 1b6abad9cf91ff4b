package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/event-seat-reservation/internal/bootstrap"
	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/pending"
)

// SubmitOptions are the flags of the submit command.
type SubmitOptions struct {
	ID      int64
	Name    string
	SeatQty int
	Seats   []string // TABLE-SEAT:PERSON[:MEAL]
	DryRun  bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a pending reservation document",
		Long: `Build a pending reservation document and upload it to the remote
folder.  The server replays it into the store on its next start.

Each --seat is TABLE-SEAT:PERSON with an optional :MEAL, for example
--seat 3-1:Judith:FISH --seat 3-2:John.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.ID, "id", 0, "reservation id (default: a new time-sortable id)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "party name")
	cmd.Flags().IntVar(&opts.SeatQty, "seat-qty", 0, "seats the party may hold")
	cmd.Flags().StringArrayVar(&opts.Seats, "seat", nil, "seat assignment TABLE-SEAT:PERSON[:MEAL] (repeatable)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the document instead of uploading it")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("seat-qty")
	return cmd
}

func runSubmit(cmd *cobra.Command, rootOpts *RootOptions, opts *SubmitOptions) error {
	if strings.TrimSpace(opts.Name) == "" || opts.SeatQty < 1 {
		return fmt.Errorf("--name and a positive --seat-qty are required")
	}
	seats, err := bootstrap.SeatMap(rootOpts.Config)
	if err != nil {
		return err
	}
	assignments := make([]model.SeatAssignment, 0, len(opts.Seats))
	for _, raw := range opts.Seats {
		a, err := ParseAssignment(raw)
		if err != nil {
			return err
		}
		if !seats.Contains(a.Table, a.Seat) {
			return fmt.Errorf("seat %s is not on the seat map", a.Key())
		}
		assignments = append(assignments, a)
	}
	if len(assignments) > opts.SeatQty {
		return fmt.Errorf("%d seats listed but --seat-qty is %d", len(assignments), opts.SeatQty)
	}

	id := opts.ID
	if id == 0 {
		if id, err = model.NewReservationID(); err != nil {
			return err
		}
	}
	res := model.Reservation{ID: id, Name: strings.TrimSpace(opts.Name), SeatQty: opts.SeatQty}
	data, err := pending.Encode(pending.New(res, assignments))
	if err != nil {
		return err
	}
	if opts.DryRun {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	ctx := cmd.Context()
	syncer, cleanup, err := rootOpts.remoteSync(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	name := pending.FileName(id)
	if _, err := syncer.UploadBytes(ctx, name, rootOpts.Config.Remote.Folder, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "submitted %s\n", name)
	return nil
}

// ParseAssignment reads TABLE-SEAT:PERSON[:MEAL].
func ParseAssignment(s string) (model.SeatAssignment, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return model.SeatAssignment{}, fmt.Errorf("seat %q: want TABLE-SEAT:PERSON[:MEAL]", s)
	}
	tbl, num, ok := strings.Cut(parts[0], "-")
	if !ok {
		return model.SeatAssignment{}, fmt.Errorf("seat %q: want TABLE-SEAT", s)
	}
	table, err := strconv.Atoi(strings.TrimSpace(tbl))
	if err != nil {
		return model.SeatAssignment{}, fmt.Errorf("seat %q: table: %w", s, err)
	}
	seat, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return model.SeatAssignment{}, fmt.Errorf("seat %q: seat: %w", s, err)
	}
	person := strings.TrimSpace(parts[1])
	if person == "" {
		return model.SeatAssignment{}, fmt.Errorf("seat %q: person is empty", s)
	}
	meal := model.MealRegular
	if len(parts) == 3 {
		if meal, err = model.ParseMeal(parts[2]); err != nil {
			return model.SeatAssignment{}, fmt.Errorf("seat %q: %w", s, err)
		}
	}
	return model.SeatAssignment{Table: table, Seat: seat, Person: person, Meal: meal}, nil
}
