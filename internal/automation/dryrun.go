package automation

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"ferry/internal/logging"
	"ferry/internal/mapping"
	"ferry/internal/transfer"
)

// DryRunDriver accepts every submission without contacting the remote,
// except for student numbers listed in its reject set.
type DryRunDriver struct {
	reject      map[string]struct{}
	logger      *slog.Logger
	submissions atomic.Int64
}

// NewDryRunDriver builds a dry-run driver that refuses the given numbers.
func NewDryRunDriver(reject []string, logger *slog.Logger) *DryRunDriver {
	set := make(map[string]struct{}, len(reject))
	for _, number := range reject {
		if number = strings.TrimSpace(number); number != "" {
			set[number] = struct{}{}
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DryRunDriver{reject: set, logger: logger}
}

// Submissions returns how many forms the driver accepted.
func (d *DryRunDriver) Submissions() int64 {
	return d.submissions.Load()
}

func (d *DryRunDriver) Initialize(ctx context.Context) error {
	return ctx.Err()
}

func (d *DryRunDriver) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

func (d *DryRunDriver) SubmitIndividual(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	return d.submit(ctx, form)
}

func (d *DryRunDriver) EnterGroupMode(ctx context.Context) error {
	return ctx.Err()
}

func (d *DryRunDriver) AddGroupMember(ctx context.Context, member transfer.MemberRef) (transfer.Admission, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Admission{}, err
	}
	if d.rejects(member.StudentNumber) {
		return transfer.Admission{Reason: "dry-run: student " + member.StudentNumber + " rejected"}, nil
	}
	return transfer.Admission{Accepted: true}, nil
}

func (d *DryRunDriver) SubmitGroup(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	return d.submit(ctx, form)
}

func (d *DryRunDriver) Shutdown(context.Context) error {
	return nil
}

func (d *DryRunDriver) submit(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return transfer.SubmitResult{}, err
	}
	number := form[mapping.FieldStudentNumber]
	if d.rejects(number) {
		return transfer.SubmitResult{Message: "dry-run: student " + number + " rejected"}, nil
	}
	d.submissions.Add(1)
	d.logger.Debug("dry-run submission accepted",
		logging.String("student_number", number),
		logging.Int("fields", len(form)),
	)
	return transfer.SubmitResult{Success: true, Message: "dry-run"}, nil
}

func (d *DryRunDriver) rejects(number string) bool {
	_, ok := d.reject[strings.TrimSpace(number)]
	return ok
}
