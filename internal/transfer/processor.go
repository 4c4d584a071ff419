package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ferry/internal/logging"
)

// Session is the per-batch driver state the processor carries between items.
type Session struct {
	Driver    Driver
	groupMode bool
}

// NewSession wraps a driver for one batch.
func NewSession(driver Driver) *Session {
	return &Session{Driver: driver}
}

// MemberFailure is a group member the driver refused to admit.
type MemberFailure struct {
	Record Record
	Reason string
}

// Outcome is the structured result of processing one work item.
type Outcome struct {
	Success bool
	Message string
	// Rejected lists group members that were not admitted. They are reported
	// separately from the group's own result.
	Rejected []MemberFailure
	// Persisted is true once the outcome was written to persistence.
	Persisted bool
	// ObservedAt is when the processor saw the remote verdict.
	ObservedAt time.Time
}

// Processor transfers exactly one work item and persists its outcome.
type Processor struct {
	mapper Mapper
	store  Persistence
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor constructs a processor. A nil logger discards output.
func NewProcessor(mapper Mapper, store Persistence, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		mapper: mapper,
		store:  store,
		logger: logging.NewComponentLogger(logger, "processor"),
		now:    time.Now,
	}
}

// Process transfers item through the session's driver. Rejections, timeouts,
// and mapping problems come back as failed outcomes; only driver
// unavailability is returned as an error.
func (p *Processor) Process(ctx context.Context, session *Session, item WorkItem) (Outcome, error) {
	switch it := item.(type) {
	case IndividualItem:
		return p.processIndividual(ctx, session, it)
	case GroupItem:
		return p.processGroup(ctx, session, it)
	default:
		return Outcome{}, fmt.Errorf("unsupported work item %T", item)
	}
}

func (p *Processor) processIndividual(ctx context.Context, session *Session, item IndividualItem) (Outcome, error) {
	logger := logging.WithContext(ctx, p.logger)

	form, err := p.mapper.MapToRemote(item.Record)
	if err != nil {
		return p.fail(ctx, logger, item.Ref(), Outcome{}, "map record: "+err.Error()), nil
	}

	result, err := session.Driver.SubmitIndividual(ctx, form)
	if err != nil {
		if errors.Is(err, ErrDriverUnavailable) {
			return Outcome{}, err
		}
		return p.fail(ctx, logger, item.Ref(), Outcome{}, submissionFailure(err)), nil
	}
	observed := p.now()
	if !result.Success {
		return p.fail(ctx, logger, item.Ref(), Outcome{ObservedAt: observed}, rejectionMessage(result.Message)), nil
	}
	return p.succeed(ctx, logger, item.Ref(), Outcome{ObservedAt: observed}), nil
}

func (p *Processor) processGroup(ctx context.Context, session *Session, item GroupItem) (Outcome, error) {
	logger := logging.WithContext(ctx, p.logger).With(logging.String("group_key", item.GroupKey))

	if len(item.Members) == 0 {
		return p.fail(ctx, logger, item.Ref(), Outcome{}, "group has no members"), nil
	}

	if !session.groupMode {
		if err := session.Driver.EnterGroupMode(ctx); err != nil {
			if errors.Is(err, ErrDriverUnavailable) {
				return Outcome{}, err
			}
			return p.fail(ctx, logger, item.Ref(), Outcome{}, "enter group mode: "+submissionFailure(err)), nil
		}
		session.groupMode = true
	}

	var (
		accepted []Record
		outcome  Outcome
	)
	for _, member := range item.Members {
		admission, err := session.Driver.AddGroupMember(ctx, MemberRef{
			RecordID:      member.ID,
			StudentNumber: member.StudentNumber,
			StudentName:   member.StudentName,
		})
		if err != nil {
			if errors.Is(err, ErrDriverUnavailable) {
				return Outcome{}, err
			}
			admission = Admission{Reason: submissionFailure(err)}
		}
		if admission.Accepted {
			accepted = append(accepted, member)
			continue
		}
		reason := strings.TrimSpace(admission.Reason)
		if reason == "" {
			reason = "member rejected"
		}
		outcome.Rejected = append(outcome.Rejected, MemberFailure{Record: member, Reason: reason})
		logger.Info("group member rejected",
			logging.Int64(logging.FieldRecordID, member.ID),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "group_member_rejected"),
		)
	}

	p.recordRejections(ctx, logger, outcome.Rejected)

	if len(accepted) == 0 {
		// Each member already carries its own rejection reason.
		outcome.Message = "no group members were accepted"
		outcome.ObservedAt = p.now()
		outcome.Persisted = true
		return outcome, nil
	}

	ref := item.Ref()
	ref.Members = recordIDs(accepted)

	form, err := p.mapper.MapToRemote(accepted[0])
	if err != nil {
		return p.fail(ctx, logger, ref, outcome, "map record: "+err.Error()), nil
	}

	result, err := session.Driver.SubmitGroup(ctx, form)
	if err != nil {
		if errors.Is(err, ErrDriverUnavailable) {
			return Outcome{}, err
		}
		return p.fail(ctx, logger, ref, outcome, submissionFailure(err)), nil
	}
	outcome.ObservedAt = p.now()
	if !result.Success {
		return p.fail(ctx, logger, ref, outcome, rejectionMessage(result.Message)), nil
	}
	return p.succeed(ctx, logger, ref, outcome), nil
}

func (p *Processor) succeed(ctx context.Context, logger *slog.Logger, ref ItemRef, outcome Outcome) Outcome {
	outcome.Success = true
	if outcome.ObservedAt.IsZero() {
		outcome.ObservedAt = p.now()
	}
	if err := p.store.MarkTransferred(ctx, ref, outcome.ObservedAt); err != nil {
		logger.Error("remote accepted item but marking it transferred failed",
			logging.Error(err),
			logging.String("item_kind", string(ref.Kind)),
			logging.String("item_ref", ref.ID),
			logging.String(logging.FieldEventType, "mark_transferred_failed"),
			logging.String(logging.FieldErrorHint, "item may be resubmitted on the next retry pass"),
		)
		return outcome
	}
	outcome.Persisted = true
	return outcome
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, ref ItemRef, outcome Outcome, message string) Outcome {
	outcome.Success = false
	outcome.Message = message
	if outcome.ObservedAt.IsZero() {
		outcome.ObservedAt = p.now()
	}
	if err := p.store.RecordError(ctx, ref, message); err != nil {
		logger.Warn("failed to persist item error",
			logging.Error(err),
			logging.String("item_kind", string(ref.Kind)),
			logging.String("item_ref", ref.ID),
			logging.String(logging.FieldEventType, "record_error_failed"),
			logging.String(logging.FieldErrorHint, "check records database access"),
		)
	} else {
		outcome.Persisted = true
	}
	return outcome
}

// recordRejections stores each refused member against its own record so the
// next retry pass picks it up.
func (p *Processor) recordRejections(ctx context.Context, logger *slog.Logger, rejected []MemberFailure) {
	for _, member := range rejected {
		memberRef := IndividualItem{Record: member.Record}.Ref()
		if err := p.store.RecordError(ctx, memberRef, "group member rejected: "+member.Reason); err != nil {
			logger.Warn("failed to persist member rejection",
				logging.Error(err),
				logging.Int64(logging.FieldRecordID, member.Record.ID),
				logging.String(logging.FieldEventType, "record_error_failed"),
				logging.String(logging.FieldErrorHint, "check records database access"),
			)
		}
	}
}

func submissionFailure(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "item timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "item interrupted by shutdown"
	}
	return err.Error()
}

func rejectionMessage(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "remote system rejected the submission"
	}
	return message
}
