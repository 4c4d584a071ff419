package mapping

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ferry/internal/services"
	"ferry/internal/textutil"
	"ferry/internal/transfer"
)

// Remote form field names.
const (
	FieldStudentNumber = "student_number"
	FieldStudentName   = "student_name"
	FieldClassName     = "class_name"
	FieldSessionDate   = "session_date"
	FieldTopic         = "topic"
	FieldActivityType  = "activity_type"
	FieldLocation      = "location"
	FieldNotes         = "notes"
	FieldDuration      = "duration_minutes"
	FieldGroupKey      = "group_key"
)

// RemoteDateLayout is the day format the remote forms accept.
const RemoteDateLayout = "02.01.2006"

const (
	defaultNotesLimit    = 500
	defaultActivity      = "individual guidance"
	defaultGroupActivity = "group guidance"
)

// Options tune field formatting.
type Options struct {
	// NotesLimit caps the notes field in runes; zero uses the default.
	NotesLimit int
	// Language selects the casing rules for names. Defaults to Turkish.
	Language language.Tag
}

// Mapper implements transfer.Mapper. Casers are stateful, so each call builds
// its own and a Mapper may be shared between batches.
type Mapper struct {
	notesLimit int
	tag        language.Tag
}

// New constructs a mapper.
func New(opts Options) *Mapper {
	limit := opts.NotesLimit
	if limit <= 0 {
		limit = defaultNotesLimit
	}
	tag := opts.Language
	if tag == language.Und {
		tag = language.Turkish
	}
	return &Mapper{
		notesLimit: limit,
		tag:        tag,
	}
}

// MapToRemote builds the form for record.
func (m *Mapper) MapToRemote(record transfer.Record) (transfer.RemoteForm, error) {
	number := textutil.Digits(record.StudentNumber)
	topic := textutil.CollapseSpace(record.Topic)

	var missing []string
	if number == "" {
		missing = append(missing, FieldStudentNumber)
	}
	if topic == "" {
		missing = append(missing, FieldTopic)
	}
	if record.SessionDate.IsZero() {
		missing = append(missing, FieldSessionDate)
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrValidation, "mapping", "map record",
			"record "+strconv.FormatInt(record.ID, 10)+" missing "+strings.Join(missing, ", "), nil)
	}

	upper := cases.Upper(m.tag)
	title := cases.Title(m.tag)

	activity := textutil.CollapseSpace(record.ActivityType)
	if activity == "" {
		activity = textutil.Ternary(record.Grouped(), defaultGroupActivity, defaultActivity)
	}

	form := transfer.RemoteForm{
		FieldStudentNumber: number,
		FieldStudentName:   upper.String(textutil.CollapseSpace(record.StudentName)),
		FieldSessionDate:   record.SessionDate.Format(RemoteDateLayout),
		FieldTopic:         title.String(topic),
		FieldActivityType:  activity,
	}
	if class := textutil.CollapseSpace(record.ClassName); class != "" {
		form[FieldClassName] = upper.String(class)
	}
	if location := textutil.CollapseSpace(record.Location); location != "" {
		form[FieldLocation] = location
	}
	if notes := textutil.Truncate(textutil.CollapseSpace(record.Notes), m.notesLimit); notes != "" {
		form[FieldNotes] = notes
	}
	if record.DurationMinutes > 0 {
		form[FieldDuration] = strconv.Itoa(record.DurationMinutes)
	}
	if record.Grouped() {
		form[FieldGroupKey] = record.GroupKey
	}
	return form, nil
}
