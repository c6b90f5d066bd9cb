// Package envelope defines the job envelope wire format: construction,
// subject derivation, and the publish parameters a Job or Scheduled
// envelope needs on the broker.
package envelope

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/google/uuid"
)

const (
	// DefaultRetry is the number of additional attempts after the first.
	DefaultRetry = 3
	// DefaultDead routes permanent failures to the dead-letter subject.
	DefaultDead = true

	headerExecuteAt = "X-Execute-At"
	headerStream    = "X-Stream"
	headerSubject   = "X-Subject"
	headerMsgID     = "Nats-Msg-Id"
)

// Envelope is a single job invocation: id, class tag, args, and retry
// policy (spec §3 Job Model).
type Envelope struct {
	JID   string `json:"jid"`
	Class string `json:"class"`
	Args  []any  `json:"args"`
	Retry int    `json:"retry"`
	Dead  bool   `json:"dead"`
}

// Options configures envelope construction. At and In are mutually
// exclusive; setting either schedules the envelope for future delivery.
type Options struct {
	Retry *int
	Dead  *bool
	At    time.Time
	In    time.Duration
}

// New constructs an envelope for classTag with a freshly generated jid,
// applying the given options over the defaults (spec §4.3).
func New(classTag string, args []any, opts Options) *Envelope {
	retry := DefaultRetry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	dead := DefaultDead
	if opts.Dead != nil {
		dead = *opts.Dead
	}
	return &Envelope{
		JID:   newJID(),
		Class: classTag,
		Args:  args,
		Retry: retry,
		Dead:  dead,
	}
}

// newJID generates a 24-hex-character unique identifier (spec §3).
// A UUIDv4 is 32 hex digits once its dashes are stripped; truncating to 24
// keeps the required length while retaining enough entropy for dedup
// purposes within a broker duplicate window.
func newJID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:24]
}

var snakeBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// Snake converts a handler class tag (e.g. "EmailJob") to the lower
// snake_case form used in subject names (spec §4.3: "class_tag_snake_case").
func Snake(class string) string {
	s := snakeBoundary.ReplaceAllString(class, "${1}_${2}")
	return strings.ToLower(s)
}

// DefaultSubject returns the subject an immediate job is published to
// (spec §4.3, §6: "jobs.<stream>.<class_tag_snake_case>").
func DefaultSubject(stream, class string) string {
	return "jobs." + stream + "." + Snake(class)
}

// ScheduledSubject returns the transport subject a scheduled envelope is
// published to (spec §4.3, §6: "jobs.scheduled.<class_tag_snake_case>").
func ScheduledSubject(class string) string {
	return "jobs.scheduled." + Snake(class)
}

// DeadLetterSubject returns the subject a permanently failed envelope is
// republished to, body unchanged (spec §6).
func DeadLetterSubject(class string) string {
	return "jobs.dead." + Snake(class)
}

// PublishParams is the (subject, body, options) triple ready to hand to a
// broker.Client.Publish call (spec §4.3's "to_args").
type PublishParams struct {
	Subject string
	Body    []byte
	Opts    broker.PublishOptions
}

// ToArgs resolves e into publish parameters for stream. If opts schedules
// a future execution (At or In set), the envelope is wrapped for delivery
// through the scheduled stream instead of its target stream (spec §4.3).
func ToArgs(e *Envelope, stream string, opts Options) (PublishParams, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return PublishParams{}, err
	}

	executeAt, scheduled := resolveExecuteAt(opts)
	if !scheduled {
		return PublishParams{
			Subject: DefaultSubject(stream, e.Class),
			Body:    body,
			Opts: broker.PublishOptions{
				Stream: stream,
				Header: broker.Header{headerMsgID: {e.JID}},
			},
		}, nil
	}

	targetSubject := DefaultSubject(stream, e.Class)
	hdr := broker.Header{headerMsgID: {e.JID}}
	hdr.Set(headerExecuteAt, formatExecuteAt(executeAt))
	hdr.Set(headerStream, stream)
	hdr.Set(headerSubject, targetSubject)

	return PublishParams{
		Subject: ScheduledSubject(e.Class),
		Body:    body,
		Opts: broker.PublishOptions{
			Stream: "scheduled",
			Header: hdr,
		},
	}, nil
}

func resolveExecuteAt(opts Options) (time.Time, bool) {
	if !opts.At.IsZero() {
		return opts.At, true
	}
	if opts.In > 0 {
		return time.Now().Add(opts.In), true
	}
	return time.Time{}, false
}

func formatExecuteAt(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Decode parses a job envelope body.
func Decode(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ScheduledHeaders is the promotion metadata read off a scheduled
// envelope's message headers by the scheduler loop (spec §4.5).
type ScheduledHeaders struct {
	ExecuteAt     time.Time
	TargetStream  string
	TargetSubject string
}

// ReadScheduledHeaders extracts the promotion metadata from hdr.
func ReadScheduledHeaders(hdr broker.Header) (ScheduledHeaders, error) {
	sec, err := strconv.ParseInt(hdr.Get(headerExecuteAt), 10, 64)
	if err != nil {
		return ScheduledHeaders{}, err
	}
	return ScheduledHeaders{
		ExecuteAt:     time.Unix(sec, 0).UTC(),
		TargetStream:  hdr.Get(headerStream),
		TargetSubject: hdr.Get(headerSubject),
	}, nil
}

// MsgIDHeader returns the Nats-Msg-Id header, used for dedup.
func MsgIDHeader() string { return headerMsgID }
