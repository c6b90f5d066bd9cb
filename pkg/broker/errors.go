package broker

import "errors"

// ErrNoStreamResponse is the sentinel a Client implementation returns from
// Publish when the target subject has no stream bound to accept it — the
// broker-agnostic equivalent of JetStream's "no responders" condition
// (spec §4.3: "Translates NoStreamResponse into a StreamNotFound(stream_name)
// domain error"). pkg/publisher is the only caller that inspects this.
var ErrNoStreamResponse = errors.New("broker: no stream is bound to accept this subject")

// ErrStreamNotFound is returned by introspection calls (StreamInfo,
// DeleteStream, GetMessage) when the named stream does not exist.
var ErrStreamNotFound = errors.New("broker: stream not found")

// ErrConsumerNotFound is returned when Subscribe targets a stream that does
// not exist.
var ErrConsumerNotFound = errors.New("broker: consumer not found")
