package messaging

// Dead-letter subjects. Records are published to SubjectDLQPrefix + "." + sink.
const (
	SubjectDLQPrefix = "ingest.dlq"
	SubjectDLQAll    = SubjectDLQPrefix + ".>"

	StreamDLQ = "INGEST_DLQ"
)

// DLQSubject returns the dead-letter subject for a failed sink.
// Example: ingest.dlq.broker
func DLQSubject(sink string) string {
	return SubjectDLQPrefix + "." + sink
}
