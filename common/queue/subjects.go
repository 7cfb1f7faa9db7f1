package queue

// Queue names a JetStream work-queue stream, the subject jobs are published on
// and the durable consumer that drains it.
type Queue struct {
	Stream  string
	Subject string
	Durable string
}

var (
	Extraction = Queue{Stream: "TWIN_EXTRACTION", Subject: "twin.jobs.extraction", Durable: "extraction-worker"}
	Validation = Queue{Stream: "TWIN_VALIDATION", Subject: "twin.jobs.validation", Durable: "validation-worker"}
	DeadLetter = Queue{Stream: "TWIN_DLQ", Subject: "twin.jobs.dlq", Durable: "dlq-worker"}
	Index      = Queue{Stream: "TWIN_INDEX", Subject: "twin.jobs.index", Durable: "search-indexer"}
)

// All lists every queue the pipeline declares.
func All() []Queue {
	return []Queue{Extraction, Validation, DeadLetter, Index}
}
