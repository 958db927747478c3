package config

const (
	// TopicIngestDocument carries one ingestion task per uploaded document.
	TopicIngestDocument = "ingest.document"

	// ChannelIngestWorker is the consumer channel shared by ingestion workers.
	ChannelIngestWorker = "ingest-worker"
)
