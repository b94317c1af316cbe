package ports

// Metric names shared by the core and the Prometheus adapter.
const (
	MetricObservationsAppended = "aegis_observations_appended_total"
	MetricDuplicatesSuppressed = "aegis_duplicates_suppressed_total"
	MetricLinesDropped         = "aegis_shdr_lines_dropped_total"
	MetricUnknownKeys          = "aegis_shdr_unknown_keys_total"
	MetricInvalidValues        = "aegis_invalid_values_total"
	MetricAssetsChanged        = "aegis_assets_changed_total"
	MetricArchived             = "aegis_archived_observations_total"
	MetricArchiveGap           = "aegis_archive_gap_total"
	MetricDLQ                  = "aegis_dlq_total"
	MetricQueueDropped         = "aegis_queue_dropped_total"
	MetricRequests             = "aegis_requests_total"
	MetricRequestErrors        = "aegis_request_errors_total"

	GaugeFirstSequence    = "aegis_buffer_first_sequence"
	GaugeLastSequence     = "aegis_buffer_last_sequence"
	GaugeAssetCount       = "aegis_asset_count"
	GaugeWALSize          = "aegis_wal_size_bytes"
	GaugeQueueLength      = "aegis_queue_length"
	GaugeAdaptersUp       = "aegis_adapters_connected"
	GaugeStreamingClients = "aegis_streaming_clients"

	LatencySink    = "ingest_sink_latency_seconds"
	LatencyRequest = "aegis_request_latency_seconds"
)
