// Package main hosts the documentation extractor entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates extraction requests and hands them to the registry, which seeds a
//     per-job frontier and queues the job ID. Status and results are read from published job snapshots.
//   - Dispatcher & queue: job IDs flow through a bounded in-memory queue sized by crawler.queue_depth. The
//     dispatcher runs up to crawler.max_active_jobs jobs at once; every job shares the worker's global fetch slots
//     (crawler.concurrency) and is capped by crawler.per_job_concurrency.
//   - Fetch pipeline: each URL is probed with the Colly fetcher and promoted to headless Chromedp when the heuristic
//     detector sees a script-rendered shell. Per-host politeness comes from policy/ratelimit; link scope from
//     policy/scope.
//   - Extraction & fanout: parsed pages go through the extraction strategies. Entities and relations are pushed to
//     the graph sink (http, neo4j, kafka or memory) behind a retrying async buffer. Raw pages can be archived to
//     memory, local disk or GCS, and a Pub/Sub notification is published when a job finishes.
//   - Retention: finished jobs stay in memory for registry.retention; when registry.redis_addr is set their final
//     snapshots are kept in Redis and served after eviction.
//
// Quick checklist:
//   - Configure env vars: EXTRACTOR_SERVER_PORT or PORT, EXTRACTOR_CRAWLER_CONCURRENCY, EXTRACTOR_SINK_KIND,
//     EXTRACTOR_SINK_BASE_URL, EXTRACTOR_HEADLESS_ENABLED, EXTRACTOR_ARCHIVE_KIND, EXTRACTOR_PUBLISHER_TOPIC.
//   - Run locally: go run ./cmd/docextractor -config config.yaml (or rely solely on env overrides).
//   - SIGINT/SIGTERM stops the HTTP server, cancels running extractions and drains the sink buffer.
package main
