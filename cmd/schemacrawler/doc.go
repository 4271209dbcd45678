// Package main hosts the schemacrawler entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server maps job requests onto service.CrawlService. Jobs are created
//     Pending in the in-memory JobStore and queued for the worker pool.
//   - Dispatcher & queue: a bounded in-memory queue (crawler.queue_depth) feeds a fixed pool of
//     workers (crawler.workers). Each worker runs one job loop at a time; queued jobs stay Pending.
//   - Crawl loop: a FIFO frontier seeded with the root URL, a URL filter (scope, blocklist, assets),
//     a per-job delay, and a render capability (colly, chromedp, or colly with headless promotion).
//   - Processing: goquery extracts metadata, a classifier picks the schema.org hint, and the
//     fallback generator builds the JSON-LD document for each page.
//   - After a job ends: completed jobs are exported (memory/local/GCS), every finished job is
//     archived (Postgres/Redis/SQLite) and a completion event is published (Pub/Sub/Kafka).
//
// Commands:
//   - schemacrawler serve [--config path]   runs the HTTP service until SIGINT/SIGTERM.
//   - schemacrawler crawl <url> [flags]     crawls one site and prints the job as JSON.
//
// Environment overrides use the SCHEMACRAWLER_ prefix, e.g. SCHEMACRAWLER_SERVER_PORT=9090 or
// SCHEMACRAWLER_CRAWLER_WORKERS=8.
package main
