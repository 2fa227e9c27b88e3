// Package api exposes the HTTP interface of the service: synchronous,
// asynchronous and streaming translation and summarization, task polling,
// statistics, history and health. Streaming responses use server-sent events
// whose data lines carry JSON objects tagged with a "type" field.
package api
