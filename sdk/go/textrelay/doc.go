// Package textrelay is a small Go client for the TextRelay REST API. It covers
// synchronous and asynchronous translation and summarization, task polling and
// the server-sent event streams.
package textrelay
