// Package redis builds the shared go-redis client used by the result store and
// the Redis dispatch queue.
package redis
