// Package events publishes per-cycle notifications to the audit log, a Redis
// channel or a RabbitMQ queue.
package events
