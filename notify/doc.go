// Package notify provides docauth.Notifier implementations.
//
//   - [LogNotifier] writes a redacted line per message through zap. For local
//     development only; the code never leaves the process.
//   - [KafkaNotifier] publishes each message to an outbox topic that the
//     mailer service consumes.
package notify
