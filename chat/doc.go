// Package chat runs the indexer: it backfills the recent history of every
// monitored chat and then keeps the store current from the live stream.
//
// Entry points:
//   - (*Indexer).Backfill: registers each monitored chat, fetches its history
//     from the Source and hands it to the batch writer. Chats run in parallel,
//     each in its own transaction; one chat failing does not stop the others.
//   - (*Indexer).Run: subscribes to the Source and writes every message of a
//     monitored chat through the single-message writer until the context is
//     cancelled. Messages for chats outside the monitored set are ignored.
//
// Both paths share one upsert keyed on (chat_id, message_id), so a message
// seen by backfill and by the live stream ends up as a single row carrying
// whichever text and edit date was written last.
package chat
