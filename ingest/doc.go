// Package ingest is the persistence core of the chat indexer.
//
// It owns four pieces:
//   - Registry: the monitored chat set (built once from configuration) and
//     lazy persistence of chat metadata into the chats table.
//   - Normalize: conversion of a raw source message plus its resolved sender
//     into the canonical messages row.
//   - Writer.WriteMessage: the live path, one upsert per message.
//   - Writer.WriteAll: the backfill path, chunked multi-row upserts inside a
//     single transaction per call.
//
// Both write paths share the same upsert keyed on (chat_id, message_id). On
// conflict only text and edit_date change, so backfill and live writers can
// overlap on the same chat without coordination and still converge.
package ingest
