// Package analysis turns a merged transcript into a structured meeting
// analysis through the remote text-analysis capability.
//
// Short transcripts are analyzed with one request. Longer ones are split at
// utterance boundaries, each chunk is analyzed on its own, and the partial
// results are combined:
//
//  1. List fields are concatenated in chunk order with normalized
//     de-duplication.
//  2. The summary is produced by a reduction request over the partial
//     summaries, applied hierarchically while the partial summaries exceed
//     the context limit.
//
// Every payload is decoded strictly. A malformed payload is written to the
// quarantine directory and the request is retried within the attempt budget.
package analysis
