// Package pipeline sequences the processing stages for each recording.
//
// A Coordinator claims a fingerprint in the state ledger, resumes from the
// last durably completed stage and runs segment, transcribe, analyze,
// extract and archive in order. Each stage writes its artifact into
// work_dir/<fingerprint>/ before the ledger is advanced, so a crash or a
// failure restarts at the first stage whose output was never recorded.
// A failed recording stays in the input directory with its error kept on
// the ledger entry.
package pipeline
