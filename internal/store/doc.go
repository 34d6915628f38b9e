// Package store persists meetingflow state in SQLite.
//
// One database holds the processing ledger (recordings, stage artifacts and
// stage retry counts), the entity registry (entities, aliases, mentions) and
// extracted tasks. Store implements state.Backend and entities.Registry so the
// tracker and resolver never see SQL.
package store
