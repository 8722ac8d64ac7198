package metrics

// Pre-defined instruments for the relay node's four coupled subsystems.
// All of them live in DefaultRegistry so storage/importer/producer/sync
// can reference them directly instead of threading a Registry through
// every constructor.

var (
	// ---- storage ----

	// StorageWrites counts Put/Delete calls reaching the backing
	// key-value store.
	StorageWrites = DefaultRegistry.Counter("storage.writes")
	// StorageBatchBytes records the byte size of each committed batch.
	StorageBatchBytes = DefaultRegistry.Histogram("storage.batch_bytes")

	// ---- importer ----

	// BlocksImported counts blocks that reached the Committed state.
	BlocksImported = DefaultRegistry.Counter("importer.blocks_imported")
	// BlocksRejected counts blocks rejected as InvalidBlock: those that
	// failed header validation, execution, or the state-root check.
	BlocksRejected = DefaultRegistry.Counter("importer.blocks_rejected")
	// ExecuteDuration records Core_execute_block wall-clock time in
	// milliseconds.
	ExecuteDuration = DefaultRegistry.Histogram("importer.execute_ms")

	// ---- producer ----

	// SlotsClaimed counts slots this authority won the VRF claim for.
	SlotsClaimed = DefaultRegistry.Counter("producer.slots_claimed")
	// BlocksAnnounced counts blocks baked and handed to the announcer.
	BlocksAnnounced = DefaultRegistry.Counter("producer.blocks_announced")

	// ---- sync ----

	// BlockSyncRequests counts block-range fetches issued to peers.
	BlockSyncRequests = DefaultRegistry.Counter("sync.block.requests")
	// BlockSyncTimeouts counts block-range fetches that timed out.
	BlockSyncTimeouts = DefaultRegistry.Counter("sync.block.timeouts")
	// SyncLag holds the size (in blocks) of the in-progress ascending
	// range sync; it is set when the sync starts and reset to 0 when it
	// returns.
	SyncLag = DefaultRegistry.Gauge("sync.lag_blocks")
	// ProofSize records the byte size of each compact proof processed
	// during state sync.
	ProofSize = DefaultRegistry.Histogram("sync.state.proof_bytes")
)
