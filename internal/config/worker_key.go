package config

type WorkerKeyStruct struct {
	SyncDrainFlight string
}

var WorkerKey = &WorkerKeyStruct{
	SyncDrainFlight: "offline_sync_drain",
}
