package config

type WorkerKeyStruct struct {
	PersistMistakesQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistMistakesQueue: "persist_mistakes_queue",
}
