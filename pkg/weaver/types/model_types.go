package types

type ModelType string

const (
	MODEL_TYPE_CHAT_COMPLETION ModelType = "chat_completion"
	MODEL_TYPE_EMBEDDING       ModelType = "embedding"
)
