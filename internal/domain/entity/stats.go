package entity

// NodeStats счётчики обработанных сообщений
type NodeStats struct {
	Received  uint64 `json:"received"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}
