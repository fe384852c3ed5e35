package entity

// ChatState состояние чата Telegram
type ChatState string

const (
	ChatIdle     ChatState = "idle"     // Только ответы на присланные фото
	ChatWatching ChatState = "watching" // Получает кадры с камеры
)

// Chat представляет чат, подключённый к боту
type Chat struct {
	ID    int64     // Telegram Chat ID
	State ChatState // Текущее состояние чата
}

// NewChat создаёт новый чат с начальным состоянием
func NewChat(chatID int64) *Chat {
	return &Chat{
		ID:    chatID,
		State: ChatIdle,
	}
}

// SetState обновляет состояние чата
func (c *Chat) SetState(state ChatState) {
	c.State = state
}

// Watching сообщает, подписан ли чат на поток кадров
func (c *Chat) Watching() bool {
	return c.State == ChatWatching
}
