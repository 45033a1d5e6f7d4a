package event

// PriceUpdated represents an accepted oracle round
type PriceUpdated struct {
	Asset     string `json:"asset"`
	Price     int64  `json:"price"` // Scaled fixed-point
	Round     int64  `json:"round"` // Monotonic per asset
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}

func (e *PriceUpdated) EventType() EventType { return EventTypePriceUpdated }
func (e *PriceUpdated) EntityID() string     { return e.Asset }
