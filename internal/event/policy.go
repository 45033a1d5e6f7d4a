package event

// PolicyUpdated records a full policy bundle replacement and the global
// version it produced
type PolicyUpdated struct {
	Asset               string  `json:"asset"`
	MaxLTVBps           int64   `json:"max_ltv_bps"`
	LiquidationBandsBps []int64 `json:"liquidation_bands_bps"`
	SliceBps            int64   `json:"slice_bps"`
	CooldownSecs        int64   `json:"cooldown_secs"`
	MaxSlippageBps      int64   `json:"max_slippage_bps"`
	StalenessSecs       int64   `json:"staleness_secs"`
	BaseRateBps         int64   `json:"base_rate_bps"`
	SpreadBps           int64   `json:"spread_bps"`
	Allowed             bool    `json:"allowed"`
	CircuitBreaker      bool    `json:"circuit_breaker"`
	Version             int64   `json:"version"`
	Timestamp           int64   `json:"timestamp"`
}

func (e *PolicyUpdated) EventType() EventType { return EventTypePolicyUpdated }
func (e *PolicyUpdated) EntityID() string     { return e.Asset }

// CircuitBreakerToggled flips the per-asset kill switch
type CircuitBreakerToggled struct {
	Asset     string `json:"asset"`
	Enabled   bool   `json:"enabled"`
	Timestamp int64  `json:"timestamp"`
}

func (e *CircuitBreakerToggled) EventType() EventType { return EventTypeCircuitBreakerToggled }
func (e *CircuitBreakerToggled) EntityID() string     { return e.Asset }

// VenueAdded records an allow-list insertion
type VenueAdded struct {
	VenueHash string `json:"venue_hash"`
	Timestamp int64  `json:"timestamp"`
}

func (e *VenueAdded) EventType() EventType { return EventTypeVenueAdded }
func (e *VenueAdded) EntityID() string     { return e.VenueHash }

// VenueRemoved records an allow-list removal
type VenueRemoved struct {
	VenueHash string `json:"venue_hash"`
	Timestamp int64  `json:"timestamp"`
}

func (e *VenueRemoved) EventType() EventType { return EventTypeVenueRemoved }
func (e *VenueRemoved) EntityID() string     { return e.VenueHash }
