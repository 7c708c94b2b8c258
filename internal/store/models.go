package store

// ChannelRef identifies one selected vendor channel.
type ChannelRef struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name,omitempty"`
}

// EntryConfig is the durable user configuration for one account.
//
// PollMap holds the persisted per-channel polling period in seconds. The
// live coordinator schedule is authoritative at runtime; this value is the
// startup default and may lag the live one by a single mutation if the
// process dies before the background persist lands.
//
// SensorMap holds the per-channel set of canonical field keys the user chose
// to expose enabled. Fields outside the set still become entities, just
// disabled by default.
type EntryConfig struct {
	AccountKey string              `json:"account_key"`
	Channels   []ChannelRef        `json:"channels"`
	PollMap    map[string]int      `json:"poll_map,omitempty"`
	SensorMap  map[string][]string `json:"sensor_map,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored maps.
func (c *EntryConfig) Clone() *EntryConfig {
	out := &EntryConfig{
		AccountKey: c.AccountKey,
		Channels:   append([]ChannelRef(nil), c.Channels...),
	}
	if c.PollMap != nil {
		out.PollMap = make(map[string]int, len(c.PollMap))
		for k, v := range c.PollMap {
			out.PollMap[k] = v
		}
	}
	if c.SensorMap != nil {
		out.SensorMap = make(map[string][]string, len(c.SensorMap))
		for k, v := range c.SensorMap {
			out.SensorMap[k] = append([]string(nil), v...)
		}
	}
	return out
}
