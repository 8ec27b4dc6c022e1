package normalize

import "encoding/json"

// MaxPSDRow and MaxEIRPRow are the per-entry child rows keyed by their
// owning request_response digest (spec §3.1 "a one-to-many child").
type MaxPSDRow struct {
	RequestResponseDigest string
	ChannelCFI            int
	MaxPSD                float64
}

type MaxEIRPRow struct {
	RequestResponseDigest string
	ChannelCFI            int
	MaxEIRP               float64
}

type channelInfoEntry struct {
	GlobalOperatingClass int       `json:"globalOperatingClass"`
	ChannelCFI           []int     `json:"channelCfi"`
	MaxEIRP              []float64 `json:"maxEirp"`
}

type frequencyInfoEntry struct {
	MaxPSD float64 `json:"maxPsd"`
}

// BuildMaxEIRPRows parses an inner response's availableChannelInfo array
// into per-channel max-EIRP rows.
func BuildMaxEIRPRows(rrDigest string, availableChannelInfo json.RawMessage) ([]MaxEIRPRow, error) {
	if len(availableChannelInfo) == 0 {
		return nil, nil
	}
	var entries []channelInfoEntry
	if err := json.Unmarshal(availableChannelInfo, &entries); err != nil {
		return nil, err
	}
	var rows []MaxEIRPRow
	for _, e := range entries {
		for i, cfi := range e.ChannelCFI {
			if i >= len(e.MaxEIRP) {
				break
			}
			rows = append(rows, MaxEIRPRow{RequestResponseDigest: rrDigest, ChannelCFI: cfi, MaxEIRP: e.MaxEIRP[i]})
		}
	}
	return rows, nil
}

// BuildMaxPSDRows parses an inner response's availableFrequencyInfo array
// into per-entry max-PSD rows.
func BuildMaxPSDRows(rrDigest string, availableFrequencyInfo json.RawMessage) ([]MaxPSDRow, error) {
	if len(availableFrequencyInfo) == 0 {
		return nil, nil
	}
	var entries []frequencyInfoEntry
	if err := json.Unmarshal(availableFrequencyInfo, &entries); err != nil {
		return nil, err
	}
	rows := make([]MaxPSDRow, len(entries))
	for i, e := range entries {
		rows[i] = MaxPSDRow{RequestResponseDigest: rrDigest, ChannelCFI: i, MaxPSD: e.MaxPSD}
	}
	return rows, nil
}
