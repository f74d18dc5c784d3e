package etl

// Stage names a step of a pipeline run. Stage values double as keys in
// StageDurations.
type Stage string

const (
	StageInit      Stage = "init"
	StageHandshake Stage = "handshake"
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageMapSchema Stage = "map_schema"
	StageValidate  Stage = "validate"
	StageWrite     Stage = "write"
	StageDone      Stage = "done"
	StageFailed    Stage = "error"
)

// StageDurations maps stage name to elapsed milliseconds.
type StageDurations map[string]float64

// Clone returns an independent copy.
func (d StageDurations) Clone() StageDurations {
	out := make(StageDurations, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
