package compaction

import "encoding/json"

// SimpleLeveledTask describes merging an entire upper level (or all of L0)
// into an entire lower level.
type SimpleLeveledTask struct {
	UpperLevel              *int     `json:"upper_level"`
	UpperLevelSSTIDs        []uint32 `json:"upper_level_sst_ids"`
	LowerLevel              int      `json:"lower_level"`
	LowerLevelSSTIDs        []uint32 `json:"lower_level_sst_ids"`
	IsLowerLevelBottomLevel bool     `json:"is_lower_level_bottom_level"`
}

// SimpleLeveledOptions configures SimpleLeveledController.
type SimpleLeveledOptions struct {
	SizeRatioPercent               int
	Level0FileNumCompactionTrigger int
	MaxLevels                      int
}

// SimpleLeveledController triggers a full-level merge whenever the level
// below holds too few files relative to the level above it (lower/upper
// file count below SizeRatioPercent/100; by file count, not byte size).
type SimpleLeveledController struct {
	opts SimpleLeveledOptions
}

// NewSimpleLeveledController builds a controller with opts.
func NewSimpleLeveledController(opts SimpleLeveledOptions) *SimpleLeveledController {
	return &SimpleLeveledController{opts: opts}
}

// GenerateTask implements Controller.
func (c *SimpleLeveledController) GenerateTask(snap *Snapshot) (any, bool) {
	levelSizes := make([]int, 0, c.opts.MaxLevels+1)
	levelSizes = append(levelSizes, len(snap.L0))
	for _, lv := range snap.Levels {
		levelSizes = append(levelSizes, len(lv.SSTIDs))
	}

	for i := 0; i < c.opts.MaxLevels; i++ {
		if i == 0 && len(snap.L0) < c.opts.Level0FileNumCompactionTrigger {
			continue
		}
		lower := i + 1
		ratio := float64(levelSizes[lower]) / float64(levelSizes[i])
		if ratio < float64(c.opts.SizeRatioPercent)/100.0 {
			var upperLevel *int
			var upperIDs []uint32
			if i == 0 {
				upperIDs = append([]uint32(nil), snap.L0...)
			} else {
				u := i
				upperLevel = &u
				upperIDs = append([]uint32(nil), snap.Levels[i-1].SSTIDs...)
			}
			return &SimpleLeveledTask{
				UpperLevel:              upperLevel,
				UpperLevelSSTIDs:        upperIDs,
				LowerLevel:              lower,
				LowerLevelSSTIDs:        append([]uint32(nil), snap.Levels[lower-1].SSTIDs...),
				IsLowerLevelBottomLevel: lower == c.opts.MaxLevels,
			}, true
		}
	}
	return nil, false
}

// ApplyResult implements Controller.
func (c *SimpleLeveledController) ApplyResult(snap *Snapshot, task any, output []uint32, inRecovery bool) (*Snapshot, []uint32) {
	t := asSimpleTask(task)
	out := snap.Clone()
	var filesToRemove []uint32

	if t.UpperLevel != nil {
		filesToRemove = append(filesToRemove, out.Levels[*t.UpperLevel-1].SSTIDs...)
		out.Levels[*t.UpperLevel-1].SSTIDs = nil
	} else {
		filesToRemove = append(filesToRemove, t.UpperLevelSSTIDs...)
		remove := toSet(t.UpperLevelSSTIDs)
		out.L0 = removeIDs(out.L0, remove)
	}
	filesToRemove = append(filesToRemove, out.Levels[t.LowerLevel-1].SSTIDs...)
	out.Levels[t.LowerLevel-1].SSTIDs = append([]uint32(nil), output...)
	return out, filesToRemove
}

func asSimpleTask(task any) *SimpleLeveledTask {
	if t, ok := task.(*SimpleLeveledTask); ok {
		return t
	}
	raw, _ := json.Marshal(task)
	var t SimpleLeveledTask
	_ = json.Unmarshal(raw, &t)
	return &t
}
