package compaction

import "encoding/json"

// TieredTask describes merging a contiguous prefix of tiers (newest first)
// into one new tier.
type TieredTask struct {
	Tiers               []Level `json:"tiers"`
	BottomTierIncluded  bool    `json:"bottom_tier_included"`
}

// TieredOptions configures TieredController.
type TieredOptions struct {
	NumTiers                   int
	MaxSizeAmplificationPercent int
	SizeRatio                   int
	MinMergeWidth               int
}

// TieredController picks compactions by space-amplification ratio, then by
// size ratio between adjacent tiers, falling back to reducing the sorted-run
// count when neither trigger fires. It assumes L0 is always empty: tiered
// compaction flushes memtables directly into new tiers.
type TieredController struct {
	opts TieredOptions
}

// NewTieredController builds a controller with opts.
func NewTieredController(opts TieredOptions) *TieredController {
	return &TieredController{opts: opts}
}

// GenerateTask implements Controller.
func (c *TieredController) GenerateTask(snap *Snapshot) (any, bool) {
	if len(snap.Levels) < c.opts.NumTiers {
		return nil, false
	}

	size := 0
	for i := 0; i < len(snap.Levels)-1; i++ {
		size += len(snap.Levels[i].SSTIDs)
	}
	bottom := len(snap.Levels[len(snap.Levels)-1].SSTIDs)
	spaceAmpRatio := float64(size) / float64(bottom) * 100.0
	if spaceAmpRatio >= float64(c.opts.MaxSizeAmplificationPercent) {
		return &TieredTask{Tiers: append([]Level(nil), snap.Levels...), BottomTierIncluded: true}, true
	}

	sizeRatioTrigger := (100.0 + float64(c.opts.SizeRatio)) / 100.0
	size = 0
	for id := 0; id < len(snap.Levels)-1; id++ {
		size += len(snap.Levels[id].SSTIDs)
		nextSize := len(snap.Levels[id+1].SSTIDs)
		currentRatio := float64(size) / float64(nextSize)
		if currentRatio >= sizeRatioTrigger && id+2 >= c.opts.MinMergeWidth {
			return &TieredTask{
				Tiers:              append([]Level(nil), snap.Levels[:id+2]...),
				BottomTierIncluded: id+2 >= len(snap.Levels),
			}, true
		}
	}

	numTiersToTake := len(snap.Levels) - c.opts.NumTiers + 2
	if numTiersToTake > len(snap.Levels) {
		numTiersToTake = len(snap.Levels)
	}
	return &TieredTask{
		Tiers:              append([]Level(nil), snap.Levels[:numTiersToTake]...),
		BottomTierIncluded: numTiersToTake >= len(snap.Levels),
	}, true
}

// ApplyResult implements Controller. output[0] becomes the new tier's id.
func (c *TieredController) ApplyResult(snap *Snapshot, task any, output []uint32, inRecovery bool) (*Snapshot, []uint32) {
	t := asTieredTask(task)
	out := snap.Clone()

	toRemove := make(map[uint32][]uint32, len(t.Tiers))
	for _, lv := range t.Tiers {
		toRemove[lv.ID] = lv.SSTIDs
	}

	var newLevels []Level
	var filesToRemove []uint32
	newTierAdded := false
	for _, lv := range out.Levels {
		if files, ok := toRemove[lv.ID]; ok {
			delete(toRemove, lv.ID)
			filesToRemove = append(filesToRemove, files...)
		} else {
			newLevels = append(newLevels, lv)
		}
		if len(toRemove) == 0 && !newTierAdded {
			newTierAdded = true
			newLevels = append(newLevels, Level{ID: output[0], SSTIDs: append([]uint32(nil), output...)})
		}
	}
	out.Levels = newLevels
	return out, filesToRemove
}

func asTieredTask(task any) *TieredTask {
	if t, ok := task.(*TieredTask); ok {
		return t
	}
	raw, _ := json.Marshal(task)
	var t TieredTask
	_ = json.Unmarshal(raw, &t)
	return &t
}
