package compaction

import (
	"encoding/json"
	"sort"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

// LeveledTask describes one leveled-compaction job: merge the upper level's
// chosen SSTs (or, when UpperLevel is nil, all of L0) into the lower level's
// overlapping SSTs.
type LeveledTask struct {
	UpperLevel              *int     `json:"upper_level"`
	UpperLevelSSTIDs        []uint32 `json:"upper_level_sst_ids"`
	LowerLevel              int      `json:"lower_level"`
	LowerLevelSSTIDs        []uint32 `json:"lower_level_sst_ids"`
	IsLowerLevelBottomLevel bool     `json:"is_lower_level_bottom_level"`
}

// LeveledOptions configures LeveledController.
type LeveledOptions struct {
	LevelSizeMultiplier            int
	Level0FileNumCompactionTrigger int
	MaxLevels                      int
	BaseLevelSizeMB                int
}

// LeveledController picks compactions by comparing each level's actual size
// against a target size derived geometrically from the bottom level.
type LeveledController struct {
	opts LeveledOptions
}

// NewLeveledController builds a controller with opts.
func NewLeveledController(opts LeveledOptions) *LeveledController {
	return &LeveledController{opts: opts}
}

func (c *LeveledController) findOverlappingSSTs(snap *Snapshot, sstIDs []uint32, inLevel int) []uint32 {
	var beginKey, endKey ikey.Key
	first := true
	for _, id := range sstIDs {
		t := snap.Tables[id]
		if t == nil {
			continue
		}
		if first || ikey.Compare(t.FirstKey(), beginKey) < 0 {
			beginKey = t.FirstKey()
		}
		if first || ikey.Compare(t.LastKey(), endKey) > 0 {
			endKey = t.LastKey()
		}
		first = false
	}
	var overlap []uint32
	for _, id := range snap.Levels[inLevel-1].SSTIDs {
		t := snap.Tables[id]
		if t == nil {
			continue
		}
		if !(string(t.LastKey().UserKey) < string(beginKey.UserKey) || string(t.FirstKey().UserKey) > string(endKey.UserKey)) {
			overlap = append(overlap, id)
		}
	}
	return overlap
}

// GenerateTask implements Controller.
func (c *LeveledController) GenerateTask(snap *Snapshot) (any, bool) {
	maxLevels := c.opts.MaxLevels
	targetLevelSize := make([]int, maxLevels)
	realLevelSize := make([]int, maxLevels)
	baseLevel := maxLevels

	for i := 0; i < maxLevels; i++ {
		size := 0
		for _, id := range snap.Levels[i].SSTIDs {
			size += int(snap.tableSize(id))
		}
		realLevelSize[i] = size
	}
	baseLevelSizeBytes := c.opts.BaseLevelSizeMB * 1024 * 1024

	targetLevelSize[maxLevels-1] = maxInt(realLevelSize[maxLevels-1], baseLevelSizeBytes)
	for i := maxLevels - 2; i >= 0; i-- {
		next := targetLevelSize[i+1]
		this := next / c.opts.LevelSizeMultiplier
		if next > baseLevelSizeBytes {
			targetLevelSize[i] = this
		}
		if targetLevelSize[i] > 0 {
			baseLevel = i + 1
		}
	}

	if len(snap.L0) >= c.opts.Level0FileNumCompactionTrigger {
		return &LeveledTask{
			UpperLevel:              nil,
			UpperLevelSSTIDs:        append([]uint32(nil), snap.L0...),
			LowerLevel:              baseLevel,
			LowerLevelSSTIDs:        c.findOverlappingSSTs(snap, snap.L0, baseLevel),
			IsLowerLevelBottomLevel: baseLevel == maxLevels,
		}, true
	}

	bestLevel := -1
	bestPrio := 1.0
	for level := 0; level < maxLevels; level++ {
		if targetLevelSize[level] == 0 {
			continue
		}
		prio := float64(realLevelSize[level]) / float64(targetLevelSize[level])
		if prio > bestPrio {
			bestPrio = prio
			bestLevel = level + 1
		}
	}
	if bestLevel == -1 {
		return nil, false
	}
	ids := append([]uint32(nil), snap.Levels[bestLevel-1].SSTIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	selected := ids[0]
	lower := bestLevel + 1
	upper := bestLevel
	return &LeveledTask{
		UpperLevel:              &upper,
		UpperLevelSSTIDs:        []uint32{selected},
		LowerLevel:              lower,
		LowerLevelSSTIDs:        c.findOverlappingSSTs(snap, []uint32{selected}, lower),
		IsLowerLevelBottomLevel: lower == maxLevels,
	}, true
}

// ApplyResult implements Controller. task may be a *LeveledTask produced by
// GenerateTask, or one round-tripped through manifest JSON during recovery.
func (c *LeveledController) ApplyResult(snap *Snapshot, task any, output []uint32, inRecovery bool) (*Snapshot, []uint32) {
	t := asLeveledTask(task)
	out := snap.Clone()
	var filesToRemove []uint32

	upperSet := toSet(t.UpperLevelSSTIDs)
	if t.UpperLevel != nil {
		out.Levels[*t.UpperLevel-1].SSTIDs = removeIDs(out.Levels[*t.UpperLevel-1].SSTIDs, upperSet)
	} else {
		out.L0 = removeIDs(out.L0, upperSet)
	}
	filesToRemove = append(filesToRemove, t.UpperLevelSSTIDs...)
	filesToRemove = append(filesToRemove, t.LowerLevelSSTIDs...)

	lowerSet := toSet(t.LowerLevelSSTIDs)
	newLower := removeIDs(out.Levels[t.LowerLevel-1].SSTIDs, lowerSet)
	newLower = append(newLower, output...)
	if !inRecovery {
		sort.Slice(newLower, func(i, j int) bool {
			return ikey.Compare(out.Tables[newLower[i]].FirstKey(), out.Tables[newLower[j]].FirstKey()) < 0
		})
	}
	out.Levels[t.LowerLevel-1].SSTIDs = newLower
	return out, filesToRemove
}

// asLeveledTask normalizes task, which is either already a *LeveledTask or a
// generic map[string]any produced by json.Unmarshal into an any field during
// manifest recovery.
func asLeveledTask(task any) *LeveledTask {
	if t, ok := task.(*LeveledTask); ok {
		return t
	}
	raw, _ := json.Marshal(task)
	var t LeveledTask
	_ = json.Unmarshal(raw, &t)
	return &t
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
