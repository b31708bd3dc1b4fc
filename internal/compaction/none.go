package compaction

// NoneController disables background compaction: L0 SSTs accumulate
// forever (or until a forced full compaction is requested explicitly).
type NoneController struct{}

// NewNoneController builds a no-op controller.
func NewNoneController() *NoneController { return &NoneController{} }

// GenerateTask implements Controller; it never schedules anything.
func (c *NoneController) GenerateTask(snap *Snapshot) (any, bool) { return nil, false }

// ApplyResult implements Controller. The background loop never calls it,
// since GenerateTask never produces a task; ForceFullCompaction and
// recovery use it to flatten L0 and all levels into a single level, ID 1,
// holding output.
func (c *NoneController) ApplyResult(snap *Snapshot, task any, output []uint32, inRecovery bool) (*Snapshot, []uint32) {
	out := snap.Clone()
	var filesToRemove []uint32
	filesToRemove = append(filesToRemove, out.L0...)
	for _, lv := range out.Levels {
		filesToRemove = append(filesToRemove, lv.SSTIDs...)
	}
	out.L0 = nil
	out.Levels = []Level{{ID: 1, SSTIDs: append([]uint32(nil), output...)}}
	return out, filesToRemove
}
