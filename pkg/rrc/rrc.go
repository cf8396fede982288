// Package rrc defines the narrow upper-layer contract the Sync Engine
// notifies through (spec.md §6.3). It is a collaborator interface, not an
// implementation — the RRC stack proper is out of scope.
package rrc

import "github.com/telcogo/uecore/pkg/cellid"

// Notifier is implemented by the RRC layer and driven exclusively from the
// Sync Engine's main loop.
type Notifier interface {
	// InSync is called every 10 TTIs while CellCamp is healthy.
	InSync()
	// OutOfSync is called once per run of consecutive DSP failures that
	// forces a return to CellSelect.
	OutOfSync()
	// CellFound is called once CellMeasure has accumulated
	// RSRP_MEASURE_NOF_FRAMES samples during a multi-EARFCN scan.
	CellFound(earfcn uint32, cell cellid.Identity, rsrpDbm float64)
}

// NopNotifier discards every notification; useful as a zero-value default
// so SyncEngine never needs a nil check on its RRC handle.
type NopNotifier struct{}

func (NopNotifier) InSync()                                                   {}
func (NopNotifier) OutOfSync()                                                {}
func (NopNotifier) CellFound(earfcn uint32, cell cellid.Identity, rsrp float64) {}
