// Package cellid holds the immutable cell identity produced by cell search.
package cellid

// CyclicPrefix is the cyclic-prefix kind a cell was acquired with.
type CyclicPrefix uint8

const (
	CyclicPrefixNormal CyclicPrefix = iota
	CyclicPrefixExtended
)

// Identity is a value record describing an acquired cell (spec.md §3.1).
// It is produced once by cell search and held immutable until reselection
// discards it.
type Identity struct {
	PhysCellID uint16
	CP         CyclicPrefix
	NofPorts   uint8
	NofPRB     uint8
	EARFCN     uint32
}

// SubframeLenSamples returns the number of IQ samples per subframe at the
// cell's resource-block count, matching SRSLTE_SF_LEN_PRB(nof_prb) from
// spec.md §6.5: from 1920 samples per 1 ms subframe for 6 PRB (1.4 MHz)
// up to 30720 for 100 PRB (20 MHz).
func (id Identity) SubframeLenSamples() int {
	switch {
	case id.NofPRB <= 6:
		return 1920
	case id.NofPRB <= 15:
		return 3840
	case id.NofPRB <= 25:
		return 7680
	case id.NofPRB <= 50:
		return 15360
	case id.NofPRB <= 75:
		return 23040
	default:
		return 30720
	}
}

// MasterClockRate picks the camping-rate master clock (spec.md §4.1
// CellSearch) such that SubframeLenSamples divides it evenly: 30.72 MHz
// whenever the subframe length divides 30.72e6, 23.04 MHz otherwise (only
// the 75-PRB case, 23040 samples).
func (id Identity) MasterClockRate() float64 {
	if 30720000%id.SubframeLenSamples() != 0 {
		return 23.04e6
	}
	return 30.72e6
}
