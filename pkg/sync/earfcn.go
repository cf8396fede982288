package sync

import "github.com/telcogo/uecore"

// earfcnBand is one contiguous downlink EARFCN range mapped by the
// standard 3GPP TS 36.101 Table 5.7.3-1 linear formula:
// Fdl = FdlLowMHz + 0.1 * (EARFCN - lowEARFCN), with the paired uplink low
// frequency carried alongside for the worker CFO scaling in CellCamp.
type earfcnBand struct {
	lowEARFCN  uint32
	highEARFCN uint32
	fdlLowMHz  float64
	fulLowMHz  float64
}

// earfcnBands covers the common FDD bands exercised by the loopback radio
// and the end-to-end scenarios (spec.md §8 scenario 1 uses EARFCN 2850,
// band 7). Not exhaustive of all 3GPP bands — out of scope for a UE sync
// core that never touches RF band filtering itself.
var earfcnBands = []earfcnBand{
	{lowEARFCN: 0, highEARFCN: 599, fdlLowMHz: 2110, fulLowMHz: 1920},     // band 1
	{lowEARFCN: 1200, highEARFCN: 1949, fdlLowMHz: 1805, fulLowMHz: 1710}, // band 3
	{lowEARFCN: 2750, highEARFCN: 3449, fdlLowMHz: 2620, fulLowMHz: 2500}, // band 7
	{lowEARFCN: 6150, highEARFCN: 6449, fdlLowMHz: 791, fulLowMHz: 832},   // band 20
}

// earfcnToHz converts a downlink EARFCN to its carrier frequency in Hz,
// returning uecore.ErrInvalidEARFCN for any value outside the supported
// bands (spec.md §7 fatal error "invalid EARFCN mapping").
func earfcnToHz(earfcn uint32) (float64, error) {
	b, err := bandFor(earfcn)
	if err != nil {
		return 0, err
	}
	mhz := b.fdlLowMHz + 0.1*float64(earfcn-b.lowEARFCN)
	return mhz * 1e6, nil
}

// ulDlRatio returns ul_freq/dl_freq for the band containing earfcn, the
// scaling factor CellCamp applies to the DSP's raw CFO estimate (spec.md
// §4.1: "compute worker CFO as (ul_freq/dl_freq) * cfo / 15000"). Defaults
// to 1.0 (no scaling) for an unmapped EARFCN rather than failing the camp
// iteration over a cosmetic metric.
func ulDlRatio(earfcn uint32) float64 {
	b, err := bandFor(earfcn)
	if err != nil {
		return 1.0
	}
	dlHz := b.fdlLowMHz + 0.1*float64(earfcn-b.lowEARFCN)
	ulHz := b.fulLowMHz + 0.1*float64(earfcn-b.lowEARFCN)
	if dlHz == 0 {
		return 1.0
	}
	return ulHz / dlHz
}

func bandFor(earfcn uint32) (earfcnBand, error) {
	for _, b := range earfcnBands {
		if earfcn >= b.lowEARFCN && earfcn <= b.highEARFCN {
			return b, nil
		}
	}
	return earfcnBand{}, uecore.ErrInvalidEARFCN
}
