package loadmgr

import (
	"errors"
	"fmt"

	"github.com/unixpickle/lockstep/collective"
)

// ErrDivergedLoad is returned by VerifyAgreement when the
// ranks no longer hold the same load vector.
var ErrDivergedLoad = errors.New("loadmgr: ranks disagree on the load vector")

const fingerprintLimbs = 4

// VerifyAgreement checks that every rank's Manager has the
// same load vector.
//
// This is a collective operation: every rank in c must call
// it at the same point. All ranks get the same result.
func VerifyAgreement[K comparable](c *collective.Comm, m *Manager[K]) error {
	// Limbs of 16 bits are exactly representable as
	// float64, so Min and Max cannot smudge them.
	fp := m.Fingerprint()
	local := make([]float64, fingerprintLimbs+1)
	for i := 0; i < fingerprintLimbs; i++ {
		local[i] = float64((fp >> (16 * i)) & 0xffff)
	}
	local[fingerprintLimbs] = float64(m.Size())

	mins := append([]float64{}, local...)
	maxes := append([]float64{}, local...)
	c.AllReduceInPlace(mins, collective.Min)
	c.AllReduceInPlace(maxes, collective.Max)

	for i := range mins {
		if mins[i] != maxes[i] {
			c.Logger().Warn("load vectors diverged", "rank", c.Rank(), "load", m.Load())
			return fmt.Errorf("%w (rank %d fingerprint %016x)", ErrDivergedLoad, c.Rank(), fp)
		}
	}
	return nil
}
