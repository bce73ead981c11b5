// Package richards drives the steady-state Richards equation for pressure
// with the MFD operator: upwinded relative permeability, residual
// evaluation and a preconditioned nonlinear iteration.
package richards

import (
	"fmt"
	"math"

	"github.com/cannsudemir/ats/plist"
)

// pcMin is the capillary pressure below which the medium is treated as
// saturated. The Mualem slope is singular at saturation.
const pcMin = 1.e-3

// VanGenuchten is the van Genuchten water retention model with Mualem
// relative permeability. Capillary pressure is Pref - p.
type VanGenuchten struct {
	Alpha float64 // Inverse of the air entry pressure, 1/Pa
	N, M  float64 // M = 1 - 1/N when built by NewVanGenuchten
	Sr    float64 // Residual saturation
	Pref  float64 // Reference (atmospheric) pressure
}

func NewVanGenuchten(alpha, n, sr, pref float64) (vg VanGenuchten, err error) {
	if alpha <= 0 || n <= 1 || sr < 0 || sr >= 1 {
		err = fmt.Errorf("richards.NewVanGenuchten: alpha %g, n %g, sr %g: %w", alpha, n, sr, plist.ErrBadParameter)
		return
	}
	vg = VanGenuchten{Alpha: alpha, N: n, M: 1 - 1/n, Sr: sr, Pref: pref}
	return
}

// NewVanGenuchtenFromList reads "van Genuchten alpha", "van Genuchten n",
// "residual saturation" and "atmospheric pressure".
func NewVanGenuchtenFromList(pl *plist.ParameterList) (vg VanGenuchten, err error) {
	var alpha, n, sr, pref float64
	if alpha, err = pl.GetFloat("van Genuchten alpha", 1.5e-4); err != nil {
		return
	}
	if n, err = pl.GetFloat("van Genuchten n", 1.8); err != nil {
		return
	}
	if sr, err = pl.GetFloat("residual saturation", 0); err != nil {
		return
	}
	if pref, err = pl.GetFloat("atmospheric pressure", 101325); err != nil {
		return
	}
	return NewVanGenuchten(alpha, n, sr, pref)
}

// effective returns the effective saturation and its derivative with
// respect to capillary pressure.
func (vg VanGenuchten) effective(pc float64) (se, dse float64) {
	if pc <= pcMin {
		return 1, 0
	}
	c := math.Pow(vg.Alpha*pc, vg.N)
	se = math.Pow(1+c, -vg.M)
	dse = -vg.M * vg.N * c / pc * math.Pow(1+c, -vg.M-1)
	return
}

// Saturation returns the liquid saturation at pressure p.
func (vg VanGenuchten) Saturation(p float64) float64 {
	se, _ := vg.effective(vg.Pref - p)
	return vg.Sr + (1-vg.Sr)*se
}

// Krel is the Mualem relative permeability at pressure p.
func (vg VanGenuchten) Krel(p float64) float64 {
	se, _ := vg.effective(vg.Pref - p)
	return vg.krelSe(se)
}

func (vg VanGenuchten) krelSe(se float64) float64 {
	g := 1 - math.Pow(1-math.Pow(se, 1/vg.M), vg.M)
	return math.Sqrt(se) * g * g
}

// DKrelDp is the derivative of Krel with respect to pressure.
func (vg VanGenuchten) DKrelDp(p float64) float64 {
	se, dse := vg.effective(vg.Pref - p)
	if dse == 0 {
		return 0
	}
	var (
		a     = math.Pow(se, 1/vg.M)
		b     = 1 - a
		g     = 1 - math.Pow(b, vg.M)
		dgdse = math.Pow(b, vg.M-1) * a / se
		dkdse = 0.5/math.Sqrt(se)*g*g + math.Sqrt(se)*2*g*dgdse
	)
	// dpc/dp = -1
	return -dkdse * dse
}
