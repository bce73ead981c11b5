package InputParameters

import (
	"fmt"
	"sort"

	"github.com/ghodss/yaml"

	"github.com/cannsudemir/ats/plist"
	"github.com/cannsudemir/ats/types"
)

// InputParametersRichards is the YAML run description of a steady Richards
// solve on a structured box.
type InputParametersRichards struct {
	Title string `json:"Title"`
	// Box extents and resolution, NZ == 0 for a 2D mesh
	NX int     `json:"NX"`
	NY int     `json:"NY"`
	NZ int     `json:"NZ"`
	LX float64 `json:"LX"`
	LY float64 `json:"LY"`
	LZ float64 `json:"LZ"`

	Ranks        int     `json:"Ranks"`
	Permeability float64 `json:"Permeability"`
	Source       float64 `json:"Source"`
	InitialValue float64 `json:"InitialPressure"`

	// Van Genuchten water retention
	Alpha              float64 `json:"Alpha"`
	N                  float64 `json:"N"`
	ResidualSaturation float64 `json:"ResidualSaturation"`
	Pref               float64 `json:"Pref"`

	// BCs maps a box side (left, right, bottom, top, front, back) to a
	// condition type and value, e.g. {left: {dirichlet: 101325}}
	BCs map[string]map[string]float64 `json:"BCs"`

	// Flow is the parameter list of the nonlinear driver
	Flow map[string]interface{} `json:"Flow"`
}

func (ip *InputParametersRichards) Parse(data []byte) (err error) {
	ip.setDefaults()
	if err = yaml.Unmarshal(data, ip); err != nil {
		return
	}
	return ip.validate()
}

func (ip *InputParametersRichards) setDefaults() {
	ip.NX, ip.NY = 10, 1
	ip.LX, ip.LY, ip.LZ = 1, 1, 1
	ip.Ranks = 1
	ip.Permeability = 1
	ip.Alpha, ip.N = 1.5e-4, 1.8
	ip.Pref = 101325
	ip.InitialValue = ip.Pref
}

func (ip *InputParametersRichards) validate() error {
	if ip.NX < 1 || ip.NY < 1 || ip.NZ < 0 {
		return fmt.Errorf("bad resolution %dx%dx%d: %w", ip.NX, ip.NY, ip.NZ, plist.ErrBadParameter)
	}
	if ip.Ranks < 1 {
		return fmt.Errorf("rank count %d: %w", ip.Ranks, plist.ErrBadParameter)
	}
	for side, bc := range ip.BCs {
		if len(bc) != 1 {
			return fmt.Errorf("side %s needs exactly one condition, has %d: %w", side, len(bc), plist.ErrBadParameter)
		}
		for name := range bc {
			if _, err := types.ParseMatrixBC(name); err != nil {
				return fmt.Errorf("side %s: %v: %w", side, err, plist.ErrBadParameter)
			}
		}
	}
	return nil
}

// BC returns the condition of a box side, BC_Null when none is set.
func (ip *InputParametersRichards) BC(side string) (bc types.MatrixBC, value float64) {
	for name, v := range ip.BCs[side] {
		bc, _ = types.ParseMatrixBC(name)
		value = v
	}
	return
}

// FlowList returns a private copy of the driver parameters. Each rank needs
// its own, since sublists are created on first use.
func (ip *InputParametersRichards) FlowList() (pl *plist.ParameterList, err error) {
	var data []byte
	if data, err = yaml.Marshal(ip.Flow); err != nil {
		return
	}
	return plist.Parse("Flow", data)
}

func (ip *InputParametersRichards) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	if ip.NZ == 0 {
		fmt.Printf("[%d x %d]\t\t\t= Mesh\n", ip.NX, ip.NY)
		fmt.Printf("[%g x %g]\t\t\t= Domain\n", ip.LX, ip.LY)
	} else {
		fmt.Printf("[%d x %d x %d]\t\t= Mesh\n", ip.NX, ip.NY, ip.NZ)
		fmt.Printf("[%g x %g x %g]\t\t= Domain\n", ip.LX, ip.LY, ip.LZ)
	}
	fmt.Printf("[%d]\t\t\t\t= Ranks\n", ip.Ranks)
	fmt.Printf("%8.5g\t\t= Permeability\n", ip.Permeability)
	fmt.Printf("%8.5g\t\t= Source\n", ip.Source)
	fmt.Printf("%8.5g\t\t= Alpha\n", ip.Alpha)
	fmt.Printf("%8.5f\t\t= N\n", ip.N)
	fmt.Printf("%8.5f\t\t= Residual Saturation\n", ip.ResidualSaturation)
	fmt.Printf("%8.5g\t\t= Pref\n", ip.Pref)
	keys := make([]string, len(ip.BCs))
	i := 0
	for k := range ip.BCs {
		keys[i] = k
		i++
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("BCs[%s] = %v\n", key, ip.BCs[key])
	}
	plist.FromMap("Flow", ip.Flow).Print()
}
