/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cannsudemir/ats/InputParameters"
	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/richards"
	"github.com/cannsudemir/ats/types"
)

const exampleFile = `
########################################
Title: "Infiltration column"
NX: 20
NY: 1
LX: 1.
Ranks: 2
InitialPressure: 99000.
BCs:
  left:
    dirichlet: 101325.
  right:
    dirichlet: 98000.
Flow:
  max iterations: 50
  tolerance: 1.e-8
  use full jacobian: true
  Diffusion PC:
    preconditioner: boomer amg
########################################
`

// SolveCmd represents the solve command
var SolveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Steady Richards solve on a structured box",
	Long: `
Builds a structured box mesh, partitions it over in-process ranks and runs
the preconditioned nonlinear iteration for the steady pressure.

ats solve -I input.yaml [--ranks N]`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("inputConditionsFile")
		ip, err := processInput(file)
		if err != nil {
			fmt.Printf("error: %s\n", err.Error())
			fmt.Printf("Example File:%s\n", exampleFile)
			os.Exit(1)
		}
		if ranks := viper.GetInt("ranks"); ranks > 0 {
			ip.Ranks = ranks
		}
		ip.Print()
		run := func() error {
			res, err := RunSolve(ip, os.Stdout)
			if err == nil {
				fmt.Printf("%d iterations, pressure in [%g, %g]\n", res.Iterations, res.MinPressure, res.MaxPressure)
			}
			return err
		}
		if viper.GetBool("perf") {
			err = countInstructions(run)
		} else {
			err = run()
		}
		if err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(SolveCmd)
	SolveCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters like:\n\t- mesh\n\t- van Genuchten parameters\n\t- boundary conditions")
	SolveCmd.Flags().IntP("ranks", "n", 0, "number of in-process ranks, overrides the input file")
	_ = viper.BindPFlag("ranks", SolveCmd.Flags().Lookup("ranks"))
}

func processInput(file string) (ip *InputParameters.InputParametersRichards, err error) {
	if len(file) == 0 {
		return nil, fmt.Errorf("must supply an input parameters file (-I, --inputConditionsFile) in YAML format")
	}
	var data []byte
	if data, err = os.ReadFile(file); err != nil {
		return
	}
	ip = &InputParameters.InputParametersRichards{}
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return
}

func buildMesh(ip *InputParameters.InputParametersRichards) (*mesh.Global, error) {
	if ip.NZ == 0 {
		return mesh.NewStructured2D(ip.NX, ip.NY, ip.LX, ip.LY)
	}
	return mesh.NewStructured3D(ip.NX, ip.NY, ip.NZ, ip.LX, ip.LY, ip.LZ)
}

// boxConditions marks the boundary faces of each side of the box named in
// the input.
func boxConditions(ip *InputParameters.InputParametersRichards, lm *mesh.Local) (markers []types.MatrixBC, values []float64) {
	var (
		n   = lm.NumFaces(mesh.Used)
		tol = 1.e-9
	)
	markers, values = make([]types.MatrixBC, n), make([]float64, n)
	sides := map[string]func(x r3.Vec) bool{
		"left":   func(x r3.Vec) bool { return x.X < tol*ip.LX },
		"right":  func(x r3.Vec) bool { return x.X > (1-tol)*ip.LX },
		"bottom": func(x r3.Vec) bool { return x.Y < tol*ip.LY },
		"top":    func(x r3.Vec) bool { return x.Y > (1-tol)*ip.LY },
	}
	if ip.NZ > 0 {
		sides["front"] = func(x r3.Vec) bool { return x.Z < tol*ip.LZ }
		sides["back"] = func(x r3.Vec) bool { return x.Z > (1-tol)*ip.LZ }
	}
	for side, on := range sides {
		bc, v := ip.BC(side)
		if bc == types.BC_Null {
			continue
		}
		for _, f := range lm.BoundaryFacesWhere(on) {
			markers[f], values[f] = bc, v
		}
	}
	return
}

type SolveResult struct {
	Iterations               int
	MinPressure, MaxPressure float64
}

// RunSolve runs the steady solve on ip.Ranks ranks, logging the iteration
// history of rank 0 to w.
func RunSolve(ip *InputParameters.InputParametersRichards, w io.Writer) (res SolveResult, err error) {
	var (
		g   *mesh.Global
		wrm richards.VanGenuchten
	)
	if g, err = buildMesh(ip); err != nil {
		return
	}
	if wrm, err = richards.NewVanGenuchten(ip.Alpha, ip.N, ip.ResidualSaturation, ip.Pref); err != nil {
		return
	}
	locals := mesh.Partition(g, ip.Ranks)
	err = comm.Run(ip.Ranks, func(c *comm.Comm) (err error) {
		var (
			lm = locals[c.Rank()]
			ss *richards.SteadyState
		)
		pl, err := ip.FlowList()
		if err != nil {
			return
		}
		K := make([]float64, lm.NumCells(mesh.Owned))
		q := make([]float64, len(K))
		for i := range K {
			K[i], q[i] = ip.Permeability, ip.Source
		}
		if ss, err = richards.NewSteadyState(pl, lm, c, wrm, K, log.New(w, "", 0)); err != nil {
			return
		}
		if err = ss.SetBoundaryConditions(boxConditions(ip, lm)); err != nil {
			return
		}
		ss.SetSource(q)
		u := field.New(lm, c, field.CellComponent, field.FaceComponent)
		u.PutScalar(ip.InitialValue)
		iters, err := ss.Solve(u)
		if err != nil {
			return
		}
		uc := u.ViewComponent(field.CellComponent, false)
		lo, hi := math.Inf(-1), math.Inf(-1)
		for _, p := range uc {
			if -p > lo {
				lo = -p
			}
			if p > hi {
				hi = p
			}
		}
		if lo, err = c.AllReduceMax(lo); err != nil {
			return
		}
		if hi, err = c.AllReduceMax(hi); err != nil {
			return
		}
		if c.Rank() == 0 {
			res = SolveResult{Iterations: iters, MinPressure: -lo, MaxPressure: hi}
		}
		return
	})
	return
}
