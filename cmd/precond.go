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
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/cannsudemir/ats/InputParameters"
	"github.com/cannsudemir/ats/field"
	"github.com/cannsudemir/ats/mesh"
	"github.com/cannsudemir/ats/mfd"
	"github.com/cannsudemir/ats/precond"
)

// PrecondCmd represents the precond command
var PrecondCmd = &cobra.Command{
	Use:   "precond",
	Short: "Compare the preconditioners on the saturated operator",
	Long: `
Assembles the linear (saturated) reduced operator of the input problem on one
rank and reports how fast preconditioned Richardson iteration converges with
each preconditioner. Parameters of each method are read from its sublist of
Flow / Diffusion PC.

ats precond -I input.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("inputConditionsFile")
		ip, err := processInput(file)
		if err != nil {
			fmt.Printf("error: %s\n", err.Error())
			fmt.Printf("Example File:%s\n", exampleFile)
			os.Exit(1)
		}
		maxIters, _ := cmd.Flags().GetInt("maxIterations")
		tol, _ := cmd.Flags().GetFloat64("tolerance")
		ip.Print()
		reports, err := RunPrecond(ip, maxIters, tol, os.Stdout)
		if err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
		if file, _ := cmd.Flags().GetString("plot"); file != "" {
			if err = PlotHistories(file, ip.Title, reports); err != nil {
				fmt.Printf("error: %s\n", err.Error())
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(PrecondCmd)
	PrecondCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters")
	PrecondCmd.Flags().IntP("maxIterations", "m", 200, "Richardson iteration limit")
	PrecondCmd.Flags().Float64P("tolerance", "t", 1.e-8, "relative residual reduction")
	PrecondCmd.Flags().StringP("plot", "p", "", "write the residual histories to this image file (.png, .svg, .pdf)")
}

type PrecondReport struct {
	Method     string
	Iterations int
	Reduction  float64 // Final over initial residual norm
	History    []float64
	Converged  bool
	Elapsed    time.Duration
	Err        error
}

// RunPrecond runs preconditioned Richardson on the reduced saturated
// operator with every registered preconditioner and writes a table to w.
func RunPrecond(ip *InputParameters.InputParametersRichards, maxIters int, tol float64,
	w io.Writer) (reports []PrecondReport, err error) {
	var g *mesh.Global
	if g, err = buildMesh(ip); err != nil {
		return
	}
	lm := g.Serial()
	fmt.Fprintf(w, "%-12s %8s %12s %10s  %s\n", "method", "iters", "reduction", "time", "status")
	for _, method := range precond.Methods() {
		rep := richardson(ip, lm, method, maxIters, tol)
		status := "converged"
		switch {
		case rep.Err != nil:
			status = rep.Err.Error()
		case !rep.Converged:
			status = "not converged"
		}
		fmt.Fprintf(w, "%-12s %8d %12.4e %10s  %s\n", rep.Method, rep.Iterations, rep.Reduction,
			rep.Elapsed.Round(time.Microsecond), status)
		reports = append(reports, rep)
	}
	return
}

func richardson(ip *InputParameters.InputParametersRichards, lm *mesh.Local, method string,
	maxIters int, tol float64) (rep PrecondReport) {
	rep.Method = method
	start := time.Now()
	defer func() { rep.Elapsed = time.Since(start) }()

	var (
		mm  *mfd.MatrixMFD
		err error
	)
	if mm, err = linearOperator(ip, lm, method); err != nil {
		rep.Err = err
		return
	}
	var (
		x     = field.New(lm, nil, field.CellComponent, field.FaceComponent)
		y     = x.Clone()
		r     = x.Clone()
		z     = x.Clone()
		b     = mm.RHS().ViewComponent(field.CellComponent, false)
		xc    = x.ViewComponent(field.CellComponent, false)
		yc    = y.ViewComponent(field.CellComponent, false)
		rc    = r.ViewComponent(field.CellComponent, false)
		zc    = z.ViewComponent(field.CellComponent, false)
		norm0 = floats.Norm(b, 2)
	)
	if norm0 == 0 {
		rep.Converged = true
		return
	}
	for rep.Iterations = 0; ; rep.Iterations++ {
		if rep.Err = mm.Apply(x, y); rep.Err != nil {
			return
		}
		floats.SubTo(rc, b, yc)
		rep.Reduction = floats.Norm(rc, 2) / norm0
		rep.History = append(rep.History, rep.Reduction)
		if rep.Reduction <= tol {
			rep.Converged = true
			return
		}
		if rep.Iterations == maxIters || rep.Reduction > 1e3 || math.IsNaN(rep.Reduction) {
			return
		}
		if rep.Err = mm.ApplyInverse(r, z); rep.Err != nil {
			return
		}
		floats.Add(xc, zc)
	}
}

// linearOperator assembles the saturated reduced operator with the input
// boundary conditions and sources, and builds the named preconditioner.
func linearOperator(ip *InputParameters.InputParametersRichards, lm *mesh.Local, method string) (mm *mfd.MatrixMFD, err error) {
	flow, err := ip.FlowList()
	if err != nil {
		return
	}
	pl, err := flow.Sublist("Diffusion PC")
	if err != nil {
		return
	}
	pl.Set("preconditioner", method)
	if mm, err = mfd.NewMatrixMFD(pl, lm, nil); err != nil {
		return
	}
	K := make([]float64, lm.NumCells(mesh.Owned))
	for i := range K {
		K[i] = ip.Permeability
	}
	mm.CreateMassMatrices(K)
	if err = mm.SymbolicAssemble(); err != nil {
		return
	}
	mm.CreateStiffnessMatrices(nil)
	mm.CreateRHSVectors()
	for c := range K {
		mm.AddCellSource(c, ip.Source)
	}
	mm.ApplyBoundaryConditions(boxConditions(ip, lm))
	if err = mm.NumericAssemble(); err != nil {
		return
	}
	if err = mm.InitPreconditioner(pl); err != nil {
		return
	}
	err = mm.UpdatePreconditioner()
	return
}
