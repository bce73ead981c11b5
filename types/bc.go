package types

import (
	"fmt"
	"strings"
)

type MatrixBC uint8

const (
	BC_Null MatrixBC = iota
	BC_Dirichlet
	BC_Flux
)

var MatrixBCNameMap = map[string]MatrixBC{
	"none":      BC_Null,
	"null":      BC_Null,
	"dirichlet": BC_Dirichlet,
	"pressure":  BC_Dirichlet,
	"flux":      BC_Flux,
	"neuman":    BC_Flux,
	"neumann":   BC_Flux,
}

func (bc MatrixBC) String() string {
	switch bc {
	case BC_Null:
		return "BC_Null"
	case BC_Dirichlet:
		return "BC_Dirichlet"
	case BC_Flux:
		return "BC_Flux"
	}
	return fmt.Sprintf("MatrixBC(%d)", uint8(bc))
}

// ParseMatrixBC looks a boundary condition up by name, ignoring case.
func ParseMatrixBC(name string) (bc MatrixBC, err error) {
	var ok bool
	if bc, ok = MatrixBCNameMap[strings.ToLower(strings.TrimSpace(name))]; !ok {
		err = fmt.Errorf("unknown boundary condition type %q", name)
	}
	return
}
