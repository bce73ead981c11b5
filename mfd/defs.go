package mfd

import "errors"

// Sizes used to pre-allocate per-cell and per-row storage.
const (
	MFD_HEX_FACES  = 6
	MFD_QUAD_FACES = 4
	MFD_MAX_FACES  = 14
	MFD_MAX_NODES  = 47
	MFD_MAX_EDGES  = 60
)

var (
	// ErrApply is returned by the operator actions when the sparse matvec or
	// the preconditioner fails.
	ErrApply = errors.New("operator apply failed")
	// ErrNotAssembled is returned when the operator is used before a
	// successful numeric assembly.
	ErrNotAssembled = errors.New("matrix is not assembled")
)
