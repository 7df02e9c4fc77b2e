package pipeline

import (
	"fmt"
	"strings"
)

// Mode selects what the translator generates.
type Mode int

const (
	ModeAssembly Mode = iota
	ModeC
	ModeIR
	ModeAll
)

// Artifact is a file the translator is expected to write beside the source.
type Artifact struct {
	Suffix string
	C      bool
}

var (
	artifactAssembly = Artifact{Suffix: ".asm"}
	artifactC        = Artifact{Suffix: ".c", C: true}
	artifactIR       = Artifact{Suffix: "_intermediate.txt"}
)

// ParseMode accepts asm, c, ir or all, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asm", "assembly":
		return ModeAssembly, nil
	case "c":
		return ModeC, nil
	case "ir", "intermediate":
		return ModeIR, nil
	case "all":
		return ModeAll, nil
	default:
		return 0, fmt.Errorf("unknown output mode %q (want asm|c|ir|all)", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeAssembly:
		return "asm"
	case ModeC:
		return "c"
	case ModeIR:
		return "ir"
	case ModeAll:
		return "all"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Flag returns the translator flag for m.
func (m Mode) Flag() string {
	switch m {
	case ModeAssembly:
		return "--asm"
	case ModeC:
		return "--c"
	case ModeIR:
		return "--ir"
	case ModeAll:
		return "--all"
	default:
		panic(fmt.Sprintf("pipeline: invalid mode %d", int(m)))
	}
}

// Artifacts returns the files m makes the translator write, in discovery order.
func (m Mode) Artifacts() []Artifact {
	switch m {
	case ModeAssembly:
		return []Artifact{artifactAssembly}
	case ModeC:
		return []Artifact{artifactC}
	case ModeIR:
		return []Artifact{artifactIR}
	case ModeAll:
		return []Artifact{artifactAssembly, artifactC, artifactIR}
	default:
		panic(fmt.Sprintf("pipeline: invalid mode %d", int(m)))
	}
}

// ExpectsC reports whether m produces the C file the native stages consume.
func (m Mode) ExpectsC() bool {
	for _, a := range m.Artifacts() {
		if a.C {
			return true
		}
	}
	return false
}
