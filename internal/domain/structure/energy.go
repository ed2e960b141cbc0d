package structure

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/turtacn/PoseRank/pkg/errors"
)

const xtbEnergyMarker = "TOTAL ENERGY"

// ParseXTBTotalEnergy extracts the total energy in Hartree from xtb standard
// output. xtb prints the summary block
//
//	| TOTAL ENERGY              -42.514876104358 Eh   |
//
// once per run; optimisations may print it more than once, so the last
// occurrence wins.
func ParseXTBTotalEnergy(output string) (float64, error) {
	var (
		energy float64
		found  bool
	)
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		i := strings.Index(line, xtbEnergyMarker)
		if i < 0 {
			continue
		}
		for _, tok := range strings.Fields(line[i+len(xtbEnergyMarker):]) {
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				energy, found = v, true
				break
			}
		}
	}
	if !found {
		return 0, errors.New(errors.ErrCodeEngineOutput, "no TOTAL ENERGY line in xtb output")
	}
	return energy, nil
}
