package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sourceplane/prestoflow/internal/model"
)

const (
	unitMaskPrimers    = "mask_primers"
	unitMergeSamples   = "sc_merge_samples"
	unitRemoveMulti    = "sc_remove_multi_heavy"
	unitRemoveNoHeavy  = "sc_remove_no_heavy"
	channelPair1       = "PAIR1"
	channelPair2       = "PAIR2"
	channelAssembled   = "ASSEMBLED"
	primersFileParam   = "v_primers_fname"
	primersVariant     = "variant"
	primersExtract     = "extract"
	primersExtractFrom = "start"
	primersExtractLen  = "length"
)

func isPairing(u model.Unit) bool {
	return u.RequiresChannel(model.ChannelR1) && u.RequiresChannel(model.ChannelR2)
}

func isAssembly(u model.Unit) bool {
	return u.RequiresChannel(channelPair1) && u.RequiresChannel(channelPair2)
}

// provides lists the backend channels a unit makes current when it succeeds
func provides(u model.Unit) []string {
	switch {
	case isPairing(u):
		return []string{channelPair1, channelPair2}
	case isAssembly(u):
		return []string{channelAssembled}
	default:
		return nil
	}
}

// checkUnitRules applies the per-unit domain checks and returns the reasons a step cannot run
func checkUnitRules(u model.Unit, params map[string]string, st model.SessionState) []string {
	if u.ID != unitMaskPrimers {
		return nil
	}

	variant := params[primersVariant]
	if variant == "" {
		variant = u.ParamsSchema[primersVariant].DefaultString()
	}

	switch variant {
	case primersExtract:
		for _, name := range []string{primersExtractFrom, primersExtractLen} {
			if _, err := strconv.Atoi(strings.TrimSpace(params[name])); err != nil {
				return []string{"extract needs integer start and length"}
			}
		}
	default:
		if strings.TrimSpace(params[primersFileParam]) == "" && !st.HasAux(model.AuxRoleVPrimers) {
			return []string{fmt.Sprintf("%s needs a V-primer reference: set %s or upload a V-primer file", variant, primersFileParam)}
		}
	}
	return nil
}

// missingReason explains unmet channel requirements
func missingReason(u model.Unit, missing []string) string {
	if isAssembly(u) {
		return "requires both paired read channels (PAIR1, PAIR2); run pairing first"
	}
	return fmt.Sprintf("requires channel %s, which is not available yet", strings.Join(missing, ", "))
}

// orderingAdvice returns the non-blocking ordering suggestions for a list of units
func orderingAdvice(units []model.Unit) []Message {
	msgs := make([]Message, 0)
	firstIndex := func(match func(model.Unit) bool) int {
		for i, u := range units {
			if match(u) {
				return i
			}
		}
		return -1
	}
	byID := func(id string) func(model.Unit) bool {
		return func(u model.Unit) bool { return u.ID == id }
	}

	if i := firstIndex(byID(unitMergeSamples)); i > 0 {
		msgs = append(msgs, Message{
			Severity: SeverityAdvisory,
			Subject:  units[i].Label,
			Text:     "merging samples usually comes first, so later filters see every sample",
		})
	}

	multi, noHeavy := firstIndex(byID(unitRemoveMulti)), firstIndex(byID(unitRemoveNoHeavy))
	if multi >= 0 && noHeavy >= 0 && multi > noHeavy {
		msgs = append(msgs, Message{
			Severity: SeverityAdvisory,
			Subject:  units[multi].Label,
			Text:     "remove cells with multiple heavy chains before removing cells without heavy chains",
		})
	}

	asm, pair := firstIndex(isAssembly), firstIndex(isPairing)
	if asm >= 0 && pair >= 0 && asm < pair {
		msgs = append(msgs, Message{
			Severity: SeverityAdvisory,
			Subject:  units[asm].Label,
			Text:     "assembly is placed before pairing; pair the reads first",
		})
	}
	return msgs
}
