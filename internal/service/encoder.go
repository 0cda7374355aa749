package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
)

// Eos console addresses.
const (
	addrNewCommand   = "/eos/newcmd"
	addrChannelAt    = "/eos/channel/%d/at"
	addrRecordCue    = "/eos/record/cue"
	addrCueFadeTime  = "/eos/cue/%d/time"
	addrCueLabelText = "/eos/cue/%d/label"
)

// BuildCommands turns a cue into the batch recorded on the console:
// reset, one level per channel ascending by channel number, record, fade
// time and, when a non-blank label exists, the label. An explicit label wins
// over the cue notes.
func BuildCommands(cue models.Cue, label string) []osc.Command {
	channels := make([]models.CueChannel, len(cue.Channels))
	copy(channels, cue.Channels)
	sort.SliceStable(channels, func(i, j int) bool { return channels[i].Channel < channels[j].Channel })

	cmds := make([]osc.Command, 0, len(channels)+4)
	cmds = append(cmds, osc.Command{Address: addrNewCommand})
	for _, ch := range channels {
		cmds = append(cmds, osc.Command{
			Address: fmt.Sprintf(addrChannelAt, ch.Channel),
			Args:    []any{ch.Level},
		})
	}
	cmds = append(cmds,
		osc.Command{Address: addrRecordCue, Args: []any{cue.CueNumber}},
		osc.Command{
			Address: fmt.Sprintf(addrCueFadeTime, cue.CueNumber),
			Args:    []any{formatFade(cue.FadeTime)},
		},
	)

	text := strings.TrimSpace(label)
	if text == "" {
		text = strings.TrimSpace(cue.Notes)
	}
	if text != "" {
		cmds = append(cmds, osc.Command{
			Address: fmt.Sprintf(addrCueLabelText, cue.CueNumber),
			Args:    []any{text},
		})
	}
	return cmds
}

// formatFade renders seconds as the shortest decimal string ("3.5", "0").
// OSC arguments here carry no floats.
func formatFade(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
