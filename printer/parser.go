package printer

import (
	"regexp"
	"strconv"
	"strings"
)

// Emitter receives events as the parser produces them.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) { f(evt) }

const (
	num = `([-+]?\d+(?:\.\d+)?)`

	// completionMarker is printed by the firmware when a job finishes.
	completionMarker = "Done printing file"

	// positionSuffix starts the step-counter section of an M114 reply,
	// which repeats the axis letters with raw step counts.
	positionSuffix = "Count"

	// maxMinutes bounds a parsed duration; longer values are treated as noise.
	maxMinutes = 1000000
)

var (
	nozzleRx    = regexp.MustCompile(`(?:^|\s)T:` + num + `\s*/\s*` + num)
	bedRx       = regexp.MustCompile(`(?:^|\s)B:` + num + `\s*/\s*` + num)
	heatbreakRx = regexp.MustCompile(`(?:^|\s)X:` + num + `\s*/\s*` + num)
	chamberRx   = regexp.MustCompile(`(?:^|\s)C@:` + num)

	nozzlePowerRx    = regexp.MustCompile(`(?:^|\s)@:` + num)
	bedPowerRx       = regexp.MustCompile(`(?:^|\s)B@:` + num)
	heatbreakPowerRx = regexp.MustCompile(`(?:^|\s)HBR@:` + num)

	percentRx  = regexp.MustCompile(`Progress:\s*(\d+)\s*%`)
	timeLeftRx = regexp.MustCompile(`Time left:\s*(?:(\d+)h\s*)?(\d+)m`)
	changeRx   = regexp.MustCompile(`Change:\s*(?:(\d+)h\s*)?(\d+)m`)
	compactRx  = regexp.MustCompile(`(?:^|\s)P:(\d+)\s+R:(\d+)\s+C:(NA|\d+)`)

	axisRx = map[string]*regexp.Regexp{
		"X": regexp.MustCompile(`(?:^|\s)X:` + num + `(?:\s|$)`),
		"Y": regexp.MustCompile(`(?:^|\s)Y:` + num + `(?:\s|$)`),
		"Z": regexp.MustCompile(`(?:^|\s)Z:` + num + `(?:\s|$)`),
		"E": regexp.MustCompile(`(?:^|\s)E:` + num + `(?:\s|$)`),
	}
)

// Parser turns console lines into state updates and events.
// HandleLine is not safe for concurrent use; the ingestion path calls it
// from a single goroutine.
type Parser struct {
	state *State
	emit  Emitter
}

// NewParser creates a parser that mutates state and reports to emit.
func NewParser(state *State, emit Emitter) *Parser {
	return &Parser{state: state, emit: emit}
}

// HandleLine processes one complete console line. Every pattern is tried
// independently and each match is emitted before the next is tried.
func (p *Parser) HandleLine(line string) {
	p.emit.Emit(LogEvent(line))

	p.parseNozzleBed(line)
	p.parseHeatbreak(line)
	p.parseChamber(line)
	p.parsePower(line)
	p.parseProgress(line)
	p.parseCompactProgress(line)
	p.parseCompletion(line)
	p.parsePosition(line)
}

func (p *Parser) parseNozzleBed(line string) {
	nozzle, ok := matchZone(nozzleRx, line)
	if !ok {
		return
	}
	bed, ok := matchZone(bedRx, line)
	if !ok {
		return
	}
	p.emit.Emit(p.state.SetNozzleBed(nozzle, bed))
}

func (p *Parser) parseHeatbreak(line string) {
	z, ok := matchZone(heatbreakRx, line)
	if !ok {
		return
	}
	p.emit.Emit(p.state.SetHeatbreak(z))
}

func (p *Parser) parseChamber(line string) {
	m := chamberRx.FindStringSubmatch(line)
	if m == nil {
		return
	}
	cur, ok := parseFloat(m[1])
	if !ok {
		return
	}
	p.emit.Emit(p.state.SetChamber(Reading{Current: cur}))
}

func (p *Parser) parsePower(line string) {
	u := PowerUpdate{
		Nozzle:    matchDuty(nozzlePowerRx, line),
		Bed:       matchDuty(bedPowerRx, line),
		Heatbreak: matchDuty(heatbreakPowerRx, line),
	}
	if u.empty() {
		return
	}
	p.emit.Emit(p.state.UpdatePower(u))
}

func (p *Parser) parseProgress(line string) {
	var u ProgressUpdate
	if m := percentRx.FindStringSubmatch(line); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			u.Percent = &v
		}
	}
	u.TimeLeft = matchMinutes(timeLeftRx, line)
	u.ChangeTime = matchMinutes(changeRx, line)
	if u.empty() {
		return
	}
	p.emit.Emit(p.state.UpdateProgress(u))
}

// parseCompactProgress handles the short "P:10 R:75 C:NA" form.
func (p *Parser) parseCompactProgress(line string) {
	m := compactRx.FindStringSubmatch(line)
	if m == nil {
		return
	}
	percent, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	left, err := strconv.Atoi(m[2])
	if err != nil {
		return
	}
	change := -1
	if m[3] != "NA" {
		if change, err = strconv.Atoi(m[3]); err != nil {
			return
		}
	}
	p.emit.Emit(p.state.UpdateProgress(ProgressUpdate{
		Percent: &percent, TimeLeft: &left, ChangeTime: &change,
	}))
}

func (p *Parser) parseCompletion(line string) {
	if !strings.Contains(line, completionMarker) {
		return
	}
	percent, left := 100, 0
	p.emit.Emit(p.state.UpdateProgress(ProgressUpdate{
		Percent: &percent, TimeLeft: &left,
	}))
}

func (p *Parser) parsePosition(line string) {
	if i := strings.Index(line, positionSuffix); i >= 0 {
		line = line[:i]
	}
	var axes [4]float64
	for i, name := range [...]string{"X", "Y", "Z", "E"} {
		m := axisRx[name].FindStringSubmatch(line)
		if m == nil {
			return
		}
		v, ok := parseFloat(m[1])
		if !ok {
			return
		}
		axes[i] = v
	}
	p.emit.Emit(p.state.SetPosition(Position{
		X: axes[0], Y: axes[1], Z: axes[2], E: axes[3],
	}))
}

func matchZone(rx *regexp.Regexp, line string) (Zone, bool) {
	m := rx.FindStringSubmatch(line)
	if m == nil {
		return Zone{}, false
	}
	cur, ok := parseFloat(m[1])
	if !ok {
		return Zone{}, false
	}
	target, ok := parseFloat(m[2])
	if !ok {
		return Zone{}, false
	}
	return Zone{Current: cur, Target: target}, true
}

// matchDuty returns the heater duty rounded to an integer, or nil.
func matchDuty(rx *regexp.Regexp, line string) *int {
	m := rx.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	v, ok := parseFloat(m[1])
	if !ok {
		return nil
	}
	d := int(v + 0.5)
	if v < 0 {
		d = int(v - 0.5)
	}
	return &d
}

// matchMinutes parses "<h>h <m>m" or "<m>m" into total minutes, or nil
// when the value is malformed or above maxMinutes.
func matchMinutes(rx *regexp.Regexp, line string) *int {
	m := rx.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil || minutes > maxMinutes {
		return nil
	}
	if m[1] != "" {
		hours, err := strconv.Atoi(m[1])
		if err != nil || hours > (maxMinutes-minutes)/60 {
			return nil
		}
		minutes += hours * 60
	}
	return &minutes
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
