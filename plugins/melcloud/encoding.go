package melcloud

import "strings"

// Mode is the operation mode of a unit.
type Mode string

const (
	ModeUnknown Mode = ""
	ModeHeat    Mode = "Heat"
	ModeCool    Mode = "Cool"
	ModeAuto    Mode = "Auto"
	ModeDry     Mode = "Dry"
	ModeFan     Mode = "Fan"
)

// ParseMode maps the operation mode tokens the API uses onto Mode.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "heat":
		return ModeHeat
	case "cool":
		return ModeCool
	case "auto", "automatic":
		return ModeAuto
	case "dry":
		return ModeDry
	case "fan", "fanonly", "vent":
		return ModeFan
	default:
		return ModeUnknown
	}
}

// FanSpeed is the logical fan speed. The API reports it either as a word
// ("Three") or as a digit ("3").
type FanSpeed int

const (
	FanSpeedAuto FanSpeed = iota
	FanSpeedOne
	FanSpeedTwo
	FanSpeedThree
	FanSpeedFour
	FanSpeedFive
)

var fanSpeedWords = [...]string{"Auto", "One", "Two", "Three", "Four", "Five"}

// ParseFanSpeed normalises both encodings.
func ParseFanSpeed(raw string) (FanSpeed, bool) {
	raw = strings.TrimSpace(raw)
	for i, word := range fanSpeedWords {
		if strings.EqualFold(raw, word) || raw == string(rune('0'+i)) {
			return FanSpeed(i), true
		}
	}
	return FanSpeedAuto, false
}

// String is the word form the command endpoint expects.
func (f FanSpeed) String() string {
	if f < FanSpeedAuto || f > FanSpeedFive {
		return fanSpeedWords[FanSpeedAuto]
	}
	return fanSpeedWords[f]
}

// VanePosition is the logical vertical vane position.
type VanePosition int

const (
	VaneAuto VanePosition = iota
	VaneOne
	VaneTwo
	VaneThree
	VaneFour
	VaneFive
	VaneSwing VanePosition = 7
)

var vaneWords = map[VanePosition]string{
	VaneAuto:  "Auto",
	VaneOne:   "One",
	VaneTwo:   "Two",
	VaneThree: "Three",
	VaneFour:  "Four",
	VaneFive:  "Five",
	VaneSwing: "Swing",
}

var vaneTokens = map[string]VanePosition{
	"0": VaneAuto, "auto": VaneAuto,
	"1": VaneOne, "one": VaneOne,
	"2": VaneTwo, "two": VaneTwo,
	"3": VaneThree, "three": VaneThree,
	"4": VaneFour, "four": VaneFour,
	"5": VaneFive, "five": VaneFive,
	"6": VaneSwing, "six": VaneSwing,
	"7": VaneSwing, "swing": VaneSwing,
}

// ParseVanePosition normalises both encodings.
func ParseVanePosition(raw string) (VanePosition, bool) {
	v, ok := vaneTokens[strings.ToLower(strings.TrimSpace(raw))]
	return v, ok
}

func (v VanePosition) String() string {
	if word, ok := vaneWords[v]; ok {
		return word
	}
	return vaneWords[VaneAuto]
}
